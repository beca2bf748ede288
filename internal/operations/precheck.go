package operations

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/netfleet/upgrade-orchestrator/internal/models"
	"github.com/netfleet/upgrade-orchestrator/internal/transport"
)

// precheckCommands is the fixed ordered list of read-only diagnostics
// captured before a change.
var precheckCommands = []string{
	"show file systems",
	"show boot",
	"show version",
	"show mac address-table",
	"show ip protocols",
	"show ip arp",
	"show cdp neighbors detail",
	"show ip interface brief",
	"show interface status",
	"show power inline",
	"show running-config",
}

// runPrecheck captures the diagnostic snapshot and stores it as a named,
// timestamped artifact. Only the artifact write itself is fatal after the
// commands succeed.
func (d *Dispatcher) runPrecheck(ctx context.Context, session transport.DeviceSession,
	req models.OperationRequest, log *taskLogger) error {

	log.Log(fmt.Sprintf("Starting precheck for %s...", req.DeviceName))

	var sb strings.Builder
	fmt.Fprintf(&sb, "! Device: %s\n! IP Address: %s\n! Time: %s\n\n",
		req.DeviceName, req.IPAddress, time.Now().Format("20060102_150405"))

	for _, command := range precheckCommands {
		log.Log(fmt.Sprintf("Running '%s'...", command))
		result, err := session.Run(ctx, command)
		if err != nil {
			return fmt.Errorf("command %q failed: %w", command, err)
		}
		sb.WriteString("==================================================================\n\n")
		fmt.Fprintf(&sb, "! Command: %s\n! Output:\n\n%s\n\n", command, result.Raw)
	}

	filename, err := d.artifacts.WritePrecheck(ctx, req.DeviceName, sb.String())
	if err != nil {
		return fmt.Errorf("error saving precheck output: %w", err)
	}
	log.Log(fmt.Sprintf("Output saved to %s", filename))

	log.Log("Precheck completed successfully.")
	return nil
}
