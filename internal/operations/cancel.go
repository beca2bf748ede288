package operations

import (
	"context"
	"fmt"

	"github.com/netfleet/upgrade-orchestrator/internal/applet"
	"github.com/netfleet/upgrade-orchestrator/internal/models"
	"github.com/netfleet/upgrade-orchestrator/internal/transport"
)

// runCancelSchedule removes the scheduled install applet from the device.
// Removing an applet that was never configured is a success: the goal state
// is "no install scheduled" and the device is already there.
func (d *Dispatcher) runCancelSchedule(ctx context.Context, session transport.DeviceSession,
	req models.OperationRequest, log *taskLogger) error {

	log.Log(fmt.Sprintf("Cancelling scheduled install on %s...", req.DeviceName))

	driver := applet.NewDriver(session, d.imageFilename(req), d.cfg.Upgrade.ImageSize, log.Log, d.logger)

	if err := driver.RemoveInstallApplet(ctx); err != nil {
		return err
	}
	log.Log("Scheduled install applet removed.")

	if err := driver.SaveConfig(ctx); err != nil {
		return err
	}
	log.Log("Running configuration saved successfully.")

	log.Log(fmt.Sprintf("Schedule cancelled for %s.", req.DeviceName))
	return nil
}
