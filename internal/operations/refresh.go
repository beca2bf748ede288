package operations

import (
	"context"
	"fmt"
	"strings"

	"github.com/netfleet/upgrade-orchestrator/internal/applet"
	"github.com/netfleet/upgrade-orchestrator/internal/constants"
	"github.com/netfleet/upgrade-orchestrator/internal/models"
	"github.com/netfleet/upgrade-orchestrator/internal/transport"
	"github.com/netfleet/upgrade-orchestrator/internal/verify"
)

// runRefresh collects device facts, forwards them to the tracking sink and
// classifies the device's upgrade readiness phase.
func (d *Dispatcher) runRefresh(ctx context.Context, session transport.DeviceSession,
	req models.OperationRequest, log *taskLogger) error {

	log.Log(fmt.Sprintf("Starting refresh for %s...", req.DeviceName))
	log.Log("Collecting device information...")

	result, err := session.Run(ctx, "show version")
	if err != nil {
		return fmt.Errorf("failed to collect device information: %w", err)
	}
	facts := verify.ParseShowVersion(result.Raw)
	if facts.Version == "" {
		return ErrVersionUnavailable
	}

	bootMode := "Bundle Mode"
	if strings.Contains(facts.SystemImage, ".conf") {
		bootMode = "Install Mode"
	}

	payload := map[string]any{
		"action":           constants.TrackingActionRecord,
		"hostname":         req.DeviceName,
		"site":             req.Site,
		"region":           req.Region,
		"model":            facts.Chassis,
		"platform":         facts.OS,
		"ip_address":       req.IPAddress,
		"software_version": facts.Version,
		"boot_method":      facts.SystemImage,
		"boot_mode":        bootMode,
	}
	if err := d.tracker.Send(ctx, payload); err != nil {
		return fmt.Errorf("failed to forward device record: %w", err)
	}

	phase, err := d.classifyPhase(ctx, session, req, facts)
	if err != nil {
		return err
	}
	log.Log(fmt.Sprintf("Device classified as %s.", phase))

	if err := d.tracker.Send(ctx, map[string]any{"action": phase, "hostname": req.DeviceName}); err != nil {
		return fmt.Errorf("failed to forward phase update: %w", err)
	}

	log.Log("Device information collected successfully.")
	return nil
}

// classifyPhase computes the coarse upgrade readiness phase. The space and
// file checks are executed here explicitly; the classification never reads
// state another variant happened to leave behind.
func (d *Dispatcher) classifyPhase(ctx context.Context, session transport.DeviceSession,
	req models.OperationRequest, facts models.DeviceFacts) (string, error) {

	current, ok := verify.ParseVersion(facts.Version)
	if !ok {
		return "", ErrVersionUnavailable
	}
	target, ok := verify.ParseVersion(d.targetVersion(req))
	if !ok {
		return "", fmt.Errorf("target version %q is not parseable", d.targetVersion(req))
	}

	if !verify.UpgradeRequired(current, target) {
		return constants.PhaseCurrent, nil
	}

	driver := applet.NewDriver(session, d.imageFilename(req), d.cfg.Upgrade.ImageSize, log0, d.logger)

	spaceOK, err := driver.FreeSpace(ctx, d.cfg.Upgrade.FlashThreshold, 0)
	if err != nil {
		return "", err
	}
	fileOK, err := driver.ImageInFlash(ctx)
	if err != nil {
		return "", err
	}

	if spaceOK && fileOK {
		return constants.PhaseReady, nil
	}
	return constants.PhaseBlocked, nil
}

// log0 is a no-op log sink for drivers used outside an upgrade flow.
func log0(string) {}
