package operations

import (
	"context"
	"fmt"

	"github.com/netfleet/upgrade-orchestrator/internal/applet"
	"github.com/netfleet/upgrade-orchestrator/internal/constants"
	"github.com/netfleet/upgrade-orchestrator/internal/models"
	"github.com/netfleet/upgrade-orchestrator/internal/transport"
	"github.com/netfleet/upgrade-orchestrator/internal/verify"
)

// runUpgradeAuto drives the full automatic flow: eligibility and version
// checks, flash provisioning, image download, and pushing the install applet
// (scheduled via cron when a schedule time is supplied, otherwise left for a
// manual trigger).
func (d *Dispatcher) runUpgradeAuto(ctx context.Context, session transport.DeviceSession,
	req models.OperationRequest, log *taskLogger) error {

	log.Log(fmt.Sprintf("Starting upgrade for %s...", req.DeviceName))

	driver := applet.NewDriver(session, d.imageFilename(req), d.cfg.Upgrade.ImageSize, log.Log, d.logger)

	proceed, err := d.checkEligibility(ctx, session, req, log)
	if err != nil {
		return err
	}
	if !proceed {
		return nil
	}

	if d.imageFilename(req) == "" {
		return fmt.Errorf("target image filename is not configured")
	}

	// provisioning: make room in flash or stop for an operator
	log.Log("Checking free space...")
	spaceOK, err := driver.FreeSpace(ctx, d.cfg.Upgrade.FlashThreshold, 0)
	if err != nil {
		return err
	}
	log.Log("Checking file exist...")
	fileOK, err := driver.ImageInFlash(ctx)
	if err != nil {
		return err
	}

	switch {
	case spaceOK:
		log.Log("Free space available.")
	case fileOK:
		// space is low yet the image is already there; the flash content is
		// not ours to guess about
		return fmt.Errorf("%w: flash space low but target image present", ErrAmbiguousState)
	default:
		log.Log("Not enough free space for upgrade. Clearing flash...")
		if err := driver.CleanFlash(ctx); err != nil {
			return fmt.Errorf("flash cleanup failed: %w", err)
		}

		spaceOK, err = driver.FreeSpace(ctx, d.cfg.Upgrade.FlashThreshold, 0)
		if err != nil {
			return err
		}
		if !spaceOK {
			return fmt.Errorf("%w: flash cleanup did not free enough space", ErrAmbiguousState)
		}
		log.Log("Flash cleared successfully.")
	}

	// transfer phase
	if err := driver.ConfigureHTTPSource(ctx, req.IPAddress); err != nil {
		return err
	}
	log.Log("HTTP client source interface set successfully.")

	if err := driver.SaveConfig(ctx); err != nil {
		return err
	}
	log.Log("Running configuration saved successfully.")

	if err := driver.WaitAppletSettled(ctx, constants.AppletDownload); err != nil {
		return fmt.Errorf("download applet still pending: %w", err)
	}

	if !fileOK {
		if err := driver.PushDownloadApplet(ctx, d.cfg.FileServerURL(req.Region)); err != nil {
			return err
		}
		log.Log("IOS download applet created successfully.")

		if err := driver.TriggerDownload(ctx); err != nil {
			return err
		}
		log.Log("IOS download applet run successfully.")

		if err := driver.WaitForDownload(ctx); err != nil {
			return err
		}
		log.Log("IOS image is downloading.")
	} else {
		log.Log("File exists in flash, skipping download.")
	}

	// install applet, optionally on a cron schedule
	schedule := ""
	if req.ScheduleTime != "" {
		schedule, err = verify.ToAppletCron(req.ScheduleTime)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrScheduleParse, err)
		}
	}

	if err := driver.PushInstallApplet(ctx, schedule); err != nil {
		return err
	}
	log.Log("IOS file install applet created successfully.")

	if err := driver.SaveConfig(ctx); err != nil {
		return err
	}
	log.Log("Running configuration saved successfully.")

	if schedule == "" {
		log.Log("Schedule time not provided. Manual trigger will be handled separately.")
		return nil
	}

	log.Log(fmt.Sprintf("Applet scheduled for: %s", req.ScheduleTime))
	log.Log(fmt.Sprintf("IOS file install applet scheduled for %s.", req.DeviceName))
	return nil
}

// checkEligibility verifies the device model and compares the running
// version against the target. It returns proceed=false (and no error) when
// the device already runs the target version.
func (d *Dispatcher) checkEligibility(ctx context.Context, session transport.DeviceSession,
	req models.OperationRequest, log *taskLogger) (bool, error) {

	log.Log("Checking current version...")
	result, err := session.Run(ctx, "show version")
	if err != nil {
		return false, err
	}
	facts := verify.ParseShowVersion(result.Raw)

	if !verify.IsTargetModel(facts.Chassis) {
		return false, fmt.Errorf("%w: chassis %q", ErrNotEligible, facts.Chassis)
	}
	log.Log("Device is a Catalyst 9K series.")

	current, ok := verify.ParseVersion(facts.Version)
	if !ok {
		return false, ErrVersionUnavailable
	}
	target, ok := verify.ParseVersion(d.targetVersion(req))
	if !ok {
		return false, fmt.Errorf("target version %q is not parseable", d.targetVersion(req))
	}

	if !verify.UpgradeRequired(current, target) {
		log.Log("Device is already running the target version.")
		return false, nil
	}
	log.Log("Upgrade is required.")
	return true, nil
}
