package operations

import (
	"context"
	"fmt"

	"github.com/netfleet/upgrade-orchestrator/internal/applet"
	"github.com/netfleet/upgrade-orchestrator/internal/constants"
	"github.com/netfleet/upgrade-orchestrator/internal/models"
	"github.com/netfleet/upgrade-orchestrator/internal/transport"
)

// runUpgradeManual triggers the install immediately. Unlike the automatic
// flow it never remediates: the image must already be staged and flash must
// already have room, otherwise the run fails and leaves the device untouched.
func (d *Dispatcher) runUpgradeManual(ctx context.Context, session transport.DeviceSession,
	req models.OperationRequest, log *taskLogger) error {

	log.Log(fmt.Sprintf("Starting manual install for %s...", req.DeviceName))

	driver := applet.NewDriver(session, d.imageFilename(req), d.cfg.Upgrade.ImageSize, log.Log, d.logger)

	proceed, err := d.checkEligibility(ctx, session, req, log)
	if err != nil {
		return err
	}
	if !proceed {
		return nil
	}

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
	if !fileOK {
		return ErrImageMissing
	}
	if !spaceOK {
		return ErrInsufficientSpace
	}
	log.Log("Image staged and flash space verified.")

	if err := driver.SaveConfig(ctx); err != nil {
		return err
	}
	log.Log("Running configuration saved successfully.")

	active, err := driver.AppletActive(ctx, constants.AppletInstall)
	if err != nil {
		return err
	}
	if active {
		return fmt.Errorf("%w: install applet already running", ErrAmbiguousState)
	}

	if err := driver.PushInstallApplet(ctx, ""); err != nil {
		return err
	}
	log.Log("IOS file install applet created successfully.")

	if err := driver.SaveConfig(ctx); err != nil {
		return err
	}

	if err := driver.TriggerInstall(ctx); err != nil {
		return err
	}
	log.Log("IOS file install applet run successfully.")

	if err := driver.WaitAppletSettled(ctx, constants.AppletInstall); err != nil {
		return fmt.Errorf("install applet did not settle: %w", err)
	}

	log.Log("Rebooting device...")
	return nil
}
