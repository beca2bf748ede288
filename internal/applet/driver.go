// Package applet drives the on-device install protocol: it renders and pushes
// event-driven applets, triggers them, and polls device-reported state until
// each step settles or its bounded retry ceiling is reached.
package applet

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/netfleet/upgrade-orchestrator/internal/constants"
	"github.com/netfleet/upgrade-orchestrator/internal/transport"
	"github.com/netfleet/upgrade-orchestrator/internal/verify"
)

// LogFunc streams one progress line into the operation's task log.
type LogFunc func(string)

// Driver runs the install protocol steps over one device session.
type Driver struct {
	session  transport.DeviceSession
	log      LogFunc
	logger   zerolog.Logger
	policy   Policy
	filename string
	filesize int64
}

// NewDriver creates a driver bound to an open session. filename and filesize
// describe the target firmware image.
func NewDriver(session transport.DeviceSession, filename string, filesize int64, log LogFunc, logger zerolog.Logger) *Driver {
	return &Driver{
		session:  session,
		log:      log,
		logger:   logger,
		policy:   DefaultPolicy(),
		filename: filename,
		filesize: filesize,
	}
}

// SaveConfig persists the running configuration.
func (d *Driver) SaveConfig(ctx context.Context) error {
	result, err := d.session.Run(ctx, "write memory")
	if err != nil {
		return err
	}
	if result.Failed {
		return fmt.Errorf("failed to save running configuration")
	}
	return nil
}

// AppletActive reports whether the named applet is currently pending or
// running on the device.
func (d *Driver) AppletActive(ctx context.Context, name string) (bool, error) {
	result, err := d.session.Run(ctx, "show event manager policy active | i "+name)
	if err != nil {
		return false, err
	}
	return strings.Contains(result.Raw, "pend") || strings.Contains(result.Raw, "running"), nil
}

// WaitAppletSettled polls until the named applet is no longer pending or
// running, bounded by the driver's retry policy.
func (d *Driver) WaitAppletSettled(ctx context.Context, name string) error {
	return Poll(ctx, d.policy, func(ctx context.Context) (bool, error) {
		active, err := d.AppletActive(ctx, name)
		if err != nil {
			return false, err
		}
		if active {
			d.log(fmt.Sprintf("%s applet is still running.", name))
			return false, nil
		}
		return true, nil
	})
}

// CleanFlash pushes and triggers the flash cleanup applet, then waits for it
// to settle.
func (d *Driver) CleanFlash(ctx context.Context) error {
	lines, err := renderLines(cleanFlashTemplate, nil)
	if err != nil {
		return fmt.Errorf("failed to render clean flash applet: %w", err)
	}
	if err := d.session.RunConfig(ctx, lines, true); err != nil {
		return fmt.Errorf("failed to create clean flash applet: %w", err)
	}
	d.log("Flash cleanup applet created successfully.")

	if _, err := d.session.Run(ctx, "event manager run "+constants.AppletCleanFlash); err != nil {
		return fmt.Errorf("failed to run clean flash applet: %w", err)
	}
	d.log("Flash cleanup applet triggered.")

	return d.WaitAppletSettled(ctx, constants.AppletCleanFlash)
}

// FreeSpace re-reads the device filesystems and checks free flash against the
// threshold. pendingSize is subtracted when checking post-download headroom.
func (d *Driver) FreeSpace(ctx context.Context, threshold, pendingSize int64) (bool, error) {
	result, err := d.session.Run(ctx, "show file systems")
	if err != nil {
		return false, err
	}
	return verify.FlashFreeSpace(verify.ParseFileSystems(result.Raw), threshold, pendingSize), nil
}

// ImageInFlash checks whether the target image already sits in flash with the
// expected size.
func (d *Driver) ImageInFlash(ctx context.Context) (bool, error) {
	result, err := d.session.Run(ctx, "dir flash:"+d.filename)
	if err != nil {
		return false, err
	}
	listing := verify.ParseDirListing(result.Raw)
	return verify.FileExists(listing, d.filename, d.filesize), nil
}

// ConfigureHTTPSource derives the HTTP client source interface, preferring
// the TACACS source interface and falling back to the interface that carries
// the device's own management address, then applies it.
func (d *Driver) ConfigureHTTPSource(ctx context.Context, managementIP string) error {
	sourceInterface := ""

	result, err := d.session.Run(ctx, "show running-config | i ip tacacs source-interface")
	if err != nil {
		return err
	}
	if !result.Failed {
		sourceInterface = verify.ParseTacacsSourceInterface(result.Raw)
	}

	if sourceInterface == "" {
		result, err := d.session.Run(ctx, "show ip interface brief")
		if err != nil {
			return err
		}
		sourceInterface = verify.ParseInterfaceByIP(result.Raw, managementIP)
	}

	if sourceInterface == "" {
		return fmt.Errorf("no usable HTTP client source interface found")
	}

	lines := []string{
		"file prompt quiet",
		"ip http client source-interface " + sourceInterface,
	}
	if err := d.session.RunConfig(ctx, lines, true); err != nil {
		return fmt.Errorf("failed to set HTTP client source interface: %w", err)
	}

	d.logger.Debug().Str("interface", sourceInterface).Msg("HTTP client source interface configured")
	return nil
}

// PushDownloadApplet renders the image download applet against the given file
// server and pushes it to the device.
func (d *Driver) PushDownloadApplet(ctx context.Context, fileServerURL string) error {
	lines, err := renderLines(downloadTemplate, downloadParams{
		FileServerURL: strings.TrimRight(fileServerURL, "/"),
		Filename:      d.filename,
	})
	if err != nil {
		return fmt.Errorf("failed to render download applet: %w", err)
	}
	if err := d.session.RunConfig(ctx, lines, true); err != nil {
		return fmt.Errorf("failed to create download applet: %w", err)
	}
	return nil
}

// TriggerDownload runs the download applet.
func (d *Driver) TriggerDownload(ctx context.Context) error {
	result, err := d.session.Run(ctx, "event manager run "+constants.AppletDownload)
	if err != nil {
		return err
	}
	if result.Failed {
		return fmt.Errorf("failed to run download applet")
	}
	return nil
}

// WaitForDownload polls the target file's reported size. The download counts
// as progressing while the size grows between consecutive samples; it is done
// once the size reaches the expected total. Stagnation through the whole
// retry ceiling is a failure.
func (d *Driver) WaitForDownload(ctx context.Context) error {
	var previous, current int64

	err := Poll(ctx, d.policy, func(ctx context.Context) (bool, error) {
		result, err := d.session.Run(ctx, "dir flash:"+d.filename)
		if err != nil {
			return false, err
		}

		listing := verify.ParseDirListing(result.Raw)
		previous = current
		current = 0
		for _, f := range listing.Files {
			if f.Name == d.filename {
				current = f.Size
			}
		}
		d.log(fmt.Sprintf("Image size on flash: %d bytes (previous sample: %d).", current, previous))

		if current >= d.filesize {
			return true, nil
		}
		if current > 0 && previous > 0 && current > previous {
			return true, nil
		}
		return false, nil
	})
	if err != nil {
		return fmt.Errorf("image download did not progress: %w", err)
	}
	return nil
}

// PushInstallApplet renders and pushes the install applet. A non-empty
// schedule arms a cron timer; an empty schedule leaves the applet for a
// manual trigger.
func (d *Driver) PushInstallApplet(ctx context.Context, schedule string) error {
	lines, err := renderLines(installTemplate, installParams{
		Filename: d.filename,
		Schedule: schedule,
	})
	if err != nil {
		return fmt.Errorf("failed to render install applet: %w", err)
	}
	if err := d.session.RunConfig(ctx, lines, true); err != nil {
		return fmt.Errorf("failed to create install applet: %w", err)
	}
	return nil
}

// TriggerInstall runs the install applet immediately.
func (d *Driver) TriggerInstall(ctx context.Context) error {
	result, err := d.session.Run(ctx, "event manager run "+constants.AppletInstall)
	if err != nil {
		return err
	}
	if result.Failed {
		return fmt.Errorf("failed to run install applet")
	}
	return nil
}

// RemoveInstallApplet deletes the scheduled install applet from the device.
func (d *Driver) RemoveInstallApplet(ctx context.Context) error {
	lines := []string{"no event manager applet " + constants.AppletInstall}
	if err := d.session.RunConfig(ctx, lines, true); err != nil {
		return fmt.Errorf("failed to remove install applet: %w", err)
	}
	return nil
}
