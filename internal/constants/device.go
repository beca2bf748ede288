package constants

import "time"

// Event manager applet names pushed to devices.
const (
	AppletCleanFlash = "CLEAN_FLASH"
	AppletDownload   = "CopyIOSImage"
	AppletInstall    = "InstallIOSImage"
)

// Polling defaults shared by every bounded device-side wait.
const (
	DefaultPollInterval = 20 * time.Second
	DefaultPollAttempts = 15 // ~5 minutes at the default interval
)

// Session transport defaults.
const (
	DefaultSocketTimeout     = 30 * time.Second
	DefaultCommandTimeout    = 60 * time.Second
	DefaultKeepAliveInterval = 30 * time.Second
)

// Upgrade defaults, overridable through configuration.
const (
	DefaultFlashThreshold = 7516192768 // ~7 GB of free flash required pre-download
	DefaultImageSize      = 1312262395
	DefaultTargetVersion  = "17.12.5"
)

// Upgrade readiness phases reported to the tracking sink after a refresh.
const (
	PhaseBlocked = "Phase_0"
	PhaseReady   = "Phase_1"
	PhaseCurrent = "Phase_2"

	TrackingActionRecord = "Device_Record"
)

// Chassis substrings eligible for the upgrade workflow.
var EligibleModels = []string{"C9300", "C9500"}
