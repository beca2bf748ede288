// Package verify holds the pure device verification helpers: model
// eligibility, version parsing and comparison, flash space and file checks,
// and schedule conversion. Nothing in this package performs I/O.
package verify

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/netfleet/upgrade-orchestrator/internal/constants"
	"github.com/netfleet/upgrade-orchestrator/internal/models"
)

var nonVersionChars = regexp.MustCompile(`[^\d.]`)

// IsTargetModel reports whether the reported chassis string matches one of the
// models eligible for the upgrade workflow.
func IsTargetModel(chassis string) bool {
	for _, model := range constants.EligibleModels {
		if strings.Contains(chassis, model) {
			return true
		}
	}
	return false
}

// ParseVersion splits a free-form software version string into its numeric
// components. Non-digit characters are stripped first, so "17.9.4a" parses as
// 17.9.4; missing minor/patch fields default to 0. An empty input yields the
// zero value and ok=false rather than an error.
func ParseVersion(version string) (models.VersionInfo, bool) {
	cleaned := nonVersionChars.ReplaceAllString(version, "")
	if cleaned == "" {
		return models.VersionInfo{}, false
	}

	fields := strings.Split(cleaned, ".")
	info := models.VersionInfo{Major: atoiOrZero(fields[0])}
	if len(fields) > 1 {
		info.Minor = atoiOrZero(fields[1])
	}
	if len(fields) > 2 {
		info.Patch = atoiOrZero(fields[2])
	}
	return info, true
}

func atoiOrZero(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}

// UpgradeRequired reports whether target is strictly newer than current,
// comparing (major, minor, patch) in that priority order. Equal or older
// targets never require an upgrade.
func UpgradeRequired(current, target models.VersionInfo) bool {
	return toSemver(target).GreaterThan(toSemver(current))
}

func toSemver(v models.VersionInfo) *semver.Version {
	return semver.New(uint64(v.Major), uint64(v.Minor), uint64(v.Patch), "", "")
}

// FlashFreeSpace reports whether the flash filesystem has at least threshold
// bytes free. pendingSize is subtracted from the threshold when checking
// post-download headroom (the image already occupies that much). A listing
// with no flash entry counts as a failed check, not as unknown.
func FlashFreeSpace(entries []models.FilesystemEntry, threshold, pendingSize int64) bool {
	required := threshold - pendingSize

	found := false
	for _, entry := range entries {
		if !strings.Contains(entry.Prefixes, "flash") {
			continue
		}
		found = true
		if entry.Free < required {
			return false
		}
	}
	return found
}

// FileExists reports whether the flash listing contains a file with exactly
// the given name and size. Any parse miss is a non-match.
func FileExists(listing models.FlashListing, name string, size int64) bool {
	if name == "" {
		return false
	}
	for _, f := range listing.Files {
		if f.Name == name && f.Size == size {
			return true
		}
	}
	return false
}
