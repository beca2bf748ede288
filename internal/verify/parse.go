package verify

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/netfleet/upgrade-orchestrator/internal/models"
)

var (
	versionRe     = regexp.MustCompile(`Version\s+([^,\s]+)`)
	chassisRe     = regexp.MustCompile(`(?m)^cisco\s+(\S+)`)
	modelNumberRe = regexp.MustCompile(`Model Number\s+:\s+(\S+)`)
	systemImageRe = regexp.MustCompile(`System image file is "([^"]+)"`)
	dirEntryRe    = regexp.MustCompile(`^\s*(\d+)\s+([drwx-]+)\s+(\d+)\s+(.*?)\s+(\S+)\s*$`)
	dirTotalsRe   = regexp.MustCompile(`(\d+)\s+bytes total\s+\((\d+)\s+bytes free\)`)
)

// ParseShowVersion extracts the facts the orchestrator needs from raw
// "show version" output. Fields that cannot be located are left empty; the
// caller decides which ones are mandatory.
func ParseShowVersion(raw string) models.DeviceFacts {
	facts := models.DeviceFacts{}

	if m := versionRe.FindStringSubmatch(raw); m != nil {
		facts.Version = m[1]
	}
	if m := chassisRe.FindStringSubmatch(raw); m != nil {
		facts.Chassis = m[1]
	} else if m := modelNumberRe.FindStringSubmatch(raw); m != nil {
		facts.Chassis = m[1]
	}
	if m := systemImageRe.FindStringSubmatch(raw); m != nil {
		facts.SystemImage = m[1]
	}

	if strings.Contains(raw, "IOS-XE") || strings.Contains(raw, "IOS XE") {
		facts.OS = "IOS-XE"
	} else if strings.Contains(raw, "IOS") {
		facts.OS = "IOS"
	}

	return facts
}

// ParseFileSystems parses raw "show file systems" output into filesystem
// entries. Rows that do not carry numeric size/free columns (headers, network
// filesystems reporting "-") are skipped.
func ParseFileSystems(raw string) []models.FilesystemEntry {
	var entries []models.FilesystemEntry

	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "*"))
		fields := strings.Fields(line)
		if len(fields) < 5 {
			continue
		}

		size, err := strconv.ParseInt(fields[0], 10, 64)
		if err != nil {
			continue
		}
		free, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			continue
		}

		entries = append(entries, models.FilesystemEntry{
			Size:     size,
			Free:     free,
			Type:     fields[2],
			Prefixes: strings.Join(fields[4:], " "),
		})
	}

	return entries
}

// ParseDirListing parses raw "dir flash:..." output into a flash listing.
// A listing for a missing file yields no file entries, which downstream checks
// treat as a non-match rather than an error.
func ParseDirListing(raw string) models.FlashListing {
	listing := models.FlashListing{}

	for _, line := range strings.Split(raw, "\n") {
		if m := dirEntryRe.FindStringSubmatch(line); m != nil {
			size, err := strconv.ParseInt(m[3], 10, 64)
			if err != nil {
				continue
			}
			listing.Files = append(listing.Files, models.FlashFile{Name: m[5], Size: size})
			continue
		}
		if m := dirTotalsRe.FindStringSubmatch(line); m != nil {
			listing.BytesTotal, _ = strconv.ParseInt(m[1], 10, 64)
			listing.BytesFree, _ = strconv.ParseInt(m[2], 10, 64)
		}
	}

	return listing
}

// Interface name prefixes accepted as an HTTP client source interface.
var sourceInterfacePrefixes = []string{"Vlan", "Ten", "Twe", "Gig", "Port"}

// ParseTacacsSourceInterface extracts the interface name from a
// "ip tacacs source-interface <name>" running-config line.
func ParseTacacsSourceInterface(raw string) string {
	if !strings.Contains(raw, "ip tacacs source-interface") {
		return ""
	}
	fields := strings.Fields(raw)
	if len(fields) == 0 {
		return ""
	}

	name := fields[len(fields)-1]
	for _, prefix := range sourceInterfacePrefixes {
		if strings.HasPrefix(name, prefix) {
			return name
		}
	}
	return ""
}

// ParseInterfaceByIP scans "show ip interface brief" output for the interface
// holding the given address and returns its name, or "" when absent.
func ParseInterfaceByIP(raw, ip string) string {
	for _, line := range strings.Split(raw, "\n") {
		fields := strings.Fields(line)
		if len(fields) >= 2 && fields[1] == ip {
			return fields[0]
		}
	}
	return ""
}
