package models

// VersionInfo is a software version split into its three numeric components.
type VersionInfo struct {
	Major int `json:"major"`
	Minor int `json:"minor"`
	Patch int `json:"patch"`
}

// DeviceFacts is the structured subset of "show version" output consumed by
// the refresh and upgrade flows.
type DeviceFacts struct {
	Version     string
	Chassis     string
	OS          string
	SystemImage string
}

// FilesystemEntry is one row of "show file systems".
type FilesystemEntry struct {
	Size     int64
	Free     int64
	Type     string
	Prefixes string
}

// FlashFile is one file entry from a flash directory listing.
type FlashFile struct {
	Name string
	Size int64
}

// FlashListing is the parsed output of "dir flash:<name>".
type FlashListing struct {
	Files      []FlashFile
	BytesTotal int64
	BytesFree  int64
}
