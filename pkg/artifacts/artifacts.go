// Package artifacts stores per-device precheck snapshots as named,
// timestamped text files and serves listings and diffs over them.
package artifacts

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/pmezard/go-difflib/difflib"
	"github.com/rs/zerolog"

	"github.com/netfleet/upgrade-orchestrator/pkg/file"
)

// Store writes and reads precheck artifacts under a single directory, with an
// optional object storage mirror.
type Store struct {
	dir        string
	fileClient file.FileOperations
	mirror     *Mirror // nil when object storage is not configured
	logger     zerolog.Logger
	now        func() time.Time
}

// NewStore creates an artifact store rooted at dir. mirror may be nil.
func NewStore(dir string, fileClient file.FileOperations, mirror *Mirror, logger zerolog.Logger) *Store {
	return &Store{
		dir:        dir,
		fileClient: fileClient,
		mirror:     mirror,
		logger:     logger,
		now:        time.Now,
	}
}

// WritePrecheck stores one snapshot for the device and returns the generated
// filename ({device}_{YYYYMMDD_HHMMSS}.txt).
func (s *Store) WritePrecheck(ctx context.Context, deviceName, content string) (string, error) {
	filename := fmt.Sprintf("%s_%s.txt", deviceName, s.now().Format("20060102_150405"))

	if err := s.fileClient.WriteFile(filepath.Join(s.dir, filename), content); err != nil {
		return "", fmt.Errorf("failed to write precheck artifact: %w", err)
	}

	if s.mirror != nil {
		if err := s.mirror.Upload(ctx, filename, content); err != nil {
			// mirror is best effort; the local artifact is the source of truth
			s.logger.Warn().Err(err).Str("file", filename).Msg("Failed to mirror precheck artifact")
		}
	}

	return filename, nil
}

// Devices returns the distinct device names that have stored artifacts.
func (s *Store) Devices() ([]string, error) {
	files, err := s.fileClient.ListFiles(s.dir)
	if err != nil {
		return nil, err
	}

	seen := map[string]struct{}{}
	var devices []string
	for _, name := range files {
		device, ok := deviceFromFilename(name)
		if !ok {
			continue
		}
		if _, dup := seen[device]; !dup {
			seen[device] = struct{}{}
			devices = append(devices, device)
		}
	}
	sort.Strings(devices)
	return devices, nil
}

// List returns the artifact filenames for a device, matched
// case-insensitively, newest first.
func (s *Store) List(deviceName string) ([]string, error) {
	files, err := s.fileClient.ListFiles(s.dir)
	if err != nil {
		return nil, err
	}

	prefix := strings.ToLower(deviceName) + "_"
	var matches []string
	for _, name := range files {
		if strings.HasSuffix(name, ".txt") && strings.HasPrefix(strings.ToLower(name), prefix) {
			matches = append(matches, name)
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(matches)))
	return matches, nil
}

// Read returns the content of one stored artifact.
func (s *Store) Read(filename string) (string, error) {
	return s.fileClient.ReadFile(filepath.Join(s.dir, filepath.Base(filename)))
}

// Diff returns a unified diff between two stored artifacts.
func (s *Store) Diff(file1, file2 string) (string, error) {
	content1, err := s.Read(file1)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", file1, err)
	}
	content2, err := s.Read(file2)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", file2, err)
	}

	diff := difflib.UnifiedDiff{
		A:        difflib.SplitLines(content1),
		B:        difflib.SplitLines(content2),
		FromFile: file1,
		ToFile:   file2,
		Context:  3,
	}
	return difflib.GetUnifiedDiffString(diff)
}

// deviceFromFilename recovers the device name from
// {device}_{YYYYMMDD}_{HHMMSS}.txt; device names may themselves contain
// underscores, so the two timestamp segments are split off from the right.
func deviceFromFilename(name string) (string, bool) {
	if !strings.HasSuffix(name, ".txt") {
		return "", false
	}
	base := strings.TrimSuffix(name, ".txt")

	parts := strings.Split(base, "_")
	if len(parts) < 3 {
		return "", false
	}
	return strings.Join(parts[:len(parts)-2], "_"), true
}
