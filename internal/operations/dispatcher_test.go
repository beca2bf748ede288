package operations

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netfleet/upgrade-orchestrator/internal/config"
	"github.com/netfleet/upgrade-orchestrator/internal/constants"
	"github.com/netfleet/upgrade-orchestrator/internal/models"
	"github.com/netfleet/upgrade-orchestrator/internal/store"
	"github.com/netfleet/upgrade-orchestrator/internal/transport"
	"github.com/netfleet/upgrade-orchestrator/pkg/artifacts"
	"github.com/netfleet/upgrade-orchestrator/pkg/file"
)

// fakeSession replays canned output per command prefix and records everything
// that was executed.
type fakeSession struct {
	mu        sync.Mutex
	responses map[string]string
	commands  []string
	configs   [][]string
	closed    bool
}

func (f *fakeSession) Run(ctx context.Context, command string) (transport.CommandResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, command)

	for prefix, raw := range f.responses {
		if strings.HasPrefix(command, prefix) {
			return transport.CommandResult{Command: command, Raw: raw}, nil
		}
	}
	return transport.CommandResult{Command: command, Raw: ""}, nil
}

func (f *fakeSession) RunConfig(ctx context.Context, lines []string, stopOnFailed bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.configs = append(f.configs, lines)
	return nil
}

func (f *fakeSession) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeSession) ran(prefix string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.commands {
		if strings.HasPrefix(c, prefix) {
			return true
		}
	}
	return false
}

type fakeDialer struct {
	session *fakeSession
	err     error
	opened  int
}

func (f *fakeDialer) Open(ctx context.Context, params models.ConnectionParameters) (transport.DeviceSession, error) {
	f.opened++
	if f.err != nil {
		return nil, f.err
	}
	return f.session, nil
}

type fakeSink struct {
	mu       sync.Mutex
	payloads []map[string]any
}

func (f *fakeSink) Send(ctx context.Context, payload map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads = append(f.payloads, payload)
	return nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{}
	cfg.Device.Username = "svc-upgrade"
	cfg.Device.Password = "secret"
	cfg.Device.EnablePassword = "enable-secret"
	cfg.Upgrade.TargetVersion = "17.12.5"
	cfg.Upgrade.ImageFilename = "cat9k_iosxe.17.12.05.SPA.bin"
	cfg.Upgrade.ImageSize = 1312262395
	cfg.Upgrade.FlashThreshold = 7516192768
	cfg.Upgrade.DefaultFileServer = "http://files.example.net/ios"
	return cfg
}

func testHarness(t *testing.T, session *fakeSession) (*Dispatcher, *store.Store, *fakeSink, string) {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "tasks.sqlite"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	artifactDir := t.TempDir()
	artifactStore := artifacts.NewStore(artifactDir, file.NewFileService(), nil, zerolog.Nop())

	sink := &fakeSink{}
	dialer := &fakeDialer{session: session}
	dispatcher := NewDispatcher(testConfig(t), dialer, st, sink, artifactStore, zerolog.Nop())
	return dispatcher, st, sink, artifactDir
}

func submitAndRun(t *testing.T, dispatcher *Dispatcher, st *store.Store, req models.OperationRequest) models.TaskRecord {
	t.Helper()

	_, err := st.TryEnqueue(req.DeviceName, req.Operation)
	require.NoError(t, err)
	task, err := st.CreateTask(req.DeviceName)
	require.NoError(t, err)

	dispatcher.Execute(context.Background(), task.TaskID, req)

	got, err := st.Task(task.TaskID)
	require.NoError(t, err)
	return got
}

const showVersionC9300 = `Cisco IOS XE Software, Version 16.12.08
Cisco IOS Software [Gibraltar], Catalyst L3 Switch Software (CAT9K_IOSXE), Version 16.12.8, RELEASE SOFTWARE (fc2)

System image file is "flash:packages.conf"

cisco C9300-48U (X86) processor with 1338934K/6147K bytes of memory.
`

func TestExecute_Precheck_EndToEnd(t *testing.T) {
	session := &fakeSession{responses: map[string]string{
		"show version": showVersionC9300,
		"show ip arp":  "Internet  10.20.30.40  -  0011.2233.4455  ARPA  Vlan100",
	}}
	dispatcher, st, _, _ := testHarness(t, session)

	req := models.OperationRequest{
		DeviceName: "sw-core-01",
		Operation:  constants.OperationPrecheck,
		IPAddress:  "10.20.30.40",
		Platform:   "ios",
	}
	got := submitAndRun(t, dispatcher, st, req)

	assert.Equal(t, constants.TaskStatusCompleted, got.Status)
	assert.Contains(t, got.LogOutput, "Connected to sw-core-01.")
	assert.Contains(t, got.LogOutput, "Precheck completed successfully.")
	assert.True(t, session.closed, "session is closed after the run")
	assert.True(t, session.ran("show running-config"))

	// the queue entry is released so the device can run again
	_, err := st.TryEnqueue("SW-CORE-01", constants.OperationPrecheck)
	assert.NoError(t, err)

	// artifact exists and carries the device name
	devices, err := dispatcher.artifacts.Devices()
	require.NoError(t, err)
	assert.Equal(t, []string{"sw-core-01"}, devices)

	files, err := dispatcher.artifacts.List("sw-core-01")
	require.NoError(t, err)
	require.Len(t, files, 1)

	content, err := dispatcher.artifacts.Read(files[0])
	require.NoError(t, err)
	assert.Contains(t, content, "! Device: sw-core-01")
	assert.Contains(t, content, "! Command: show version")
}

func TestExecute_Refresh_ForwardsRecordAndPhase(t *testing.T) {
	session := &fakeSession{responses: map[string]string{
		"show version":      showVersionC9300,
		"show file systems": showFileSystemsHealthy,
		"dir flash:":        dirListingWithImage,
	}}
	dispatcher, st, sink, _ := testHarness(t, session)

	req := models.OperationRequest{
		DeviceName: "sw-core-01",
		Operation:  constants.OperationRefresh,
		IPAddress:  "10.20.30.40",
		Platform:   "ios",
		Site:       "DC1",
		Region:     "EMEA",
	}
	got := submitAndRun(t, dispatcher, st, req)

	assert.Equal(t, constants.TaskStatusCompleted, got.Status)

	require.Len(t, sink.payloads, 2)
	assert.Equal(t, constants.TrackingActionRecord, sink.payloads[0]["action"])
	assert.Equal(t, "sw-core-01", sink.payloads[0]["hostname"])
	assert.Equal(t, "16.12.08", sink.payloads[0]["software_version"])
	assert.Equal(t, "Install Mode", sink.payloads[0]["boot_mode"])

	// image staged and space available, upgrade required -> ready phase
	assert.Equal(t, constants.PhaseReady, sink.payloads[1]["action"])
}

const showFileSystemsHealthy = `File Systems:
*  11353194496    8029822976      disk     rw   flash: flash-1:
    1651314688    1232220160      disk     rw   crashinfo:
`

const dirListingWithImage = `Directory of flash:/
475632  -rw-        1312262395  Jul 10 2025 11:22:33 +00:00  cat9k_iosxe.17.12.05.SPA.bin
11353194496 bytes total (8029822976 bytes free)
`

func TestExecute_ConnectionFailure(t *testing.T) {
	dispatcher, st, _, _ := testHarness(t, &fakeSession{})
	dispatcher.dialer = &fakeDialer{err: errors.New("dial tcp: i/o timeout")}

	req := models.OperationRequest{
		DeviceName: "sw-core-01",
		Operation:  constants.OperationPrecheck,
		IPAddress:  "10.20.30.40",
		Platform:   "ios",
	}
	got := submitAndRun(t, dispatcher, st, req)

	assert.Equal(t, constants.TaskStatusFailed, got.Status)
	assert.Contains(t, got.LogOutput, "Connection failed")
	assert.Contains(t, got.LogOutput, "i/o timeout")
}

func TestExecute_UnsupportedPlatform_NoDial(t *testing.T) {
	dialer := &fakeDialer{session: &fakeSession{}}
	dispatcher, st, _, _ := testHarness(t, dialer.session)
	dispatcher.dialer = dialer

	req := models.OperationRequest{
		DeviceName: "sw-core-01",
		Operation:  constants.OperationPrecheck,
		IPAddress:  "10.20.30.40",
		Platform:   "junos",
	}
	got := submitAndRun(t, dispatcher, st, req)

	assert.Equal(t, constants.TaskStatusFailed, got.Status)
	assert.Contains(t, got.LogOutput, "unsupported platform")
	assert.Zero(t, dialer.opened, "no session is attempted on a configuration error")
}

func TestExecute_ManualInstall_MissingImage(t *testing.T) {
	session := &fakeSession{responses: map[string]string{
		"show version":      showVersionC9300,
		"show file systems": showFileSystemsHealthy,
		"dir flash:":        "%Error opening flash:/cat9k_iosxe.17.12.05.SPA.bin (No such file or directory)",
	}}
	dispatcher, st, _, _ := testHarness(t, session)

	req := models.OperationRequest{
		DeviceName: "sw-core-01",
		Operation:  constants.OperationUpgradeManual,
		IPAddress:  "10.20.30.40",
		Platform:   "ios",
	}
	got := submitAndRun(t, dispatcher, st, req)

	assert.Equal(t, constants.TaskStatusFailed, got.Status)
	assert.Contains(t, got.LogOutput, ErrImageMissing.Error())
	assert.Empty(t, session.configs, "no device mutation before preconditions hold")
}

func TestExecute_UpgradeAuto_AlreadyOnTarget(t *testing.T) {
	current := strings.ReplaceAll(showVersionC9300, "16.12.8", "17.12.5")
	current = strings.ReplaceAll(current, "16.12.08", "17.12.05")
	session := &fakeSession{responses: map[string]string{"show version": current}}
	dispatcher, st, _, _ := testHarness(t, session)

	req := models.OperationRequest{
		DeviceName: "sw-core-01",
		Operation:  constants.OperationUpgradeAuto,
		IPAddress:  "10.20.30.40",
		Platform:   "ios",
	}
	got := submitAndRun(t, dispatcher, st, req)

	assert.Equal(t, constants.TaskStatusCompleted, got.Status)
	assert.Contains(t, got.LogOutput, "already running the target version")
	assert.Empty(t, session.configs)
}

func TestExecute_UpgradeAuto_IneligibleModel(t *testing.T) {
	old := strings.ReplaceAll(showVersionC9300, "C9300-48U", "C3850-48P")
	session := &fakeSession{responses: map[string]string{"show version": old}}
	dispatcher, st, _, _ := testHarness(t, session)

	req := models.OperationRequest{
		DeviceName: "sw-old-01",
		Operation:  constants.OperationUpgradeAuto,
		IPAddress:  "10.20.30.41",
		Platform:   "ios",
	}
	got := submitAndRun(t, dispatcher, st, req)

	assert.Equal(t, constants.TaskStatusFailed, got.Status)
	assert.Contains(t, got.LogOutput, ErrNotEligible.Error())
}

func TestExecute_CancelSchedule(t *testing.T) {
	session := &fakeSession{responses: map[string]string{}}
	dispatcher, st, _, _ := testHarness(t, session)

	req := models.OperationRequest{
		DeviceName: "sw-core-01",
		Operation:  constants.OperationCancelSchedule,
		IPAddress:  "10.20.30.40",
		Platform:   "ios",
	}
	got := submitAndRun(t, dispatcher, st, req)

	assert.Equal(t, constants.TaskStatusCompleted, got.Status)
	assert.Contains(t, got.LogOutput, "Schedule cancelled for sw-core-01.")

	require.NotEmpty(t, session.configs)
	assert.Contains(t, session.configs[0], "no event manager applet "+constants.AppletInstall)
}

func TestTaskLogger_PreservesOrder(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "tasks.sqlite"), zerolog.Nop())
	require.NoError(t, err)
	defer st.Close()

	task, err := st.CreateTask("sw-core-01")
	require.NoError(t, err)

	log := newTaskLogger(task.TaskID, st, zerolog.Nop())
	for i := 0; i < 20; i++ {
		log.Log(fmt.Sprintf("line %02d", i))
	}
	joined := log.CloseAndJoin()

	lines := strings.Split(joined, "\n")
	require.Len(t, lines, 20)
	for i, line := range lines {
		assert.Equal(t, fmt.Sprintf("line %02d", i), line)
	}

	got, err := st.Task(task.TaskID)
	require.NoError(t, err)
	assert.Contains(t, got.LogOutput, "line 00\nline 01")
}
