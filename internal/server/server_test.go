package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netfleet/upgrade-orchestrator/internal/config"
	"github.com/netfleet/upgrade-orchestrator/internal/models"
	"github.com/netfleet/upgrade-orchestrator/internal/scheduler"
	"github.com/netfleet/upgrade-orchestrator/internal/store"
	"github.com/netfleet/upgrade-orchestrator/pkg/artifacts"
	"github.com/netfleet/upgrade-orchestrator/pkg/file"
)

const testAPIKey = "test-key"

// noopRunner lets intake tests run without opening device sessions.
type noopRunner struct{}

func (noopRunner) Execute(ctx context.Context, taskID string, req models.OperationRequest) {}

func newTestServer(t *testing.T) (*Server, *store.Store) {
	t.Helper()

	cfg := &config.Config{}
	cfg.Server.APIKey = testAPIKey

	st, err := store.Open(filepath.Join(t.TempDir(), "tasks.sqlite"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	artifactStore := artifacts.NewStore(t.TempDir(), file.NewFileService(), nil, zerolog.Nop())
	sched := scheduler.NewScheduler(noopRunner{}, 1, zerolog.Nop())

	return NewServer(cfg, st, sched, artifactStore, nil, zerolog.Nop()), st
}

func postUpgrade(t *testing.T, s *Server, key string, body any) *httptest.ResponseRecorder {
	t.Helper()

	payload, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/upgrade", bytes.NewReader(payload))
	if key != "" {
		req.Header.Set("access_token", key)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestUpgrade_DuplicateInOneBatch(t *testing.T) {
	s, _ := newTestServer(t)

	rec := postUpgrade(t, s, testAPIKey, map[string]any{
		"devices": []map[string]string{
			{"device_name": "sw-core-01", "operation_type": "precheck", "ip_address": "10.0.0.1", "platform": "ios"},
			{"device_name": "SW-CORE-01", "operation_type": "precheck", "ip_address": "10.0.0.1", "platform": "ios"},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Results []models.SubmitResult `json:"results"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Results, 2)

	assert.Equal(t, "triggered", resp.Results[0].Status)
	assert.NotEmpty(t, resp.Results[0].TaskID)

	assert.Equal(t, "skipped", resp.Results[1].Status)
	assert.Equal(t, "already queued", resp.Results[1].Reason)
	assert.Empty(t, resp.Results[1].TaskID)
}

func TestUpgrade_UnknownOperationSkipped(t *testing.T) {
	s, _ := newTestServer(t)

	rec := postUpgrade(t, s, testAPIKey, map[string]any{
		"devices": []map[string]string{
			{"device_name": "sw-core-01", "operation_type": "reboot", "ip_address": "10.0.0.1", "platform": "ios"},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Results []models.SubmitResult `json:"results"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "skipped", resp.Results[0].Status)
	assert.Contains(t, resp.Results[0].Reason, "unknown operation type")
}

func TestUpgrade_EmptyBatchRejected(t *testing.T) {
	s, _ := newTestServer(t)

	rec := postUpgrade(t, s, testAPIKey, map[string]any{"devices": []map[string]string{}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAuth_MissingKeyForbidden(t *testing.T) {
	s, _ := newTestServer(t)

	rec := postUpgrade(t, s, "", map[string]any{"devices": []map[string]string{}})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = postUpgrade(t, s, "wrong-key", map[string]any{"devices": []map[string]string{}})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAuth_UnconfiguredKeyIsServerError(t *testing.T) {
	s, _ := newTestServer(t)
	s.cfg.Server.APIKey = ""

	rec := postUpgrade(t, s, "anything", map[string]any{"devices": []map[string]string{}})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestStatus_NotFound(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/status/no-such-task", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStatus_ReturnsTask(t *testing.T) {
	s, st := newTestServer(t)

	task, err := st.CreateTask("sw-core-01")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/status/"+task.TaskID, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var got models.TaskRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, task.TaskID, got.TaskID)
	assert.Equal(t, "sw-core-01", got.DeviceName)
}

func TestQueue_ListsEntries(t *testing.T) {
	s, st := newTestServer(t)

	_, err := st.TryEnqueue("sw-core-01", "precheck")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/queue", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Queue []models.QueueEntry `json:"queue"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Queue, 1)
	assert.Equal(t, "sw-core-01", resp.Queue[0].DeviceName)
}

func TestPrecheckDownload_RejectsTraversal(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/prechecks/download/..%2F..%2Fetc%2Fpasswd", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.NotEqual(t, http.StatusOK, rec.Code)
}

func TestInventoryRefresh_Unconfigured(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/netbox/refresh", bytes.NewReader([]byte(`{}`)))
	req.Header.Set("access_token", testAPIKey)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
