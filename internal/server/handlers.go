package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/netfleet/upgrade-orchestrator/internal/constants"
	"github.com/netfleet/upgrade-orchestrator/internal/models"
	"github.com/netfleet/upgrade-orchestrator/internal/scheduler"
	"github.com/netfleet/upgrade-orchestrator/internal/store"
)

// upgradePayload is the batch intake body.
type upgradePayload struct {
	Devices []models.OperationRequest `json:"devices"`
}

// handleUpgrade accepts a batch of device operations. Each device gets an
// individual triggered/skipped verdict; accepted tasks run asynchronously and
// the call never blocks on their completion.
func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	var payload upgradePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if len(payload.Devices) == 0 {
		writeError(w, http.StatusBadRequest, "no devices in request")
		return
	}

	results, tasks := s.submit(payload.Devices)
	if len(tasks) > 0 {
		go s.scheduler.RunBatch(context.Background(), tasks)
	}

	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

// submit validates and enqueues each request, returning the per-device
// verdicts and the accepted tasks.
func (s *Server) submit(requests []models.OperationRequest) ([]models.SubmitResult, []scheduler.Task) {
	results := make([]models.SubmitResult, 0, len(requests))
	tasks := make([]scheduler.Task, 0, len(requests))

	for _, req := range requests {
		if strings.TrimSpace(req.DeviceName) == "" {
			results = append(results, models.SubmitResult{
				Status: "skipped",
				Reason: "device name is required",
			})
			continue
		}

		kind, ok := constants.ParseOperationKind(string(req.Operation))
		if !ok {
			results = append(results, models.SubmitResult{
				DeviceName: req.DeviceName,
				Status:     "skipped",
				Reason:     "unknown operation type: " + string(req.Operation),
			})
			continue
		}
		req.Operation = kind

		if _, err := s.store.TryEnqueue(req.DeviceName, kind); err != nil {
			reason := "internal error: " + err.Error()
			if errors.Is(err, store.ErrAlreadyQueued) {
				reason = "already queued"
			}
			results = append(results, models.SubmitResult{
				DeviceName: req.DeviceName,
				Status:     "skipped",
				Reason:     reason,
			})
			continue
		}

		task, err := s.store.CreateTask(req.DeviceName)
		if err != nil {
			// roll the queue slot back so the device is not stuck
			if derr := s.store.Dequeue(req.DeviceName); derr != nil {
				s.logger.Error().Err(derr).Str("device", req.DeviceName).Msg("Failed to roll back queue entry")
			}
			results = append(results, models.SubmitResult{
				DeviceName: req.DeviceName,
				Status:     "skipped",
				Reason:     "failed to create task: " + err.Error(),
			})
			continue
		}

		results = append(results, models.SubmitResult{
			DeviceName: req.DeviceName,
			TaskID:     task.TaskID,
			Status:     "triggered",
		})
		tasks = append(tasks, scheduler.Task{TaskID: task.TaskID, Request: req})
	}

	return results, tasks
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("task_id")

	task, err := s.store.Task(taskID)
	if err != nil {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"queue": s.store.Queue()})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	history, err := s.store.History()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read history: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": history})
}

func (s *Server) handlePrecheckDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.artifacts.Devices()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list devices: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": devices})
}

func (s *Server) handlePrecheckList(w http.ResponseWriter, r *http.Request) {
	device := r.PathValue("device")

	files, err := s.artifacts.List(device)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list prechecks: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"device": device, "files": files})
}

func (s *Server) handlePrecheckDownload(w http.ResponseWriter, r *http.Request) {
	filename := r.PathValue("filename")
	if strings.Contains(filename, "/") || strings.Contains(filename, "..") {
		writeError(w, http.StatusBadRequest, "invalid filename")
		return
	}

	content, err := s.artifacts.Read(filename)
	if err != nil {
		writeError(w, http.StatusNotFound, "precheck file not found")
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	_, _ = w.Write([]byte(content))
}

type diffPayload struct {
	File1 string `json:"file1"`
	File2 string `json:"file2"`
}

func (s *Server) handlePrecheckDiff(w http.ResponseWriter, r *http.Request) {
	var payload diffPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if payload.File1 == "" || payload.File2 == "" {
		writeError(w, http.StatusBadRequest, "both file1 and file2 are required")
		return
	}

	diff, err := s.artifacts.Diff(payload.File1, payload.File2)
	if err != nil {
		writeError(w, http.StatusNotFound, "failed to diff prechecks: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"file1": payload.File1,
		"file2": payload.File2,
		"diff":  diff,
	})
}

type inventoryRefreshPayload struct {
	Site   string `json:"site,omitempty"`
	Region string `json:"region,omitempty"`
	Model  string `json:"model,omitempty"`
}

// handleInventoryRefresh pulls matching devices from the inventory source and
// submits a refresh operation for each one, reusing the standard intake path
// so queue dedup applies.
func (s *Server) handleInventoryRefresh(w http.ResponseWriter, r *http.Request) {
	if s.inventory == nil {
		writeError(w, http.StatusServiceUnavailable, "inventory source is not configured")
		return
	}

	var payload inventoryRefreshPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	devices, err := s.inventory.FetchDevices(r.Context(), payload.Site, payload.Region, payload.Model)
	if err != nil {
		writeError(w, http.StatusBadGateway, "failed to fetch inventory: "+err.Error())
		return
	}
	if len(devices) == 0 {
		writeJSON(w, http.StatusOK, map[string]any{"results": []models.SubmitResult{}, "devices": 0})
		return
	}

	requests := make([]models.OperationRequest, 0, len(devices))
	for _, device := range devices {
		requests = append(requests, models.OperationRequest{
			DeviceName: device.DeviceName,
			Operation:  constants.OperationRefresh,
			IPAddress:  device.IPAddress,
			Platform:   device.Platform,
			Site:       device.Site,
			Region:     device.Region,
		})
	}

	results, tasks := s.submit(requests)
	if len(tasks) > 0 {
		go s.scheduler.RunBatch(context.Background(), tasks)
	}

	writeJSON(w, http.StatusOK, map[string]any{"results": results, "devices": len(devices)})
}
