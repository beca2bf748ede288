package models

import (
	"time"

	"github.com/netfleet/upgrade-orchestrator/internal/constants"
)

// QueueEntry is the fleet-wide mutual exclusion record: at most one entry may
// exist per device name (case-insensitive) at any time.
type QueueEntry struct {
	DeviceName string                  `json:"device_name"`
	Operation  constants.OperationKind `json:"operation_type"`
	State      string                  `json:"status"` // queued or in_progress
	CreatedAt  time.Time               `json:"created_at"`
}

// TaskRecord is the per-task status and log history. Records outlive their
// queue entries and are retained indefinitely.
type TaskRecord struct {
	TaskID     string               `json:"task_id"`
	DeviceName string               `json:"device_name"`
	Status     constants.TaskStatus `json:"status"`
	LogOutput  string               `json:"log_output"`
	CreatedAt  time.Time            `json:"created_at"`
	UpdatedAt  time.Time            `json:"updated_at"`
}
