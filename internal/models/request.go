package models

import "github.com/netfleet/upgrade-orchestrator/internal/constants"

// OperationRequest describes one device operation as accepted from a caller.
// It is immutable once accepted into the queue.
type OperationRequest struct {
	DeviceName    string                  `json:"device_name"`
	Operation     constants.OperationKind `json:"operation_type"`
	IPAddress     string                  `json:"ip_address"`
	Platform      string                  `json:"platform"`
	Site          string                  `json:"site,omitempty"`
	Region        string                  `json:"region,omitempty"`
	ScheduleTime  string                  `json:"schedule_time,omitempty"`
	TargetVersion string                  `json:"target_version,omitempty"`
	TargetFile    string                  `json:"target_file,omitempty"`
}

// SubmitResult reports per-device acceptance of a batch submission.
type SubmitResult struct {
	DeviceName string `json:"device_name"`
	TaskID     string `json:"task_id,omitempty"`
	Status     string `json:"status"` // triggered or skipped
	Reason     string `json:"reason,omitempty"`
}

// Device is one inventory entry returned by the inventory source.
type Device struct {
	DeviceName string `json:"device_name"`
	IPAddress  string `json:"ip_address"`
	Site       string `json:"site"`
	Region     string `json:"region"`
	Platform   string `json:"platform"`
	Model      string `json:"model"`
}
