package constants

// OperationKind identifies one of the supported device operations.
type OperationKind string

const (
	OperationRefresh        OperationKind = "refresh_device"
	OperationPrecheck       OperationKind = "precheck"
	OperationUpgradeAuto    OperationKind = "upgrade_auto"
	OperationUpgradeManual  OperationKind = "upgrade_manual"
	OperationCancelSchedule OperationKind = "cancel_schedule"
)

// ParseOperationKind validates a raw operation string against the closed set of
// supported kinds. Unknown kinds are rejected at construction time.
func ParseOperationKind(s string) (OperationKind, bool) {
	switch OperationKind(s) {
	case OperationRefresh, OperationPrecheck, OperationUpgradeAuto,
		OperationUpgradeManual, OperationCancelSchedule:
		return OperationKind(s), true
	}
	return "", false
}

// TaskStatus tracks the lifecycle of one task record.
type TaskStatus string

const (
	TaskStatusQueued    TaskStatus = "queued"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusWarning   TaskStatus = "warning"
	TaskStatusError     TaskStatus = "error"
)

// Queue entry states
const (
	QueueStateQueued     = "queued"
	QueueStateInProgress = "in_progress"
)
