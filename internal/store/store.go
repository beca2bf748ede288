// Package store tracks queue membership and task status. The queue index is
// the fleet-wide mutual exclusion primitive: at most one entry per device name,
// case-insensitive. Task records are persisted to SQLite and outlive their
// queue entries.
package store

import (
	"database/sql"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	cmap "github.com/orcaman/concurrent-map/v2"
	pkgerrors "github.com/pkg/errors"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/netfleet/upgrade-orchestrator/internal/constants"
	"github.com/netfleet/upgrade-orchestrator/internal/models"
)

// ErrAlreadyQueued is returned when a device already has a queued or running
// operation.
var ErrAlreadyQueued = pkgerrors.New("device already in queue or processing")

const schema = `
CREATE TABLE IF NOT EXISTS device_queue (
	device_name TEXT NOT NULL,
	operation   TEXT NOT NULL,
	state       TEXT NOT NULL,
	created_at  TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS task_status (
	task_id     TEXT PRIMARY KEY,
	device_name TEXT NOT NULL,
	status      TEXT NOT NULL,
	log_output  TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMP NOT NULL,
	updated_at  TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_task_status_created ON task_status (created_at);
`

// Store is the status/queue tracker backed by an in-memory queue index and a
// SQLite task history.
type Store struct {
	db     *sql.DB
	queue  cmap.ConcurrentMap[string, models.QueueEntry]
	logger zerolog.Logger
}

// Open opens (creating if needed) the SQLite database at path and clears any
// queue rows left over from a previous run. In-flight operations from a prior
// process are abandoned, never resumed.
func Open(path string, logger zerolog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "store: open database")
	}
	// modernc sqlite serializes writes; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, pkgerrors.Wrap(err, "store: create schema")
	}
	if _, err := db.Exec(`DELETE FROM device_queue`); err != nil {
		db.Close()
		return nil, pkgerrors.Wrap(err, "store: clear queue")
	}

	return &Store{
		db:     db,
		queue:  cmap.New[models.QueueEntry](),
		logger: logger,
	}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func queueKey(deviceName string) string {
	return strings.ToLower(deviceName)
}

// TryEnqueue atomically inserts a queue entry for the device. The check and
// insert happen as one operation on the case-folded key, so two concurrent
// submissions for the same device can never both be accepted.
func (s *Store) TryEnqueue(deviceName string, kind constants.OperationKind) (models.QueueEntry, error) {
	entry := models.QueueEntry{
		DeviceName: deviceName,
		Operation:  kind,
		State:      constants.QueueStateQueued,
		CreatedAt:  time.Now().UTC(),
	}

	if !s.queue.SetIfAbsent(queueKey(deviceName), entry) {
		return models.QueueEntry{}, ErrAlreadyQueued
	}

	if _, err := s.db.Exec(
		`INSERT INTO device_queue (device_name, operation, state, created_at) VALUES (?, ?, ?, ?)`,
		deviceName, string(kind), entry.State, entry.CreatedAt,
	); err != nil {
		s.queue.Remove(queueKey(deviceName))
		return models.QueueEntry{}, pkgerrors.Wrap(err, "store: enqueue")
	}

	return entry, nil
}

// MarkRunning transitions the device's queue entry to in_progress.
func (s *Store) MarkRunning(deviceName string) error {
	key := queueKey(deviceName)
	if entry, ok := s.queue.Get(key); ok {
		entry.State = constants.QueueStateInProgress
		s.queue.Set(key, entry)
	}

	_, err := s.db.Exec(
		`UPDATE device_queue SET state = ? WHERE lower(device_name) = ?`,
		constants.QueueStateInProgress, key,
	)
	return pkgerrors.Wrap(err, "store: mark running")
}

// Dequeue removes the device's queue entry. Calling it again for an absent
// device is a no-op.
func (s *Store) Dequeue(deviceName string) error {
	s.queue.Remove(queueKey(deviceName))
	_, err := s.db.Exec(`DELETE FROM device_queue WHERE lower(device_name) = ?`, queueKey(deviceName))
	return pkgerrors.Wrap(err, "store: dequeue")
}

// Queue returns the current queue entries, oldest first.
func (s *Store) Queue() []models.QueueEntry {
	entries := make([]models.QueueEntry, 0, s.queue.Count())
	for item := range s.queue.IterBuffered() {
		entries = append(entries, item.Val)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].CreatedAt.Before(entries[j].CreatedAt) })
	return entries
}

// CreateTask inserts a fresh task record in the queued state and returns it.
func (s *Store) CreateTask(deviceName string) (models.TaskRecord, error) {
	now := time.Now().UTC()
	record := models.TaskRecord{
		TaskID:     uuid.New().String(),
		DeviceName: deviceName,
		Status:     constants.TaskStatusQueued,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if _, err := s.db.Exec(
		`INSERT INTO task_status (task_id, device_name, status, log_output, created_at, updated_at)
		 VALUES (?, ?, ?, '', ?, ?)`,
		record.TaskID, record.DeviceName, string(record.Status), record.CreatedAt, record.UpdatedAt,
	); err != nil {
		return models.TaskRecord{}, pkgerrors.Wrap(err, "store: create task")
	}
	return record, nil
}

// SetStatus updates a task's status without touching its log.
func (s *Store) SetStatus(taskID string, status constants.TaskStatus) error {
	_, err := s.db.Exec(
		`UPDATE task_status SET status = ?, updated_at = ? WHERE task_id = ?`,
		string(status), time.Now().UTC(), taskID,
	)
	return pkgerrors.Wrap(err, "store: set status")
}

// AppendLog appends one line to a task's log. Lines are only ever appended,
// preserving chronological order even under interleaved writers.
func (s *Store) AppendLog(taskID, line string) error {
	_, err := s.db.Exec(
		`UPDATE task_status SET log_output = log_output || ? || char(10), updated_at = ? WHERE task_id = ?`,
		line, time.Now().UTC(), taskID,
	)
	return pkgerrors.Wrap(err, "store: append log")
}

// SetTerminal records a task's terminal status together with its full
// accumulated log.
func (s *Store) SetTerminal(taskID string, status constants.TaskStatus, finalLog string) error {
	_, err := s.db.Exec(
		`UPDATE task_status SET status = ?, log_output = ?, updated_at = ? WHERE task_id = ?`,
		string(status), finalLog, time.Now().UTC(), taskID,
	)
	return pkgerrors.Wrap(err, "store: set terminal")
}

// Task returns the task record for the given id, or sql.ErrNoRows.
func (s *Store) Task(taskID string) (models.TaskRecord, error) {
	row := s.db.QueryRow(
		`SELECT task_id, device_name, status, log_output, created_at, updated_at
		 FROM task_status WHERE task_id = ?`, taskID,
	)
	return scanTask(row)
}

// History returns all task records, newest first.
func (s *Store) History() ([]models.TaskRecord, error) {
	rows, err := s.db.Query(
		`SELECT task_id, device_name, status, log_output, created_at, updated_at
		 FROM task_status ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "store: history")
	}
	defer rows.Close()

	var records []models.TaskRecord
	for rows.Next() {
		record, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (models.TaskRecord, error) {
	var record models.TaskRecord
	var status string
	err := row.Scan(&record.TaskID, &record.DeviceName, &status,
		&record.LogOutput, &record.CreatedAt, &record.UpdatedAt)
	if err != nil {
		return models.TaskRecord{}, pkgerrors.Wrap(err, "store: scan task")
	}
	record.Status = constants.TaskStatus(status)
	return record, nil
}
