// Package operations runs one device operation from request to terminal
// status: it resolves connection parameters, opens the device session,
// dispatches to the requested variant and reports progress and outcome
// through the status tracker.
package operations

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/netfleet/upgrade-orchestrator/internal/config"
	"github.com/netfleet/upgrade-orchestrator/internal/constants"
	"github.com/netfleet/upgrade-orchestrator/internal/models"
	"github.com/netfleet/upgrade-orchestrator/internal/store"
	"github.com/netfleet/upgrade-orchestrator/internal/tracking"
	"github.com/netfleet/upgrade-orchestrator/internal/transport"
	"github.com/netfleet/upgrade-orchestrator/pkg/artifacts"
)

// Dispatcher executes operations. One Execute call handles exactly one
// request; the batch scheduler bounds how many run concurrently.
type Dispatcher struct {
	cfg       *config.Config
	dialer    transport.Dialer
	store     *store.Store
	tracker   tracking.Sink
	artifacts *artifacts.Store
	logger    zerolog.Logger
}

// NewDispatcher wires a dispatcher with its collaborators.
func NewDispatcher(cfg *config.Config, dialer transport.Dialer, st *store.Store,
	tracker tracking.Sink, artifactStore *artifacts.Store, logger zerolog.Logger) *Dispatcher {

	return &Dispatcher{
		cfg:       cfg,
		dialer:    dialer,
		store:     st,
		tracker:   tracker,
		artifacts: artifactStore,
		logger:    logger,
	}
}

// Execute drives one operation to a terminal status. The device's queue entry
// is removed on every outcome, and the terminal record always carries the
// full chronological log.
func (d *Dispatcher) Execute(ctx context.Context, taskID string, req models.OperationRequest) {
	log := newTaskLogger(taskID, d.store, d.logger)

	if err := d.store.SetStatus(taskID, constants.TaskStatusRunning); err != nil {
		d.logger.Error().Err(err).Str("task_id", taskID).Msg("Failed to mark task running")
	}
	if err := d.store.MarkRunning(req.DeviceName); err != nil {
		d.logger.Error().Err(err).Str("device", req.DeviceName).Msg("Failed to mark queue entry running")
	}

	status := d.run(ctx, req, log)

	finalLog := log.CloseAndJoin()
	if err := d.store.SetTerminal(taskID, status, finalLog); err != nil {
		d.logger.Error().Err(err).Str("task_id", taskID).Msg("Failed to record terminal status")
	}
	if err := d.store.Dequeue(req.DeviceName); err != nil {
		d.logger.Error().Err(err).Str("device", req.DeviceName).Msg("Failed to dequeue device")
	}

	d.logger.Info().
		Str("task_id", taskID).
		Str("device", req.DeviceName).
		Str("operation", string(req.Operation)).
		Str("status", string(status)).
		Msg("Operation finished")
}

// run resolves the connection, opens the session and dispatches by kind. Any
// panic inside a variant is caught here and converted to a Failed outcome;
// the deferred close guarantees the session never leaks on an exceptional
// exit.
func (d *Dispatcher) run(ctx context.Context, req models.OperationRequest, log *taskLogger) (status constants.TaskStatus) {
	defer func() {
		if r := recover(); r != nil {
			log.Log(fmt.Sprintf("Error: %v", r))
			status = constants.TaskStatusFailed
		}
	}()

	params, err := transport.ResolveConnection(req, d.cfg)
	if err != nil {
		log.Log(fmt.Sprintf("Failed to resolve connection parameters: %v", err))
		return constants.TaskStatusFailed
	}

	log.Log("Checking connectivity...")
	session, err := d.dialer.Open(ctx, params)
	if err != nil {
		log.Log(fmt.Sprintf("Connection failed: %v", err))
		return constants.TaskStatusFailed
	}
	defer session.Close()
	log.Log(fmt.Sprintf("Connected to %s.", req.DeviceName))

	switch req.Operation {
	case constants.OperationRefresh:
		err = d.runRefresh(ctx, session, req, log)
	case constants.OperationPrecheck:
		err = d.runPrecheck(ctx, session, req, log)
	case constants.OperationUpgradeAuto:
		err = d.runUpgradeAuto(ctx, session, req, log)
	case constants.OperationUpgradeManual:
		err = d.runUpgradeManual(ctx, session, req, log)
	case constants.OperationCancelSchedule:
		err = d.runCancelSchedule(ctx, session, req, log)
	default:
		// requests are validated at intake; this is unreachable for accepted ones
		err = fmt.Errorf("unknown operation kind %q", req.Operation)
	}

	if err != nil {
		log.Log(err.Error())
		return constants.TaskStatusFailed
	}
	return constants.TaskStatusCompleted
}

// targetVersion returns the per-request target override or the configured
// fleet target.
func (d *Dispatcher) targetVersion(req models.OperationRequest) string {
	if req.TargetVersion != "" {
		return req.TargetVersion
	}
	return d.cfg.Upgrade.TargetVersion
}

// imageFilename returns the per-request image override or the configured one.
func (d *Dispatcher) imageFilename(req models.OperationRequest) string {
	if req.TargetFile != "" {
		return req.TargetFile
	}
	return d.cfg.Upgrade.ImageFilename
}

// taskLogger streams progress lines to the status tracker while keeping the
// full chronological log for the terminal record. A single consumer goroutine
// serializes the tracker writes.
type taskLogger struct {
	mu    sync.Mutex
	lines []string
	ch    chan string
	done  chan struct{}
}

func newTaskLogger(taskID string, st *store.Store, logger zerolog.Logger) *taskLogger {
	t := &taskLogger{
		ch:   make(chan string, 64),
		done: make(chan struct{}),
	}
	go func() {
		defer close(t.done)
		for line := range t.ch {
			if err := st.AppendLog(taskID, line); err != nil {
				logger.Warn().Err(err).Str("task_id", taskID).Msg("Failed to append task log")
			}
		}
	}()
	return t
}

// Log records one line and forwards it to the tracker.
func (t *taskLogger) Log(line string) {
	t.mu.Lock()
	t.lines = append(t.lines, line)
	t.mu.Unlock()
	t.ch <- line
}

// CloseAndJoin stops the consumer and returns the accumulated log.
func (t *taskLogger) CloseAndJoin() string {
	close(t.ch)
	<-t.done

	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.Join(t.lines, "\n")
}
