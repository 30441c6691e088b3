// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package run implements the Run Lifecycle (§4.F): the status transition
// table that drives a Run from submission through completion, wiring the
// Block Interpreter's Outcome into persisted state and emitting exactly
// one lifecycle event per transition.
package run

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	engineerrors "github.com/vsync-io/workflow-engine/pkg/errors"
	"github.com/vsync-io/workflow-engine/pkg/engine/interp"
	"github.com/vsync-io/workflow-engine/pkg/engine/model"
	"github.com/vsync-io/workflow-engine/pkg/eventbus"
)

// allowedTransitions is the closed transition table from §4.F.
var allowedTransitions = map[model.RunStatus]map[model.RunStatus]bool{
	model.RunPending: {
		model.RunRunning: true,
	},
	model.RunRunning: {
		model.RunCompleted:      true,
		model.RunFailed:         true,
		model.RunCancelled:      true,
		model.RunAwaitingAction: true,
	},
	model.RunAwaitingAction: {
		model.RunRunning:   true,
		model.RunCancelled: true,
		model.RunFailed:    true,
	},
}

// Store persists Run rows. A caller not needing durability may pass nil;
// the Lifecycle keeps its own in-memory table regardless (matching the
// teacher's runner, whose in-memory map is the source of truth and the
// backend is a best-effort mirror).
type Store interface {
	SaveRun(ctx context.Context, r *model.Run) error
}

// Store errors are logged, not fatal: the in-memory run table is always
// authoritative for the lifetime of the process, same as the teacher's
// "log error but continue - in-memory state is the source of truth".

// Lifecycle tracks in-flight and completed runs, drives each through the
// Interp, and publishes one eventbus event per status transition.
type Lifecycle struct {
	mu   sync.Mutex
	runs map[string]*tracked

	interp *interp.Interp
	bus    *eventbus.Registry
	store  Store
	now    func() time.Time
}

type tracked struct {
	run     *model.Run
	wf      *model.WorkflowContext
	version *model.WorkflowVersion
	cancel  context.CancelFunc
}

// New builds a Lifecycle. store may be nil.
func New(ip *interp.Interp, bus *eventbus.Registry, store Store) *Lifecycle {
	return &Lifecycle{
		runs:   make(map[string]*tracked),
		interp: ip,
		bus:    bus,
		store:  store,
		now:    time.Now,
	}
}

// SubmitRequest carries what's needed to start a run.
type SubmitRequest struct {
	Workflow    *model.Workflow
	Version     *model.WorkflowVersion
	Event       map[string]any
	Secrets     map[string]string
	Paths       map[string]string
	TriggerType model.TriggerType
	OrgID       string
	Platform    string
	DeviceID    string
}

// Submit creates a Run in pending status, transitions it to running, and
// executes the workflow version in the background. It returns immediately
// with the running Run snapshot.
func (l *Lifecycle) Submit(ctx context.Context, req SubmitRequest) (*model.Run, error) {
	runID := uuid.NewString()
	started := l.now()

	runInfo := model.RunInfo{
		ID:          runID,
		WorkflowID:  req.Workflow.ID,
		VersionID:   req.Version.Version,
		Status:      string(model.RunPending),
		TriggerType: string(req.TriggerType),
		StartedAt:   started.Format(time.RFC3339),
		Platform:    req.Platform,
		DeviceID:    req.DeviceID,
	}
	wf := model.NewWorkflowContext(req.Event, req.Secrets, req.Paths, runInfo)

	r := &model.Run{
		ID:          runID,
		WorkflowID:  req.Workflow.ID,
		Version:     req.Version.Version,
		OrgID:       req.OrgID,
		Status:      model.RunPending,
		TriggerType: req.TriggerType,
		StartedAt:   started,
	}

	runCtx, cancel := context.WithCancel(ctx)

	l.mu.Lock()
	l.runs[runID] = &tracked{run: r, wf: wf, version: req.Version, cancel: cancel}
	pendingSnapshot := cloneRun(r)
	l.mu.Unlock()

	l.persist(ctx, pendingSnapshot)
	l.publish(pendingSnapshot, nil)

	l.mu.Lock()
	err := l.transition(r, model.RunRunning)
	runningSnapshot := cloneRun(r)
	l.mu.Unlock()
	if err != nil {
		cancel()
		return nil, err
	}
	l.persist(ctx, runningSnapshot)
	l.publish(runningSnapshot, nil)

	go l.execute(runCtx, runID)

	return runningSnapshot, nil
}

func (l *Lifecycle) execute(ctx context.Context, runID string) {
	l.mu.Lock()
	t, ok := l.runs[runID]
	l.mu.Unlock()
	if !ok {
		return
	}

	outcome := l.interp.Run(ctx, t.version, t.wf)
	l.finish(ctx, runID, outcome)
}

func (l *Lifecycle) finish(ctx context.Context, runID string, outcome interp.Outcome) {
	l.mu.Lock()
	t, ok := l.runs[runID]
	if !ok {
		l.mu.Unlock()
		return
	}

	if err := l.transition(t.run, outcome.Status); err != nil {
		t.run.Status = model.RunFailed
		t.run.ErrorMessage = err.Error()
	} else {
		t.run.ErrorMessage = outcome.ErrorMessage
	}
	t.run.Steps = outcome.Steps
	t.run.Metadata = map[string]any{"finalState": outcome.FinalState}

	if outcome.Status == model.RunAwaitingAction && outcome.Pause != nil {
		t.run.ResumeMarker = outcome.Pause.Marker
	} else {
		now := l.now()
		t.run.CompletedAt = &now
		t.run.DurationMS = now.Sub(t.run.StartedAt).Milliseconds()
	}
	snapshot := cloneRun(t.run)
	l.mu.Unlock()

	l.persist(ctx, snapshot)
	l.publish(snapshot, outcome.Artifacts)
}

// Resume continues a paused run with the given action value, per the
// awaiting_action -> running transition.
func (l *Lifecycle) Resume(ctx context.Context, runID string, actionValue any) (*model.Run, error) {
	l.mu.Lock()
	t, ok := l.runs[runID]
	if !ok {
		l.mu.Unlock()
		return nil, fmt.Errorf("run not found: %s", runID)
	}
	if t.run.Status != model.RunAwaitingAction {
		l.mu.Unlock()
		return nil, &engineerrors.EngineError{Code: engineerrors.CodeConflict, Message: fmt.Sprintf("run %s is not awaiting action", runID)}
	}
	if t.run.ResumeMarker == nil {
		l.mu.Unlock()
		return nil, fmt.Errorf("run %s has no resume marker", runID)
	}

	if err := l.transition(t.run, model.RunRunning); err != nil {
		l.mu.Unlock()
		return nil, err
	}
	marker := t.run.ResumeMarker
	runCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	snapshot := cloneRun(t.run)
	l.mu.Unlock()

	l.persist(ctx, snapshot)
	l.publish(snapshot, nil)

	go func() {
		outcome := l.interp.Resume(runCtx, t.version, marker, actionValue)
		l.finish(runCtx, runID, outcome)
	}()

	return snapshot, nil
}

// Cancel signals cancellation of a running or awaiting-action run. For a
// running run, the executing goroutine observes ctx.Done() and reports
// RunCancelled, which finish() records via the normal transition path. An
// awaiting-action run has no executing goroutine, so Cancel records its
// transition to cancelled itself.
func (l *Lifecycle) Cancel(runID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	t, ok := l.runs[runID]
	if !ok {
		return fmt.Errorf("run not found: %s", runID)
	}
	if t.run.Status != model.RunRunning && t.run.Status != model.RunAwaitingAction {
		return &engineerrors.EngineError{Code: engineerrors.CodeConflict, Message: fmt.Sprintf("run %s cannot be cancelled from status %s", runID, t.run.Status)}
	}
	if t.run.Status == model.RunAwaitingAction {
		if err := l.transition(t.run, model.RunCancelled); err != nil {
			return err
		}
		now := l.now()
		t.run.CompletedAt = &now
		t.run.DurationMS = now.Sub(t.run.StartedAt).Milliseconds()
		snapshot := cloneRun(t.run)
		go func() {
			l.persist(context.Background(), snapshot)
			l.publish(snapshot, nil)
		}()
		return nil
	}
	if t.cancel != nil {
		t.cancel()
	}
	return nil
}

// Get returns a snapshot of a tracked run.
func (l *Lifecycle) Get(runID string) (*model.Run, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	t, ok := l.runs[runID]
	if !ok {
		return nil, fmt.Errorf("run not found: %s", runID)
	}
	return cloneRun(t.run), nil
}

func (l *Lifecycle) transition(r *model.Run, to model.RunStatus) error {
	allowed, ok := allowedTransitions[r.Status]
	if !ok || !allowed[to] {
		return &engineerrors.EngineError{
			Code:    engineerrors.CodeValidation,
			Message: fmt.Sprintf("invalid run status transition: %s -> %s", r.Status, to),
		}
	}
	r.Status = to
	return nil
}

func (l *Lifecycle) persist(ctx context.Context, r *model.Run) {
	if l.store == nil {
		return
	}
	if err := l.store.SaveRun(ctx, cloneRun(r)); err != nil {
		slog.Warn("run store save failed", "run_id", r.ID, "error", err)
	}
}

func (l *Lifecycle) publish(r *model.Run, artifacts []model.Artifact) {
	if l.bus == nil {
		return
	}
	payload := map[string]any{
		"runId":      r.ID,
		"workflowId": r.WorkflowID,
		"status":     string(r.Status),
	}
	if len(artifacts) > 0 {
		payload["artifactCount"] = len(artifacts)
	}
	event := eventbus.NewEvent("run:"+string(r.Status), payload, l.now())
	l.bus.BroadcastToMany([]string{
		eventbus.RunChannel(r.ID),
		eventbus.WorkflowChannel(r.WorkflowID),
	}, event)
}

func cloneRun(r *model.Run) *model.Run {
	cp := *r
	if r.Steps != nil {
		cp.Steps = append([]model.Step(nil), r.Steps...)
	}
	return &cp
}
