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

// Package interp is the block interpreter: the state machine that walks a
// workflow version's ordered blocks, folding each handler's result into
// the run's WorkflowContext, and driving goto/defer/pause control flow.
// Grounded on the teacher's pkg/workflow/executor.go step loop, adapted
// from a single linear step list to the spec's goto/defer/pause model.
package interp

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	engineerrors "github.com/vsync-io/workflow-engine/pkg/errors"

	"github.com/vsync-io/workflow-engine/pkg/engine/block"
	"github.com/vsync-io/workflow-engine/pkg/engine/condition"
	"github.com/vsync-io/workflow-engine/pkg/engine/model"
	"github.com/vsync-io/workflow-engine/pkg/engine/resolve"
)

// StepObserver is notified of every step transition the interpreter makes.
// The Run Lifecycle does not implement it and the engine bootstrap passes
// nil, so New installs a no-op observer and no run:step events are
// published.
type StepObserver interface {
	OnStep(step model.Step)
}

// StepObserverFunc adapts a plain function to StepObserver.
type StepObserverFunc func(model.Step)

// OnStep implements StepObserver.
func (f StepObserverFunc) OnStep(step model.Step) { f(step) }

// PauseOutcome is returned by Run when the run suspends on a UI block.
type PauseOutcome struct {
	Marker *model.ResumeMarker
}

// Outcome is the terminal result of Run (or Resume) reaching a non-paused
// end state.
type Outcome struct {
	Status       model.RunStatus
	ErrorMessage string
	Steps        []model.Step
	Pause        *PauseOutcome
	FinalState   map[string]any
	Artifacts    []model.Artifact
}

// Interp runs one workflow version against one WorkflowContext.
type Interp struct {
	Registry  *block.Registry
	Evaluator *condition.Evaluator
	Observer  StepObserver
	Now       func() time.Time
}

// New builds an Interp. now defaults to time.Now if nil.
func New(reg *block.Registry, eval *condition.Evaluator, observer StepObserver, now func() time.Time) *Interp {
	if now == nil {
		now = time.Now
	}
	if observer == nil {
		observer = StepObserverFunc(func(model.Step) {})
	}
	return &Interp{Registry: reg, Evaluator: eval, Observer: observer, Now: now}
}

// indexedVersion is a version's blocks sorted by order, with an id index
// for goto lookup, per the "arenas over references" design note.
type indexedVersion struct {
	ordered []*model.Block
	byID    map[string]*model.Block
}

func indexVersion(version *model.WorkflowVersion) *indexedVersion {
	blocks := make([]*model.Block, len(version.Blocks))
	copy(blocks, version.Blocks)
	sort.SliceStable(blocks, func(i, j int) bool {
		if blocks[i].Order != blocks[j].Order {
			return blocks[i].Order < blocks[j].Order
		}
		return blocks[i].ID < blocks[j].ID
	})
	byID := make(map[string]*model.Block, len(blocks))
	for _, b := range blocks {
		byID[b.ID] = b
	}
	return &indexedVersion{ordered: blocks, byID: byID}
}

func (iv *indexedVersion) indexOf(blockID string) int {
	for i, b := range iv.ordered {
		if b.ID == blockID {
			return i
		}
	}
	return -1
}

// deferredTask is one queued deferred-goto iteration.
type deferredTask struct {
	target        *model.Block
	loopName      string
	index         int
	maxConcurrent int
}

// Run executes version starting from its first block against wf, up to
// MaxRunDurationMS wall-clock time.
func (ip *Interp) Run(ctx context.Context, version *model.WorkflowVersion, wf *model.WorkflowContext) Outcome {
	iv := indexVersion(version)
	if len(iv.ordered) > model.MaxBlockCount {
		return Outcome{Status: model.RunFailed, ErrorMessage: fmt.Sprintf("version has %d blocks, exceeding MAX_BLOCK_COUNT=%d", len(iv.ordered), model.MaxBlockCount)}
	}
	return ip.loop(ctx, iv, wf, 0, 0, nil)
}

// Resume re-enters the loop at marker.StepIndex+1 after writing the
// resumed action's value into state at the paused block's bind field.
func (ip *Interp) Resume(ctx context.Context, version *model.WorkflowVersion, marker *model.ResumeMarker, actionValue any) Outcome {
	if marker.Consumed {
		return Outcome{Status: model.RunAwaitingAction, ErrorMessage: "resume marker already consumed"}
	}
	iv := indexVersion(version)

	wf := model.NewWorkflowContext(nil, nil, nil, model.RunInfo{})
	wf.MergeState(marker.State)
	wf.MergeCache(marker.Cache)
	wf.AppendArtifacts(marker.Artifacts)
	for name, st := range marker.Loops {
		wf.SetLoop(name, st)
	}

	pausedBlock, ok := iv.byID[marker.BlockID]
	if ok && marker.BindValue != "" {
		wf.MergeState(block.Bind(pausedBlock, actionValue))
	}

	startIdx := marker.StepIndex + 1
	marker.Consumed = true
	return ip.loop(ctx, iv, wf, startIdx, marker.GotoDepth, nil)
}

// loop is the core state machine described in §4.E step 4.
func (ip *Interp) loop(ctx context.Context, iv *indexedVersion, wf *model.WorkflowContext, startIdx int, gotoDepth int, deferredQueue []deferredTask) Outcome {
	start := ip.Now()
	deadline := start.Add(model.MaxRunDurationMS * time.Millisecond)

	var steps []model.Step
	cursor := startIdx

	for cursor >= 0 && cursor < len(iv.ordered) {
		if ip.Now().After(deadline) {
			return ip.finishFailed(steps, wf, fmt.Sprintf("run exceeded MAX_RUN_DURATION_MS=%d", model.MaxRunDurationMS))
		}
		select {
		case <-ctx.Done():
			return Outcome{Status: model.RunCancelled, Steps: steps, FinalState: wf.State, ErrorMessage: string(engineerrors.CodeCancelled)}
		default:
		}

		b := iv.ordered[cursor]
		wf.Run.BlockID = b.ID
		wf.Run.BlockName = b.Name
		wf.Run.BlockType = string(b.Type)
		wf.Run.StepIndex = cursor

		rc := &resolve.Context{WF: wf, Block: b, Loop: currentLoop(wf, b)}

		if !ip.Evaluator.Evaluate(b.Conditions, rc) {
			step := newStep(b, model.StepSkipped, ip.Now(), nil, "")
			steps = append(steps, step)
			ip.Observer.OnStep(step)
			cursor++
			continue
		}

		startedAt := ip.Now()
		runningStep := newStep(b, model.StepRunning, startedAt, nil, "")
		ip.Observer.OnStep(runningStep)

		dispatchBlock := *b
		dispatchBlock.Logic = block.ApplyTypoRewrites(b.Type, b.Logic)

		result, herr := ip.Registry.Dispatch(ctx, &dispatchBlock, rc)
		endedAt := ip.Now()
		if herr != nil {
			failStep := newStep(b, model.StepFailed, startedAt, &endedAt, "")
			failStep.Error = stepError(herr)
			steps = append(steps, failStep)
			ip.Observer.OnStep(failStep)
			return ip.finishFailed(steps, wf, fmt.Sprintf("%s: %s", b.Name, herr.Error()))
		}

		switch r := result.(type) {
		case block.Completed:
			wf.MergeState(r.StateDelta)
			wf.MergeCache(r.CacheDelta)
			wf.AppendArtifacts(r.Artifacts)
			step := newStep(b, model.StepCompleted, startedAt, &endedAt, summarize(r.StateDelta))
			steps = append(steps, step)
			ip.Observer.OnStep(step)
			cursor++

		case block.Paused:
			step := newStep(b, model.StepCompleted, startedAt, &endedAt, "paused")
			steps = append(steps, step)
			ip.Observer.OnStep(step)
			marker := &model.ResumeMarker{
				Token:     uuid.NewString(),
				BlockID:   b.ID,
				BindValue: bindFieldValue(b),
				StepIndex: cursor,
				State:     wf.State,
				Cache:     wf.Cache,
				Artifacts: wf.Artifacts,
				Loops:     wf.Loops,
				GotoDepth: gotoDepth,
				PauseKind: r.Kind,
				PausePayload: r.Payload,
			}
			return Outcome{
				Status:     model.RunAwaitingAction,
				Steps:      steps,
				FinalState: wf.State,
				Pause:      &PauseOutcome{Marker: marker},
			}

		case block.Goto:
			target, ok := iv.byID[r.Target]
			if !ok {
				failStep := newStep(b, model.StepFailed, startedAt, &endedAt, "")
				failStep.Error = &model.StepError{Kind: string(engineerrors.CodeGotoTargetMissing), Message: "goto target not found: " + r.Target}
				steps = append(steps, failStep)
				ip.Observer.OnStep(failStep)
				return ip.finishFailed(steps, wf, fmt.Sprintf("%s: goto target not found: %s", b.Name, r.Target))
			}

			completedStep := newStep(b, model.StepCompleted, startedAt, &endedAt, "goto")
			steps = append(steps, completedStep)
			ip.Observer.OnStep(completedStep)

			if r.Defer {
				nextIdx := advanceLoop(wf, r.LoopName)
				deferredQueue = append(deferredQueue, deferredTask{target: target, loopName: r.LoopName, index: nextIdx, maxConcurrent: r.MaxConcurrent})
				cursor++
				continue
			}

			gotoDepth++
			if gotoDepth > model.MaxGotoDepth {
				return ip.finishFailed(steps, wf, fmt.Sprintf("%s: goto depth exceeded MAX_GOTO_DEPTH=%d", b.Name, model.MaxGotoDepth))
			}
			if r.LoopName != "" {
				advanceLoop(wf, r.LoopName)
			}
			cursor = iv.indexOf(target.ID)
			continue

		default:
			return ip.finishFailed(steps, wf, fmt.Sprintf("%s: handler returned unrecognised result type", b.Name))
		}
	}

	if len(deferredQueue) > 0 {
		artifactsFromDefer, err := ip.drainDeferred(ctx, deferredQueue, wf)
		if err != nil {
			return ip.finishFailed(steps, wf, err.Error())
		}
		wf.AppendArtifacts(artifactsFromDefer)
	}

	return Outcome{
		Status:     model.RunCompleted,
		Steps:      steps,
		FinalState: wf.State,
		Artifacts:  wf.Artifacts,
	}
}

// drainDeferred runs every queued deferred task against a snapshot of wf,
// up to min(maxConcurrent, MAX_CONCURRENT_DEFERRED) workers at a time,
// and merges each worker's writes back at the barrier (§4.E step 4,
// §5's last-write-wins reconciliation).
func (ip *Interp) drainDeferred(ctx context.Context, queue []deferredTask, wf *model.WorkflowContext) ([]model.Artifact, error) {
	concurrency := model.MaxConcurrentDeferred
	for _, task := range queue {
		if task.maxConcurrent > 0 && task.maxConcurrent < concurrency {
			concurrency = task.maxConcurrent
		}
	}
	if len(queue) < concurrency {
		concurrency = len(queue)
	}
	if concurrency < 1 {
		concurrency = 1
	}

	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error

	for _, task := range queue {
		task := task
		sem <- struct{}{}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			snap := wf.Snapshot()
			snap.SetLoop(task.loopName, &model.LoopState{Index: task.index})
			rc := &resolve.Context{WF: snap, Block: task.target, Loop: &resolve.Loop{Index: task.index}}

			dispatchBlock := *task.target
			dispatchBlock.Logic = block.ApplyTypoRewrites(task.target.Type, task.target.Logic)

			result, err := ip.Registry.Dispatch(ctx, &dispatchBlock, rc)
			if err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = fmt.Errorf("%s: %w", task.target.Name, err)
				}
				mu.Unlock()
				return
			}
			if c, ok := result.(block.Completed); ok {
				mu.Lock()
				wf.MergeFrom(&model.WorkflowContext{State: c.StateDelta, Cache: c.CacheDelta, Artifacts: c.Artifacts})
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	return nil, nil
}

func (ip *Interp) finishFailed(steps []model.Step, wf *model.WorkflowContext, message string) Outcome {
	return Outcome{Status: model.RunFailed, Steps: steps, FinalState: wf.State, ErrorMessage: message}
}

func newStep(b *model.Block, status model.StepStatus, startedAt time.Time, endedAt *time.Time, summary string) model.Step {
	return model.Step{
		StepID:        uuid.NewString(),
		BlockID:       b.ID,
		Status:        status,
		StartedAt:     startedAt,
		EndedAt:       endedAt,
		OutputSummary: summary,
	}
}

func stepError(err error) *model.StepError {
	if ee, ok := err.(*engineerrors.EngineError); ok {
		return &model.StepError{Kind: string(ee.Code), Message: ee.Message}
	}
	return &model.StepError{Kind: string(engineerrors.CodeInternal), Message: err.Error()}
}

func summarize(delta map[string]any) string {
	if len(delta) == 0 {
		return ""
	}
	keys := make([]string, 0, len(delta))
	for k := range delta {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return fmt.Sprintf("updated: %v", keys)
}

func bindFieldValue(b *model.Block) string {
	field := string(b.Type) + "_bind_value"
	if v, ok := b.Logic[field].(string); ok {
		return v
	}
	return ""
}

func currentLoop(wf *model.WorkflowContext, b *model.Block) *resolve.Loop {
	// Per-block loop variables are only meaningful inside a deferred
	// iteration (handled via drainDeferred's own rc construction); the
	// main sequential loop has no $item/$row/$index scope.
	return nil
}

func advanceLoop(wf *model.WorkflowContext, loopName string) int {
	if loopName == "" {
		return 0
	}
	st := wf.Loop(loopName)
	next := 0
	if st != nil {
		next = st.Index + 1
	}
	wf.SetLoop(loopName, &model.LoopState{Index: next})
	return next
}

