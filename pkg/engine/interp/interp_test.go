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

package interp

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/vsync-io/workflow-engine/pkg/engine/block"
	"github.com/vsync-io/workflow-engine/pkg/engine/condition"
	"github.com/vsync-io/workflow-engine/pkg/engine/model"
)

func testRegistry() *block.Registry {
	return block.NewDefault(block.Deps{})
}

func newTestWF(event map[string]any) *model.WorkflowContext {
	return model.NewWorkflowContext(event, nil, nil, model.RunInfo{ID: "run-1", WorkflowID: "wf-1"})
}

// Scenario 2 from §8: a single block gated by a false condition is
// skipped, and the run still completes.
func TestInterp_ConditionSkip(t *testing.T) {
	reg := testRegistry()
	ev := condition.New()
	ip := New(reg, ev, nil, nil)

	b := &model.Block{
		ID: "b1", Name: "maybe", Type: model.BlockObject, Order: 0,
		Logic:      map[string]any{"object_operation": "set", "object_value": "x", "object_bind_value": "$state.touched"},
		Conditions: []model.Predicate{{Left: "$event.go", Operator: "==", Right: "yes"}},
	}
	version := &model.WorkflowVersion{Blocks: []*model.Block{b}}
	wf := newTestWF(map[string]any{"go": "no"})

	outcome := ip.Run(context.Background(), version, wf)

	assert.Equal(t, model.RunCompleted, outcome.Status)
	assert.Len(t, outcome.Steps, 1)
	assert.Equal(t, model.StepSkipped, outcome.Steps[0].Status)
	_, touched := outcome.FinalState["touched"]
	assert.False(t, touched)
}

// Scenario 1 from §8 (simplified: object block instead of fetch, since
// fetch needs a live collaborator): two blocks run in sequence, state
// threads from the first into the second's template.
func TestInterp_LinearSuccess(t *testing.T) {
	reg := testRegistry()
	ev := condition.New()
	ip := New(reg, ev, nil, nil)

	b1 := &model.Block{
		ID: "b1", Name: "setName", Type: model.BlockObject, Order: 0,
		Logic: map[string]any{"object_operation": "set", "object_value": "Ada", "object_bind_value": "$state.name"},
	}
	b2 := &model.Block{
		ID: "b2", Name: "greet", Type: model.BlockString, Order: 1,
		Logic: map[string]any{"string_operation": "template", "string_template": "hi {{$state.name}}", "string_bind_value": "$state.greeting"},
	}
	version := &model.WorkflowVersion{Blocks: []*model.Block{b1, b2}}
	wf := newTestWF(nil)

	outcome := ip.Run(context.Background(), version, wf)

	assert.Equal(t, model.RunCompleted, outcome.Status)
	assert.Len(t, outcome.Steps, 2)
	assert.Equal(t, "hi Ada", outcome.FinalState["greeting"])
}

// Scenario 3 from §8: a synchronous goto loop increments state.i until a
// condition on the jump-back block stops it, bounded by MAX_GOTO_DEPTH.
func TestInterp_SynchronousGotoLoop(t *testing.T) {
	reg := testRegistry()
	ev := condition.New()
	ip := New(reg, ev, nil, nil)

	incr := &model.Block{
		ID: "A", Name: "increment", Type: model.BlockMath, Order: 0,
		Logic: map[string]any{
			"math_operation":  "increment",
			"math_target":     "$state.i",
			"math_bind_value": "$state.i",
		},
	}
	jump := &model.Block{
		ID: "B", Name: "loopBack", Type: model.BlockGoto, Order: 1,
		Logic:      map[string]any{"goto_target_block_id": "A", "goto_loop_name": "L"},
		Conditions: []model.Predicate{{Left: "$state.i", Operator: "<", Right: 3.0}},
	}
	version := &model.WorkflowVersion{Blocks: []*model.Block{incr, jump}}
	wf := newTestWF(nil)

	outcome := ip.Run(context.Background(), version, wf)

	assert.Equal(t, model.RunCompleted, outcome.Status)
	assert.Equal(t, 3.0, outcome.FinalState["i"])
	assert.Len(t, outcome.Steps, 6) // A,B,A,B,A,B (third B skipped once i reaches 3)
}

func TestInterp_GotoTargetMissing(t *testing.T) {
	reg := testRegistry()
	ev := condition.New()
	ip := New(reg, ev, nil, nil)

	b := &model.Block{
		ID: "b1", Name: "jump", Type: model.BlockGoto, Order: 0,
		Logic: map[string]any{"goto_target_block_id": "nowhere"},
	}
	version := &model.WorkflowVersion{Blocks: []*model.Block{b}}
	outcome := ip.Run(context.Background(), version, newTestWF(nil))

	assert.Equal(t, model.RunFailed, outcome.Status)
	assert.Contains(t, outcome.ErrorMessage, "goto target not found")
}

// Scenario 5 from §8: a ui_form block pauses the run; resuming writes
// the submitted value and lets the run complete.
func TestInterp_PauseAndResume(t *testing.T) {
	reg := testRegistry()
	ev := condition.New()
	ip := New(reg, ev, nil, nil)

	form := &model.Block{
		ID: "b1", Name: "form", Type: model.BlockUIForm, Order: 0,
		Logic: map[string]any{
			"ui_form_fields":    []any{map[string]any{"name": "email", "type": "email", "required": true}},
			"ui_form_bind_value": "$state.f",
		},
	}
	greet := &model.Block{
		ID: "b2", Name: "greet", Type: model.BlockString, Order: 1,
		Logic: map[string]any{"string_operation": "template", "string_template": "got {{$state.f}}", "string_bind_value": "$state.msg"},
	}
	version := &model.WorkflowVersion{Blocks: []*model.Block{form, greet}}
	wf := newTestWF(nil)

	outcome := ip.Run(context.Background(), version, wf)
	assert.Equal(t, model.RunAwaitingAction, outcome.Status)
	assert.NotNil(t, outcome.Pause)
	assert.Equal(t, "b1", outcome.Pause.Marker.BlockID)

	resumed := ip.Resume(context.Background(), version, outcome.Pause.Marker, "a@b")
	assert.Equal(t, model.RunCompleted, resumed.Status)
	assert.Equal(t, "got a@b", resumed.FinalState["msg"])
}

func TestInterp_DeferredFanOut(t *testing.T) {
	reg := testRegistry()
	ev := condition.New()
	ip := New(reg, ev, nil, nil)

	target := &model.Block{
		ID: "T", Name: "tick", Type: model.BlockObject, Order: 1,
		Logic: map[string]any{"object_operation": "set", "object_value": "done", "object_bind_value": "$state.lastTick"},
	}
	jump := &model.Block{
		ID: "J", Name: "fanout", Type: model.BlockGoto, Order: 0,
		Logic: map[string]any{
			"goto_target_block_id": "T",
			"goto_defer":            true,
			"goto_max_concurrent":   3.0,
			"goto_loop_name":        "L",
		},
	}
	version := &model.WorkflowVersion{Blocks: []*model.Block{jump, target}}
	wf := newTestWF(nil)

	outcome := ip.Run(context.Background(), version, wf)
	assert.Equal(t, model.RunCompleted, outcome.Status)
	assert.Equal(t, "done", outcome.FinalState["lastTick"])
}

func TestInterp_RunTimeout(t *testing.T) {
	reg := testRegistry()
	ev := condition.New()
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	step := 0
	ip := New(reg, ev, nil, func() time.Time {
		step++
		return clock.Add(time.Duration(step) * 11 * time.Minute)
	})

	b := &model.Block{ID: "b1", Name: "noop", Type: model.BlockObject, Order: 0, Logic: map[string]any{"object_operation": "set", "object_value": 1.0}}
	version := &model.WorkflowVersion{Blocks: []*model.Block{b}}

	outcome := ip.Run(context.Background(), version, newTestWF(nil))
	assert.Equal(t, model.RunFailed, outcome.Status)
	assert.Contains(t, outcome.ErrorMessage, "MAX_RUN_DURATION_MS")
}
