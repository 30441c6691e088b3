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

package run

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vsync-io/workflow-engine/pkg/engine/block"
	"github.com/vsync-io/workflow-engine/pkg/engine/condition"
	"github.com/vsync-io/workflow-engine/pkg/engine/interp"
	"github.com/vsync-io/workflow-engine/pkg/engine/model"
	"github.com/vsync-io/workflow-engine/pkg/eventbus"
)

func newLifecycle() (*Lifecycle, *eventbus.Registry) {
	reg := block.NewDefault(block.Deps{})
	ev := condition.New()
	ip := interp.New(reg, ev, nil, nil)
	bus := eventbus.New()
	return New(ip, bus, nil), bus
}

type capturingSub struct {
	id     string
	mu     sync.Mutex
	events []eventbus.Event
}

func (c *capturingSub) ID() string { return c.id }
func (c *capturingSub) Send(e eventbus.Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
	return true
}
func (c *capturingSub) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition never became true")
}

func TestSubmit_RunsToCompletion(t *testing.T) {
	lc, bus := newLifecycle()

	b := &model.Block{
		ID: "b1", Name: "set", Type: model.BlockObject, Order: 0,
		Logic: map[string]any{"object_operation": "set", "object_value": "x", "object_bind_value": "$state.touched"},
	}
	version := &model.WorkflowVersion{WorkflowID: "wf-1", Version: 1, Blocks: []*model.Block{b}}
	wfRec := &model.Workflow{ID: "wf-1", OrgID: "org-1"}

	r, err := lc.Submit(context.Background(), SubmitRequest{
		Workflow:    wfRec,
		Version:     version,
		TriggerType: model.TriggerInteractive,
		OrgID:       "org-1",
	})
	require.NoError(t, err)
	assert.Equal(t, model.RunRunning, r.Status)

	sub := &capturingSub{id: "s1"}
	bus.Register(sub)
	bus.Subscribe(sub, eventbus.RunChannel(r.ID))

	waitFor(t, func() bool {
		got, _ := lc.Get(r.ID)
		return got != nil && got.Status == model.RunCompleted
	})

	final, err := lc.Get(r.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunCompleted, final.Status)
	assert.NotNil(t, final.CompletedAt)

	waitFor(t, func() bool { return sub.count() > 0 })
}

func TestSubmit_PauseThenResume(t *testing.T) {
	lc, _ := newLifecycle()

	form := &model.Block{
		ID: "b1", Name: "form", Type: model.BlockUIForm, Order: 0,
		Logic: map[string]any{
			"ui_form_fields":     []any{map[string]any{"name": "email", "type": "email", "required": true}},
			"ui_form_bind_value": "$state.f",
		},
	}
	version := &model.WorkflowVersion{WorkflowID: "wf-2", Version: 1, Blocks: []*model.Block{form}}
	wfRec := &model.Workflow{ID: "wf-2", OrgID: "org-1"}

	r, err := lc.Submit(context.Background(), SubmitRequest{
		Workflow:    wfRec,
		Version:     version,
		TriggerType: model.TriggerAPI,
		OrgID:       "org-1",
	})
	require.NoError(t, err)

	waitFor(t, func() bool {
		got, _ := lc.Get(r.ID)
		return got != nil && got.Status == model.RunAwaitingAction
	})

	paused, err := lc.Get(r.ID)
	require.NoError(t, err)
	require.NotNil(t, paused.ResumeMarker)

	resumed, err := lc.Resume(context.Background(), r.ID, "a@b")
	require.NoError(t, err)
	assert.Equal(t, model.RunRunning, resumed.Status)

	waitFor(t, func() bool {
		got, _ := lc.Get(r.ID)
		return got != nil && got.Status == model.RunCompleted
	})
}

func TestCancel_RejectsFromTerminalState(t *testing.T) {
	lc, _ := newLifecycle()

	b := &model.Block{ID: "b1", Name: "set", Type: model.BlockObject, Order: 0, Logic: map[string]any{"object_operation": "set", "object_value": 1.0}}
	version := &model.WorkflowVersion{WorkflowID: "wf-3", Version: 1, Blocks: []*model.Block{b}}
	wfRec := &model.Workflow{ID: "wf-3", OrgID: "org-1"}

	r, err := lc.Submit(context.Background(), SubmitRequest{Workflow: wfRec, Version: version, TriggerType: model.TriggerInteractive, OrgID: "org-1"})
	require.NoError(t, err)

	waitFor(t, func() bool {
		got, _ := lc.Get(r.ID)
		return got != nil && got.Status == model.RunCompleted
	})

	err = lc.Cancel(r.ID)
	assert.Error(t, err)
}

func TestResume_RejectsWhenNotAwaitingAction(t *testing.T) {
	lc, _ := newLifecycle()

	b := &model.Block{ID: "b1", Name: "set", Type: model.BlockObject, Order: 0, Logic: map[string]any{"object_operation": "set", "object_value": 1.0}}
	version := &model.WorkflowVersion{WorkflowID: "wf-4", Version: 1, Blocks: []*model.Block{b}}
	wfRec := &model.Workflow{ID: "wf-4", OrgID: "org-1"}

	r, err := lc.Submit(context.Background(), SubmitRequest{Workflow: wfRec, Version: version, TriggerType: model.TriggerInteractive, OrgID: "org-1"})
	require.NoError(t, err)

	waitFor(t, func() bool {
		got, _ := lc.Get(r.ID)
		return got != nil && got.Status == model.RunCompleted
	})

	_, err = lc.Resume(context.Background(), r.ID, "x")
	assert.Error(t, err)
}
