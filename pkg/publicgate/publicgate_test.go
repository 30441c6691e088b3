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

package publicgate

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vsync-io/workflow-engine/pkg/engine/block"
	"github.com/vsync-io/workflow-engine/pkg/engine/condition"
	"github.com/vsync-io/workflow-engine/pkg/engine/interp"
	"github.com/vsync-io/workflow-engine/pkg/engine/model"
	"github.com/vsync-io/workflow-engine/pkg/engine/run"
	"github.com/vsync-io/workflow-engine/pkg/ratelimit"
	"github.com/vsync-io/workflow-engine/pkg/repo/memory"
)

func newGate(t *testing.T) (*Gate, *memory.Store) {
	t.Helper()
	store := memory.New()
	reg := block.NewDefault(block.Deps{})
	ev := condition.New()
	ip := interp.New(reg, ev, nil, nil)
	lc := run.New(ip, nil, nil)
	limiter := ratelimit.New(time.Minute, ratelimit.DefaultPublicCap)
	return New(store, lc, limiter, "test-salt"), store
}

func seedPublicWorkflow(t *testing.T, store *memory.Store, slug string, maxPerMinute int) {
	t.Helper()
	ctx := context.Background()
	wf := &model.Workflow{
		ID: "wf-1", OrgID: "org-1", IsPublic: true, PublicSlug: slug,
		PublicAccessMode: model.PublicAccessRun, ActiveVersion: 1,
	}
	if maxPerMinute > 0 {
		wf.PublicRateLimit = &model.PublicRateLimit{MaxPerMinute: maxPerMinute}
	}
	require.NoError(t, store.Workflows().Create(ctx, wf))

	b := &model.Block{ID: "b1", Name: "set", Type: model.BlockObject, Order: 0,
		Logic: map[string]any{"object_operation": "set", "object_value": "x", "object_bind_value": "$state.touched"}}
	version := &model.WorkflowVersion{WorkflowID: "wf-1", Version: 1, Status: model.VersionPublished, Blocks: []*model.Block{b}}
	require.NoError(t, store.Versions().Create(ctx, version))
}

func TestRun_AcceptsAndRecordsPublicRun(t *testing.T) {
	gate, store := newGate(t)
	seedPublicWorkflow(t, store, "demo", 0)

	r, err := gate.Run(context.Background(), RunRequest{Slug: "demo", ClientIP: "1.2.3.4", UserAgent: "test-agent"})
	require.NoError(t, err)
	assert.Equal(t, model.RunRunning, r.Status)

	rows, err := store.PublicRuns().ListByWorkflow(context.Background(), "wf-1", 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, r.ID, rows[0].RunID)
	assert.NotEqual(t, "1.2.3.4", rows[0].IPHash)
	assert.NotEmpty(t, rows[0].IPHash)
}

func TestRun_RejectsWhenNotPublic(t *testing.T) {
	gate, store := newGate(t)
	seedPublicWorkflow(t, store, "demo", 0)
	wf, err := store.Workflows().Get(context.Background(), "wf-1")
	require.NoError(t, err)
	wf.IsPublic = false
	require.NoError(t, store.Workflows().Update(context.Background(), wf))

	_, err = gate.Run(context.Background(), RunRequest{Slug: "demo", ClientIP: "1.2.3.4"})
	assert.Error(t, err)
}

func TestRun_RejectsViewOnlyAccessMode(t *testing.T) {
	gate, store := newGate(t)
	seedPublicWorkflow(t, store, "demo", 0)
	wf, err := store.Workflows().Get(context.Background(), "wf-1")
	require.NoError(t, err)
	wf.PublicAccessMode = model.PublicAccessView
	require.NoError(t, store.Workflows().Update(context.Background(), wf))

	_, err = gate.Run(context.Background(), RunRequest{Slug: "demo", ClientIP: "1.2.3.4"})
	assert.Error(t, err)
}

func TestRun_RejectsWhenDisabled(t *testing.T) {
	gate, store := newGate(t)
	seedPublicWorkflow(t, store, "demo", 0)
	wf, err := store.Workflows().Get(context.Background(), "wf-1")
	require.NoError(t, err)
	wf.IsDisabled = true
	require.NoError(t, store.Workflows().Update(context.Background(), wf))

	_, err = gate.Run(context.Background(), RunRequest{Slug: "demo", ClientIP: "1.2.3.4"})
	assert.Error(t, err)
}

func TestRun_RateLimitOverrideRejectsAfterCapAndSkipsAudit(t *testing.T) {
	gate, store := newGate(t)
	seedPublicWorkflow(t, store, "demo", 2)

	_, err := gate.Run(context.Background(), RunRequest{Slug: "demo", ClientIP: "9.9.9.9"})
	require.NoError(t, err)
	_, err = gate.Run(context.Background(), RunRequest{Slug: "demo", ClientIP: "9.9.9.9"})
	require.NoError(t, err)

	_, err = gate.Run(context.Background(), RunRequest{Slug: "demo", ClientIP: "9.9.9.9"})
	require.Error(t, err)

	rows, err := store.PublicRuns().ListByWorkflow(context.Background(), "wf-1", 0)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestRun_UnknownSlugNotFound(t *testing.T) {
	gate, _ := newGate(t)
	_, err := gate.Run(context.Background(), RunRequest{Slug: "missing", ClientIP: "1.2.3.4"})
	assert.Error(t, err)
}
