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

package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vsync-io/workflow-engine/pkg/engine/model"
)

func newTestBackend(t *testing.T) *Backend {
	t.Helper()
	path := filepath.Join(t.TempDir(), "engine.db")
	b, err := New(Config{Path: path, WAL: true})
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	return b
}

func TestWorkflowRoundTrip(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	wf := &model.Workflow{
		ID: "wf-1", OrgID: "org-1", Name: "demo", IsPublic: true, PublicSlug: "demo-slug",
		PublicRateLimit: &model.PublicRateLimit{MaxPerMinute: 5},
	}
	require.NoError(t, b.Workflows().Create(ctx, wf))

	got, err := b.Workflows().Get(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, "demo", got.Name)
	assert.Equal(t, 5, got.PublicRateLimit.MaxPerMinute)

	bySlug, err := b.Workflows().GetByPublicSlug(ctx, "demo-slug")
	require.NoError(t, err)
	assert.Equal(t, "wf-1", bySlug.ID)

	got.Name = "renamed"
	require.NoError(t, b.Workflows().Update(ctx, got))
	again, err := b.Workflows().Get(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, "renamed", again.Name)
}

func TestVersionRoundTrip_BlocksSurviveJSON(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()
	require.NoError(t, b.Workflows().Create(ctx, &model.Workflow{ID: "wf-1", OrgID: "org-1", Name: "demo"}))

	v := &model.WorkflowVersion{
		WorkflowID: "wf-1", Version: 1, Status: model.VersionDraft,
		Blocks: []*model.Block{{ID: "b1", Type: model.BlockObject, Order: 0, Logic: map[string]any{"object_operation": "set"}}},
	}
	require.NoError(t, b.Versions().Create(ctx, v))

	got, err := b.Versions().Get(ctx, "wf-1", 1)
	require.NoError(t, err)
	require.Len(t, got.Blocks, 1)
	assert.Equal(t, "b1", got.Blocks[0].ID)
}

func TestVersionRoundTrip_PublishedIsImmutable(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()
	require.NoError(t, b.Workflows().Create(ctx, &model.Workflow{ID: "wf-1", OrgID: "org-1"}))
	require.NoError(t, b.Versions().Create(ctx, &model.WorkflowVersion{WorkflowID: "wf-1", Version: 1, Status: model.VersionPublished}))

	err := b.Versions().Create(ctx, &model.WorkflowVersion{WorkflowID: "wf-1", Version: 1, Status: model.VersionDraft})
	assert.Error(t, err)
}

func TestRunRoundTrip(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()
	require.NoError(t, b.Workflows().Create(ctx, &model.Workflow{ID: "wf-1", OrgID: "org-1"}))

	run := &model.Run{
		ID: "r1", WorkflowID: "wf-1", Version: 1, OrgID: "org-1", Status: model.RunRunning,
		TriggerType: model.TriggerAPI, StartedAt: time.Now().UTC(),
		Steps: []model.Step{{StepID: "s1", BlockID: "b1", Status: model.StepCompleted}},
	}
	require.NoError(t, b.Runs().Save(ctx, run))

	got, err := b.Runs().Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, model.RunRunning, got.Status)
	require.Len(t, got.Steps, 1)

	now := time.Now().UTC()
	run.Status = model.RunCompleted
	run.CompletedAt = &now
	require.NoError(t, b.Runs().Save(ctx, run))

	got2, err := b.Runs().Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, model.RunCompleted, got2.Status)
	require.NotNil(t, got2.CompletedAt)

	list, err := b.Runs().ListByWorkflow(ctx, "wf-1", 0)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestKeyResolveScopedBeforeOrgWide(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	require.NoError(t, b.Keys().Save(ctx, &model.Key{
		ID: "k-org", OrgID: "org-1", Name: "openai", EncryptedValue: "ct", IV: "iv", Algorithm: "AES-256-GCM", StorageMode: model.StorageLocal,
	}))
	require.NoError(t, b.Keys().Save(ctx, &model.Key{
		ID: "k-wf", OrgID: "org-1", WorkflowID: "wf-1", Name: "openai", EncryptedValue: "ct2", IV: "iv2", Algorithm: "AES-256-GCM", StorageMode: model.StorageLocal,
	}))

	got, err := b.Keys().Resolve(ctx, "org-1", "wf-1", "openai")
	require.NoError(t, err)
	assert.Equal(t, "k-wf", got.ID)

	got, err = b.Keys().Resolve(ctx, "org-1", "wf-2", "openai")
	require.NoError(t, err)
	assert.Equal(t, "k-org", got.ID)
}

func TestKeyAuditAppendOnly(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()
	require.NoError(t, b.Keys().Save(ctx, &model.Key{
		ID: "k1", OrgID: "org-1", Name: "openai", EncryptedValue: "ct", IV: "iv", Algorithm: "AES-256-GCM", StorageMode: model.StorageLocal,
	}))
	require.NoError(t, b.Keys().AppendAudit(ctx, &model.KeyAuditEntry{ID: "a1", KeyID: "k1", Action: model.AuditCreated, CreatedAt: time.Now()}))
	require.NoError(t, b.Keys().AppendAudit(ctx, &model.KeyAuditEntry{ID: "a2", KeyID: "k1", Action: model.AuditAccessed, CreatedAt: time.Now()}))

	entries, err := b.Keys().ListAudit(ctx, "k1")
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	require.NoError(t, b.Keys().Revoke(ctx, "k1"))
	_, err = b.Keys().Resolve(ctx, "org-1", "", "openai")
	assert.Error(t, err)
}

func TestPublicRunAppendAndList(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()
	require.NoError(t, b.Workflows().Create(ctx, &model.Workflow{ID: "wf-1", OrgID: "org-1"}))
	require.NoError(t, b.PublicRuns().Append(ctx, &model.PublicRun{ID: "p1", WorkflowID: "wf-1", IPHash: "h1", Anonymous: true, CreatedAt: time.Now()}))

	list, err := b.PublicRuns().ListByWorkflow(ctx, "wf-1", 0)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}
