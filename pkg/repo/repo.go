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

// Package repo defines the persistence contract (§4.J): narrow,
// collection-scoped repository interfaces over the data model, with an
// in-memory reference implementation (pkg/repo/memory) for tests and a
// SQLite reference implementation (pkg/repo/sqlite) for single-node
// deployment, matching the teacher's own optional-backend convention.
package repo

import (
	"context"

	"github.com/vsync-io/workflow-engine/pkg/engine/model"
)

// WorkflowRepo stores Workflow rows.
type WorkflowRepo interface {
	Create(ctx context.Context, wf *model.Workflow) error
	Get(ctx context.Context, id string) (*model.Workflow, error)
	GetByPublicSlug(ctx context.Context, slug string) (*model.Workflow, error)
	Update(ctx context.Context, wf *model.Workflow) error
	List(ctx context.Context, orgID string) ([]*model.Workflow, error)
	Delete(ctx context.Context, id string) error
}

// VersionRepo stores WorkflowVersion rows (including their Blocks).
// Published versions are immutable: Create is the only mutator a caller
// should use once Status == model.VersionPublished.
type VersionRepo interface {
	Create(ctx context.Context, v *model.WorkflowVersion) error
	Get(ctx context.Context, workflowID string, version int) (*model.WorkflowVersion, error)
	GetActive(ctx context.Context, workflowID string, activeVersion int) (*model.WorkflowVersion, error)
	List(ctx context.Context, workflowID string) ([]*model.WorkflowVersion, error)
}

// RunRepo stores Run rows.
type RunRepo interface {
	Save(ctx context.Context, r *model.Run) error
	Get(ctx context.Context, id string) (*model.Run, error)
	ListByWorkflow(ctx context.Context, workflowID string, limit int) ([]*model.Run, error)
}

// KeyRepo stores Key rows and their audit trail, resolving by the scoped
// lookup order the credential store (§4.D) needs:
// (orgId, workflowId, name) then (orgId, name, workflowId=null).
type KeyRepo interface {
	Save(ctx context.Context, k *model.Key) error
	Resolve(ctx context.Context, orgID, workflowID, name string) (*model.Key, error)
	Get(ctx context.Context, id string) (*model.Key, error)
	ListByOrg(ctx context.Context, orgID string) ([]*model.Key, error)
	Revoke(ctx context.Context, id string) error
	AppendAudit(ctx context.Context, e *model.KeyAuditEntry) error
	ListAudit(ctx context.Context, keyID string) ([]*model.KeyAuditEntry, error)
}

// PublicRunRepo stores PublicRun audit rows written by the public-run
// gate for every accepted attempt against a public slug; a rejected
// attempt writes no row.
type PublicRunRepo interface {
	Append(ctx context.Context, pr *model.PublicRun) error
	ListByWorkflow(ctx context.Context, workflowID string, limit int) ([]*model.PublicRun, error)
}

// Repo bundles the full persistence contract, matching the teacher's own
// "Backend" aggregate interface over its narrower per-concern stores.
type Repo interface {
	Workflows() WorkflowRepo
	Versions() VersionRepo
	Runs() RunRepo
	Keys() KeyRepo
	PublicRuns() PublicRunRepo
	Close() error
}
