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

// Package memory is an in-memory reference implementation of the
// persistence contract (pkg/repo), suitable for tests and single-process
// development use.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/vsync-io/workflow-engine/pkg/engine/model"
	"github.com/vsync-io/workflow-engine/pkg/repo"
)

// Store is an in-memory Repo. All methods are safe for concurrent use.
type Store struct {
	mu sync.RWMutex

	workflows map[string]*model.Workflow
	versions  map[string]*model.WorkflowVersion // key: workflowID + "@" + version
	runs      map[string]*model.Run
	keys      map[string]*model.Key
	keyAudit  map[string][]*model.KeyAuditEntry
	publicRun []*model.PublicRun
}

// New returns an empty in-memory Store.
func New() *Store {
	return &Store{
		workflows: make(map[string]*model.Workflow),
		versions:  make(map[string]*model.WorkflowVersion),
		runs:      make(map[string]*model.Run),
		keys:      make(map[string]*model.Key),
		keyAudit:  make(map[string][]*model.KeyAuditEntry),
	}
}

func versionKey(workflowID string, version int) string {
	return fmt.Sprintf("%s@%d", workflowID, version)
}

var (
	_ repo.Repo = (*Store)(nil)
)

func (s *Store) Workflows() repo.WorkflowRepo   { return (*workflowRepo)(s) }
func (s *Store) Versions() repo.VersionRepo      { return (*versionRepo)(s) }
func (s *Store) Runs() repo.RunRepo              { return (*runRepo)(s) }
func (s *Store) Keys() repo.KeyRepo              { return (*keyRepo)(s) }
func (s *Store) PublicRuns() repo.PublicRunRepo  { return (*publicRunRepo)(s) }
func (s *Store) Close() error                    { return nil }

type workflowRepo Store

func (r *workflowRepo) Create(ctx context.Context, wf *model.Workflow) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.workflows[wf.ID]; exists {
		return fmt.Errorf("workflow already exists: %s", wf.ID)
	}
	cp := *wf
	s.workflows[wf.ID] = &cp
	return nil
}

func (r *workflowRepo) Get(ctx context.Context, id string) (*model.Workflow, error) {
	s := (*Store)(r)
	s.mu.RLock()
	defer s.mu.RUnlock()
	wf, ok := s.workflows[id]
	if !ok {
		return nil, fmt.Errorf("workflow not found: %s", id)
	}
	cp := *wf
	return &cp, nil
}

func (r *workflowRepo) GetByPublicSlug(ctx context.Context, slug string) (*model.Workflow, error) {
	s := (*Store)(r)
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, wf := range s.workflows {
		if wf.IsPublic && wf.PublicSlug == slug {
			cp := *wf
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("no public workflow with slug: %s", slug)
}

func (r *workflowRepo) Update(ctx context.Context, wf *model.Workflow) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.workflows[wf.ID]; !ok {
		return fmt.Errorf("workflow not found: %s", wf.ID)
	}
	cp := *wf
	s.workflows[wf.ID] = &cp
	return nil
}

func (r *workflowRepo) List(ctx context.Context, orgID string) ([]*model.Workflow, error) {
	s := (*Store)(r)
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.Workflow
	for _, wf := range s.workflows {
		if orgID == "" || wf.OrgID == orgID {
			cp := *wf
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *workflowRepo) Delete(ctx context.Context, id string) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.workflows, id)
	return nil
}

type versionRepo Store

func (r *versionRepo) Create(ctx context.Context, v *model.WorkflowVersion) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	key := versionKey(v.WorkflowID, v.Version)
	if existing, ok := s.versions[key]; ok && existing.Status == model.VersionPublished {
		return fmt.Errorf("published version is immutable: %s", key)
	}
	cp := *v
	s.versions[key] = &cp
	return nil
}

func (r *versionRepo) Get(ctx context.Context, workflowID string, version int) (*model.WorkflowVersion, error) {
	s := (*Store)(r)
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.versions[versionKey(workflowID, version)]
	if !ok {
		return nil, fmt.Errorf("version not found: %s@%d", workflowID, version)
	}
	cp := *v
	return &cp, nil
}

func (r *versionRepo) GetActive(ctx context.Context, workflowID string, activeVersion int) (*model.WorkflowVersion, error) {
	return r.Get(ctx, workflowID, activeVersion)
}

func (r *versionRepo) List(ctx context.Context, workflowID string) ([]*model.WorkflowVersion, error) {
	s := (*Store)(r)
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.WorkflowVersion
	for _, v := range s.versions {
		if v.WorkflowID == workflowID {
			cp := *v
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

type runRepo Store

func (r *runRepo) Save(ctx context.Context, run *model.Run) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *run
	s.runs[run.ID] = &cp
	return nil
}

func (r *runRepo) Get(ctx context.Context, id string) (*model.Run, error) {
	s := (*Store)(r)
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	if !ok {
		return nil, fmt.Errorf("run not found: %s", id)
	}
	cp := *run
	return &cp, nil
}

func (r *runRepo) ListByWorkflow(ctx context.Context, workflowID string, limit int) ([]*model.Run, error) {
	s := (*Store)(r)
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.Run
	for _, run := range s.runs {
		if run.WorkflowID == workflowID {
			cp := *run
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type keyRepo Store

func (r *keyRepo) Save(ctx context.Context, k *model.Key) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *k
	s.keys[k.ID] = &cp
	return nil
}

func (r *keyRepo) Get(ctx context.Context, id string) (*model.Key, error) {
	s := (*Store)(r)
	s.mu.RLock()
	defer s.mu.RUnlock()
	k, ok := s.keys[id]
	if !ok {
		return nil, fmt.Errorf("key not found: %s", id)
	}
	cp := *k
	return &cp, nil
}

// Resolve implements the scoped lookup order from §4.D: a workflow-scoped
// key (orgId, workflowId, name) wins over an org-wide key (orgId, name,
// workflowId=""), and revoked keys are never returned.
func (r *keyRepo) Resolve(ctx context.Context, orgID, workflowID, name string) (*model.Key, error) {
	s := (*Store)(r)
	s.mu.RLock()
	defer s.mu.RUnlock()

	var orgWide *model.Key
	for _, k := range s.keys {
		if k.IsRevoked || k.OrgID != orgID || k.Name != name {
			continue
		}
		if workflowID != "" && k.WorkflowID == workflowID {
			cp := *k
			return &cp, nil
		}
		if k.WorkflowID == "" {
			cp := *k
			orgWide = &cp
		}
	}
	if orgWide != nil {
		return orgWide, nil
	}
	return nil, fmt.Errorf("no key named %q resolvable for org %s / workflow %s", name, orgID, workflowID)
}

func (r *keyRepo) ListByOrg(ctx context.Context, orgID string) ([]*model.Key, error) {
	s := (*Store)(r)
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.Key
	for _, k := range s.keys {
		if k.OrgID == orgID {
			cp := *k
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *keyRepo) Revoke(ctx context.Context, id string) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.keys[id]
	if !ok {
		return fmt.Errorf("key not found: %s", id)
	}
	k.IsRevoked = true
	return nil
}

func (r *keyRepo) AppendAudit(ctx context.Context, e *model.KeyAuditEntry) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *e
	s.keyAudit[e.KeyID] = append(s.keyAudit[e.KeyID], &cp)
	return nil
}

func (r *keyRepo) ListAudit(ctx context.Context, keyID string) ([]*model.KeyAuditEntry, error) {
	s := (*Store)(r)
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := append([]*model.KeyAuditEntry(nil), s.keyAudit[keyID]...)
	return out, nil
}

type publicRunRepo Store

func (r *publicRunRepo) Append(ctx context.Context, pr *model.PublicRun) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *pr
	s.publicRun = append(s.publicRun, &cp)
	return nil
}

func (r *publicRunRepo) ListByWorkflow(ctx context.Context, workflowID string, limit int) ([]*model.PublicRun, error) {
	s := (*Store)(r)
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.PublicRun
	for _, pr := range s.publicRun {
		if pr.WorkflowID == workflowID {
			cp := *pr
			out = append(out, &cp)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}
