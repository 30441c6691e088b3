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

package model

import "sync"

// WorkflowContext is the layered read/write surface every block operates
// on. Per the "context as a struct, not a bag" design note, each scope is
// a separate typed field rather than one dynamic map; State and Cache are
// the only scopes blocks may mutate, and only via BlockResult deltas.
//
// Not safe for concurrent writes on State/Cache/Artifacts/Loops — the
// interpreter owns the context and serializes dispatch. Deferred-goto
// fan-out workers get a Snapshot() and merge their writes back at the
// barrier; see pkg/engine/interp.
type WorkflowContext struct {
	mu sync.RWMutex

	State     map[string]any
	Cache     map[string]any
	Artifacts []Artifact
	Secrets   map[string]string
	Event     map[string]any
	Run       RunInfo
	Loops     map[string]*LoopState
	Paths     map[string]string
}

// NewWorkflowContext builds the initial context for a run: empty state and
// cache, the caller-supplied event payload, secrets populated by the
// credential store, and the trigger-derived run scope.
func NewWorkflowContext(event map[string]any, secrets map[string]string, paths map[string]string, run RunInfo) *WorkflowContext {
	if event == nil {
		event = map[string]any{}
	}
	if secrets == nil {
		secrets = map[string]string{}
	}
	if paths == nil {
		paths = map[string]string{}
	}
	return &WorkflowContext{
		State:     map[string]any{},
		Cache:     map[string]any{},
		Artifacts: []Artifact{},
		Secrets:   secrets,
		Event:     event,
		Run:       run,
		Loops:     map[string]*LoopState{},
		Paths:     paths,
	}
}

// MergeState merges delta into State under the write lock. Nil is a no-op.
func (c *WorkflowContext) MergeState(delta map[string]any) {
	if len(delta) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, v := range delta {
		c.State[k] = v
	}
}

// MergeCache merges delta into Cache under the write lock.
func (c *WorkflowContext) MergeCache(delta map[string]any) {
	if len(delta) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, v := range delta {
		c.Cache[k] = v
	}
}

// AppendArtifacts appends to Artifacts under the write lock.
func (c *WorkflowContext) AppendArtifacts(artifacts []Artifact) {
	if len(artifacts) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Artifacts = append(c.Artifacts, artifacts...)
}

// SetLoop sets (or replaces) the named loop's state.
func (c *WorkflowContext) SetLoop(name string, st *LoopState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Loops[name] = st
}

// Loop reads the named loop's state. Returns nil if absent.
func (c *WorkflowContext) Loop(name string) *LoopState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Loops[name]
}

// Snapshot returns a deep-enough copy for a deferred fan-out iteration: a
// fresh State/Cache map (shallow-copied values) and a fresh Loops map, so a
// sibling task can set its own `$loops.<name>.index` without racing its
// peers. Per §5, last-write-wins on key collisions at merge is acceptable.
func (c *WorkflowContext) Snapshot() *WorkflowContext {
	c.mu.RLock()
	defer c.mu.RUnlock()

	state := make(map[string]any, len(c.State))
	for k, v := range c.State {
		state[k] = v
	}
	cache := make(map[string]any, len(c.Cache))
	for k, v := range c.Cache {
		cache[k] = v
	}
	loops := make(map[string]*LoopState, len(c.Loops))
	for k, v := range c.Loops {
		cp := *v
		loops[k] = &cp
	}
	secrets := make(map[string]string, len(c.Secrets))
	for k, v := range c.Secrets {
		secrets[k] = v
	}
	artifacts := make([]Artifact, len(c.Artifacts))
	copy(artifacts, c.Artifacts)

	return &WorkflowContext{
		State:     state,
		Cache:     cache,
		Artifacts: artifacts,
		Secrets:   secrets,
		Event:     c.Event,
		Run:       c.Run,
		Loops:     loops,
		Paths:     c.Paths,
	}
}

// MergeFrom reconciles a sibling snapshot's state/cache/artifacts back into
// c at the deferred-fan-out barrier. Last-write-wins on key collisions.
func (c *WorkflowContext) MergeFrom(other *WorkflowContext) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, v := range other.State {
		c.State[k] = v
	}
	for k, v := range other.Cache {
		c.Cache[k] = v
	}
	c.Artifacts = append(c.Artifacts, other.Artifacts...)
}

// ReservedStateKeys are the top-level variable prefixes that must not be
// used as user-defined state keys (§6 External Interfaces).
var ReservedStateKeys = map[string]bool{
	"state": true, "cache": true, "artifacts": true, "secrets": true,
	"paths": true, "event": true, "run": true, "error": true, "now": true,
	"loop": true, "row": true, "item": true, "index": true, "keys": true,
	"block": true,
}
