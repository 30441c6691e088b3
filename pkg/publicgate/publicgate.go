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

// Package publicgate implements the Public-Run Gate (§4.I): the unauthenticated
// entry point that lets a workflow's publicSlug be invoked directly, subject
// to its own isPublic/isDisabled/publicAccessMode checks and a per-slug rate
// limit, and that records every accepted attempt as a PublicRun audit row.
package publicgate

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	engineerrors "github.com/vsync-io/workflow-engine/pkg/errors"
	"github.com/vsync-io/workflow-engine/pkg/engine/model"
	"github.com/vsync-io/workflow-engine/pkg/engine/run"
	"github.com/vsync-io/workflow-engine/pkg/ratelimit"
	"github.com/vsync-io/workflow-engine/pkg/repo"
)

// Gate is the public-run entry point.
type Gate struct {
	repo    repo.Repo
	runs    *run.Lifecycle
	base    *ratelimit.Limiter
	salt    []byte
	now     func() time.Time

	mu      sync.Mutex
	perSlug map[string]*ratelimit.Limiter
}

// New builds a Gate. base sets the default per-slug window/cap
// (ratelimit.DefaultPublicCap per §4.H); a workflow's own publicRateLimit
// overrides the cap for its slug. salt keys the client-IP hash so stored
// PublicRun rows cannot be reversed to the original address.
func New(r repo.Repo, runs *run.Lifecycle, base *ratelimit.Limiter, salt string) *Gate {
	return &Gate{
		repo:    r,
		runs:    runs,
		base:    base,
		salt:    []byte(salt),
		now:     time.Now,
		perSlug: make(map[string]*ratelimit.Limiter),
	}
}

// RunRequest carries an inbound public-run attempt.
type RunRequest struct {
	Slug      string
	Event     map[string]any
	ClientIP  string
	UserAgent string
	Anonymous bool
}

// Run resolves slug to a Workflow, applies the public-access and rate-limit
// checks from §4.I, and on success forwards into the Run Lifecycle with
// triggerType=api, recording a PublicRun audit row for the accepted attempt.
func (g *Gate) Run(ctx context.Context, req RunRequest) (*model.Run, error) {
	wf, err := g.repo.Workflows().GetByPublicSlug(ctx, req.Slug)
	if err != nil {
		return nil, &engineerrors.NotFoundError{Resource: "workflow", ID: req.Slug}
	}
	if !wf.IsPublic {
		return nil, &engineerrors.ForbiddenError{Action: "public run", Reason: "workflow is not public"}
	}
	if wf.IsDisabled {
		return nil, &engineerrors.ForbiddenError{Action: "public run", Reason: "workflow is disabled"}
	}
	if wf.PublicAccessMode != model.PublicAccessRun {
		return nil, &engineerrors.ForbiddenError{Action: "public run", Reason: "workflow's public access mode does not allow running"}
	}

	limiter := g.limiterFor(wf)
	result := limiter.Check(ratelimit.Key{ClientID: req.ClientIP, Scope: "public:" + wf.PublicSlug})
	if !result.Allowed {
		return nil, &engineerrors.RateLimitedError{
			Key:        wf.PublicSlug,
			RetryAfter: int(result.RetryAfter.Seconds()),
			Limit:      result.Limit,
		}
	}

	version, err := g.repo.Versions().GetActive(ctx, wf.ID, wf.ActiveVersion)
	if err != nil {
		return nil, fmt.Errorf("load active version for public workflow %s: %w", wf.ID, err)
	}

	r, err := g.runs.Submit(ctx, run.SubmitRequest{
		Workflow:    wf,
		Version:     version,
		Event:       req.Event,
		TriggerType: model.TriggerAPI,
		OrgID:       wf.OrgID,
	})
	if err != nil {
		return nil, err
	}

	pr := &model.PublicRun{
		ID:         uuid.NewString(),
		WorkflowID: wf.ID,
		IPHash:     g.hashIP(req.ClientIP),
		UserAgent:  req.UserAgent,
		Anonymous:  req.Anonymous,
		RunID:      r.ID,
		CreatedAt:  g.now(),
	}
	_ = g.repo.PublicRuns().Append(ctx, pr)

	return r, nil
}

// limiterFor returns the rate limiter for wf's slug, creating one with the
// workflow's publicRateLimit override (falling back to the base cap) the
// first time a given slug is seen.
func (g *Gate) limiterFor(wf *model.Workflow) *ratelimit.Limiter {
	g.mu.Lock()
	defer g.mu.Unlock()
	if l, ok := g.perSlug[wf.PublicSlug]; ok {
		return l
	}
	l := g.base
	if wf.PublicRateLimit != nil && wf.PublicRateLimit.MaxPerMinute > 0 {
		l = g.base.WithCap(wf.PublicRateLimit.MaxPerMinute)
	}
	g.perSlug[wf.PublicSlug] = l
	return l
}

func (g *Gate) hashIP(ip string) string {
	mac := hmac.New(sha256.New, g.salt)
	mac.Write([]byte(ip))
	return hex.EncodeToString(mac.Sum(nil))
}
