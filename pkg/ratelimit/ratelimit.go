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

// Package ratelimit implements the sliding-window rate limiter described
// in §4.H: a per-key monotonic timestamp list, pruned on each check. This
// is deliberately not a token bucket (the engine already uses
// golang.org/x/time/rate for the fetch block's outbound throttle, a
// different concern) — the inbound limiter needs the exact
// Retry-After-by-oldest-stamp computation the spec names, which a token
// bucket doesn't expose directly.
package ratelimit

import (
	"math"
	"sync"
	"time"
)

// Key identifies one rate-limited subject: a client scoped to one concern
// (e.g. "internal API calls" or a specific public workflow slug).
type Key struct {
	ClientID string
	Scope    string
}

// Result is the outcome of a Check call.
type Result struct {
	Allowed    bool
	Remaining  int
	Limit      int
	RetryAfter time.Duration // only meaningful when !Allowed
	ResetAt    time.Time
}

type entry struct {
	stamps []time.Time
}

// Limiter is a sliding-window limiter shared across all keys, guarded by
// a single mutex per §5 ("rate-limiter map is shared; guarded by a mutex
// or sharded per-key" — a single mutex is adequate at the cardinality
// this spec targets).
type Limiter struct {
	mu      sync.Mutex
	window  time.Duration
	cap     int
	entries map[Key]*entry
	now     func() time.Time

	stopReaper chan struct{}
}

// DefaultInternalCap and DefaultPublicCap are the spec's named defaults
// (§4.H): 60 req/min internal, 10 req/min public-per-slug.
const (
	DefaultInternalCap = 60
	DefaultPublicCap   = 10
	reaperInterval     = 60 * time.Second
)

// New returns a Limiter with window w and cap n requests per window.
func New(w time.Duration, n int) *Limiter {
	return &Limiter{
		window:  w,
		cap:     n,
		entries: make(map[Key]*entry),
		now:     time.Now,
	}
}

// Check applies the algorithm in §4.H at key for the current time: drop
// stamps outside the window, reject if the remaining count is already at
// cap, otherwise record this request and accept.
func (l *Limiter) Check(key Key) Result {
	l.mu.Lock()
	defer l.mu.Unlock()

	t := l.now()
	e, ok := l.entries[key]
	if !ok {
		e = &entry{}
		l.entries[key] = e
	}

	cutoff := t.Add(-l.window)
	kept := e.stamps[:0]
	for _, s := range e.stamps {
		if s.After(cutoff) {
			kept = append(kept, s)
		}
	}
	e.stamps = kept

	if len(e.stamps) >= l.cap {
		oldest := e.stamps[0]
		retryAfterSec := math.Ceil(oldest.Add(l.window).Sub(t).Seconds())
		if retryAfterSec < 1 {
			retryAfterSec = 1
		}
		return Result{
			Allowed:    false,
			Remaining:  0,
			Limit:      l.cap,
			RetryAfter: time.Duration(retryAfterSec) * time.Second,
			ResetAt:    oldest.Add(l.window),
		}
	}

	e.stamps = append(e.stamps, t)
	return Result{
		Allowed:   true,
		Remaining: l.cap - len(e.stamps),
		Limit:     l.cap,
		ResetAt:   t.Add(l.window),
	}
}

// WithCap returns a copy of an existing Limiter's configuration (window)
// applied to a new cap, for the public-gate's per-workflow override of
// the default public rate limit (§4.H: "overridable by workflow's
// publicRateLimit").
func (l *Limiter) WithCap(n int) *Limiter {
	return New(l.window, n)
}

// StartReaper launches a background goroutine pruning empty entries every
// 60s, per §4.H. Call Stop to terminate it.
func (l *Limiter) StartReaper() {
	l.mu.Lock()
	if l.stopReaper != nil {
		l.mu.Unlock()
		return
	}
	l.stopReaper = make(chan struct{})
	stop := l.stopReaper
	l.mu.Unlock()

	go func() {
		ticker := time.NewTicker(reaperInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				l.reap()
			}
		}
	}()
}

// Stop halts the background reaper, if running.
func (l *Limiter) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopReaper != nil {
		close(l.stopReaper)
		l.stopReaper = nil
	}
}

func (l *Limiter) reap() {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := l.now().Add(-l.window)
	for k, e := range l.entries {
		kept := e.stamps[:0]
		for _, s := range e.stamps {
			if s.After(cutoff) {
				kept = append(kept, s)
			}
		}
		e.stamps = kept
		if len(e.stamps) == 0 {
			delete(l.entries, k)
		}
	}
}
