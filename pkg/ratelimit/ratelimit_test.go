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

package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func newTestLimiter(w time.Duration, n int, start time.Time) *Limiter {
	l := New(w, n)
	cur := start
	l.now = func() time.Time { return cur }
	return l
}

func withClock(l *Limiter, t time.Time) {
	l.now = func() time.Time { return t }
}

func TestLimiter_AllowsUpToCap(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l := newTestLimiter(time.Minute, 2, base)
	key := Key{ClientID: "c1", Scope: "internal"}

	r1 := l.Check(key)
	assert.True(t, r1.Allowed)
	assert.Equal(t, 1, r1.Remaining)

	r2 := l.Check(key)
	assert.True(t, r2.Allowed)
	assert.Equal(t, 0, r2.Remaining)
}

func TestLimiter_RejectsOverCap(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l := newTestLimiter(time.Minute, 2, base)
	key := Key{ClientID: "c1", Scope: "internal"}

	l.Check(key)
	l.Check(key)
	r3 := l.Check(key)
	assert.False(t, r3.Allowed)
	assert.GreaterOrEqual(t, r3.RetryAfter, time.Second)
}

func TestLimiter_WindowExpiryAllowsAgain(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l := newTestLimiter(time.Minute, 1, base)
	key := Key{ClientID: "c1", Scope: "public:acme"}

	r1 := l.Check(key)
	assert.True(t, r1.Allowed)

	withClock(l, base.Add(30*time.Second))
	r2 := l.Check(key)
	assert.False(t, r2.Allowed)

	withClock(l, base.Add(61*time.Second))
	r3 := l.Check(key)
	assert.True(t, r3.Allowed)
}

func TestLimiter_MonotonicRejectionUntilStampExpires(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l := newTestLimiter(time.Minute, 1, base)
	key := Key{ClientID: "c1", Scope: "internal"}

	l.Check(key)
	for offset := 1; offset < 60; offset += 10 {
		withClock(l, base.Add(time.Duration(offset)*time.Second))
		r := l.Check(key)
		assert.False(t, r.Allowed, "expected rejection at +%ds", offset)
	}
}

func TestLimiter_KeysAreIndependent(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l := newTestLimiter(time.Minute, 1, base)

	r1 := l.Check(Key{ClientID: "a", Scope: "internal"})
	r2 := l.Check(Key{ClientID: "b", Scope: "internal"})
	assert.True(t, r1.Allowed)
	assert.True(t, r2.Allowed)
}

func TestLimiter_Reap_PrunesEmptyEntries(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l := newTestLimiter(time.Minute, 1, base)
	key := Key{ClientID: "a", Scope: "internal"}
	l.Check(key)

	withClock(l, base.Add(2*time.Minute))
	l.reap()

	l.mu.Lock()
	_, present := l.entries[key]
	l.mu.Unlock()
	assert.False(t, present)
}

func TestDefaults(t *testing.T) {
	assert.Equal(t, 60, DefaultInternalCap)
	assert.Equal(t, 10, DefaultPublicCap)
}
