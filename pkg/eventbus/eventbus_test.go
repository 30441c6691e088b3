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

package eventbus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeSubscriber struct {
	id       string
	received []Event
	open     bool
}

func newFakeSubscriber(id string) *fakeSubscriber {
	return &fakeSubscriber{id: id, open: true}
}

func (f *fakeSubscriber) ID() string { return f.id }
func (f *fakeSubscriber) Send(e Event) bool {
	if !f.open {
		return false
	}
	f.received = append(f.received, e)
	return true
}

func TestBroadcast_DeliversToChannelSubscribers(t *testing.T) {
	r := New()
	a := newFakeSubscriber("a")
	b := newFakeSubscriber("b")
	r.Register(a)
	r.Register(b)
	r.Subscribe(a, "run:1")
	r.Subscribe(b, "run:2")

	r.Broadcast("run:1", NewEvent("run:completed", map[string]any{"runId": "1"}, time.Now()))

	assert.Len(t, a.received, 1)
	assert.Len(t, b.received, 0)
}

func TestBroadcast_PrunesClosedSubscriber(t *testing.T) {
	r := New()
	a := newFakeSubscriber("a")
	r.Register(a)
	r.Subscribe(a, "run:1")
	a.open = false

	r.Broadcast("run:1", NewEvent("run:failed", nil, time.Now()))

	r.mu.RLock()
	_, stillSubscribed := r.channels["run:1"]
	r.mu.RUnlock()
	assert.False(t, stillSubscribed)
}

func TestBroadcastToMany(t *testing.T) {
	r := New()
	a := newFakeSubscriber("a")
	r.Register(a)
	r.Subscribe(a, "org:1")
	r.Subscribe(a, "workflow:1")

	r.BroadcastToMany([]string{"org:1", "workflow:1"}, NewEvent("workflow:updated", nil, time.Now()))

	assert.Len(t, a.received, 2)
}

func TestUnsubscribe_StopsDelivery(t *testing.T) {
	r := New()
	a := newFakeSubscriber("a")
	r.Register(a)
	r.Subscribe(a, "run:1")
	r.Unsubscribe(a, "run:1")

	r.Broadcast("run:1", NewEvent("run:step", nil, time.Now()))
	assert.Len(t, a.received, 0)
}

func TestUnregister_RemovesFromAllChannels(t *testing.T) {
	r := New()
	a := newFakeSubscriber("a")
	r.Register(a)
	r.Subscribe(a, "run:1")
	r.Subscribe(a, "org:1")
	r.Unregister(a)

	r.Broadcast("run:1", NewEvent("run:step", nil, time.Now()))
	r.Broadcast("org:1", NewEvent("run:step", nil, time.Now()))
	assert.Len(t, a.received, 0)
}

func TestHandleInbound_Subscribe(t *testing.T) {
	r := New()
	a := newFakeSubscriber("a")
	r.Register(a)

	reply, ok := r.HandleInbound(a, []byte(`{"type":"subscribe","channel":"run:1"}`), time.Now())
	assert.True(t, ok)
	assert.Equal(t, "subscribed", reply.Type)
	assert.Equal(t, "run:1", reply.Channel)

	r.Broadcast("run:1", NewEvent("run:step", nil, time.Now()))
	assert.Len(t, a.received, 1)
}

func TestHandleInbound_Ping(t *testing.T) {
	r := New()
	a := newFakeSubscriber("a")
	r.Register(a)

	reply, ok := r.HandleInbound(a, []byte(`{"type":"ping"}`), time.Now())
	assert.True(t, ok)
	assert.Equal(t, "pong", reply.Type)
	assert.NotEmpty(t, reply.Timestamp)
}

func TestHandleInbound_InvalidJSONSilentlyDropped(t *testing.T) {
	r := New()
	a := newFakeSubscriber("a")
	r.Register(a)

	_, ok := r.HandleInbound(a, []byte(`not json`), time.Now())
	assert.False(t, ok)
}

func TestHandleInbound_UnknownTypeSilentlyDropped(t *testing.T) {
	r := New()
	a := newFakeSubscriber("a")
	r.Register(a)

	_, ok := r.HandleInbound(a, []byte(`{"type":"bogus"}`), time.Now())
	assert.False(t, ok)
}

func TestChannelNameHelpers(t *testing.T) {
	assert.Equal(t, "org:o1", OrgChannel("o1"))
	assert.Equal(t, "run:r1", RunChannel("r1"))
	assert.Equal(t, "workflow:w1", WorkflowChannel("w1"))
}
