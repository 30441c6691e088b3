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

// Package eventbus implements the channel-addressed pub/sub fan-out that
// carries run lifecycle and step events out to WebSocket/SSE subscribers.
// Broadcast is best-effort and non-blocking: a slow or closed subscriber
// is pruned rather than allowed to stall the broadcaster.
package eventbus

import (
	"encoding/json"
	"sync"
	"time"
)

// Event is one fan-out message. Timestamp is ISO-8601 (RFC3339).
type Event struct {
	Type      string `json:"type"`
	Payload   any    `json:"payload"`
	Timestamp string `json:"timestamp"`
}

// NewEvent stamps an Event with the given type/payload and the current
// time, formatted per §6.
func NewEvent(eventType string, payload any, now time.Time) Event {
	return Event{Type: eventType, Payload: payload, Timestamp: now.Format(time.RFC3339)}
}

// Subscriber is anything a channel can broadcast an Event to. Send must
// not block indefinitely; implementations typically wrap a buffered
// channel or a non-blocking websocket write. A Send returning false marks
// the subscriber as no longer open — it is removed from every channel it
// was subscribed to.
type Subscriber interface {
	ID() string
	Send(Event) bool
}

// Registry is the channel -> subscriber-set fan-out table.
type Registry struct {
	mu       sync.RWMutex
	subs     map[string]Subscriber          // subscriberID -> Subscriber
	channels map[string]map[string]struct{} // channel -> set<subscriberID>
	members  map[string]map[string]struct{} // subscriberID -> set<channel>
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{
		subs:     make(map[string]Subscriber),
		channels: make(map[string]map[string]struct{}),
		members:  make(map[string]map[string]struct{}),
	}
}

// Register adds sub to the registry, subscribed to no channels yet.
func (r *Registry) Register(sub Subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs[sub.ID()] = sub
	if _, ok := r.members[sub.ID()]; !ok {
		r.members[sub.ID()] = make(map[string]struct{})
	}
}

// Unregister removes sub from every channel and drops it entirely.
func (r *Registry) Unregister(sub Subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(sub.ID())
}

func (r *Registry) removeLocked(subID string) {
	for ch := range r.members[subID] {
		delete(r.channels[ch], subID)
		if len(r.channels[ch]) == 0 {
			delete(r.channels, ch)
		}
	}
	delete(r.members, subID)
	delete(r.subs, subID)
}

// Subscribe adds sub (which must already be Register-ed) to channel.
func (r *Registry) Subscribe(sub Subscriber, channel string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.channels[channel]; !ok {
		r.channels[channel] = make(map[string]struct{})
	}
	r.channels[channel][sub.ID()] = struct{}{}
	if _, ok := r.members[sub.ID()]; !ok {
		r.members[sub.ID()] = make(map[string]struct{})
		r.subs[sub.ID()] = sub
	}
	r.members[sub.ID()][channel] = struct{}{}
}

// Unsubscribe removes sub from channel only.
func (r *Registry) Unsubscribe(sub Subscriber, channel string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.channels[channel], sub.ID())
	if len(r.channels[channel]) == 0 {
		delete(r.channels, channel)
	}
	delete(r.members[sub.ID()], channel)
}

// Broadcast hands event to every subscriber of channel. Non-open
// subscribers (Send returning false) are pruned from every channel they
// belong to. Broadcast only takes a read lock for the fan-out; pruning
// acquires the write lock separately so one slow subscriber never blocks
// concurrent broadcasts on other channels.
func (r *Registry) Broadcast(channel string, event Event) {
	r.mu.RLock()
	subIDs := make([]string, 0, len(r.channels[channel]))
	for id := range r.channels[channel] {
		subIDs = append(subIDs, id)
	}
	targets := make([]Subscriber, 0, len(subIDs))
	for _, id := range subIDs {
		if sub, ok := r.subs[id]; ok {
			targets = append(targets, sub)
		}
	}
	r.mu.RUnlock()

	var dead []string
	for _, sub := range targets {
		if !sub.Send(event) {
			dead = append(dead, sub.ID())
		}
	}
	if len(dead) > 0 {
		r.mu.Lock()
		for _, id := range dead {
			r.removeLocked(id)
		}
		r.mu.Unlock()
	}
}

// BroadcastToMany fans event out to every channel in channels.
func (r *Registry) BroadcastToMany(channels []string, event Event) {
	for _, ch := range channels {
		r.Broadcast(ch, event)
	}
}

// InboundFrame is one client->server control message per §4.G.
type InboundFrame struct {
	Type    string `json:"type"`
	Channel string `json:"channel,omitempty"`
}

// OutboundFrame is one server->client reply to an InboundFrame.
type OutboundFrame struct {
	Type      string `json:"type"`
	Channel   string `json:"channel,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
}

// HandleInbound parses and applies one inbound frame for sub, returning
// the reply to send back. A malformed or unrecognised frame is silently
// dropped (returns ok=false), matching §4.G's "invalid/non-JSON frames
// are silently dropped".
func (r *Registry) HandleInbound(sub Subscriber, raw []byte, now time.Time) (OutboundFrame, bool) {
	var frame InboundFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return OutboundFrame{}, false
	}
	switch frame.Type {
	case "subscribe":
		if frame.Channel == "" {
			return OutboundFrame{}, false
		}
		r.Subscribe(sub, frame.Channel)
		return OutboundFrame{Type: "subscribed", Channel: frame.Channel}, true
	case "unsubscribe":
		if frame.Channel == "" {
			return OutboundFrame{}, false
		}
		r.Unsubscribe(sub, frame.Channel)
		return OutboundFrame{Type: "unsubscribed", Channel: frame.Channel}, true
	case "ping":
		return OutboundFrame{Type: "pong", Timestamp: now.Format(time.RFC3339)}, true
	default:
		return OutboundFrame{}, false
	}
}

// OrgChannel, RunChannel, and WorkflowChannel build the canonical channel
// names addressed by org/run/workflow id, per §2's channel-addressing
// scheme.
func OrgChannel(orgID string) string      { return "org:" + orgID }
func RunChannel(runID string) string      { return "run:" + runID }
func WorkflowChannel(wfID string) string  { return "workflow:" + wfID }
