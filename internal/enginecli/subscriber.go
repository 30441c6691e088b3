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

package enginecli

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/vsync-io/workflow-engine/pkg/eventbus"
)

// TailSubscriber is an eventbus.Subscriber that writes every event it
// receives as a single JSON line to out, shared by every front-end
// command that follows a run or tails a channel.
type TailSubscriber struct {
	id  string
	out io.Writer
}

// NewTailSubscriber builds a TailSubscriber writing to out.
func NewTailSubscriber(out io.Writer) *TailSubscriber {
	return &TailSubscriber{id: fmt.Sprintf("engine-cli-%d", time.Now().UnixNano()), out: out}
}

// ID implements eventbus.Subscriber.
func (s *TailSubscriber) ID() string { return s.id }

// Send implements eventbus.Subscriber, never reporting itself closed:
// a CLI process tails until killed or the run settles, not until a
// transport error occurs.
func (s *TailSubscriber) Send(e eventbus.Event) bool {
	line, err := json.Marshal(e)
	if err != nil {
		return true
	}
	fmt.Fprintln(s.out, string(line))
	return true
}
