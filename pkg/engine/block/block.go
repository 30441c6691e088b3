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

// Package block holds the block registry and the per-type handlers: the
// mapping (Block, Context) -> BlockResult. Handlers are fallible; they must
// not touch ctx.WF.Secrets and may only write state/cache via the returned
// delta fields.
package block

import (
	"context"
	"strings"
	"sync"

	engineerrors "github.com/vsync-io/workflow-engine/pkg/errors"

	"github.com/vsync-io/workflow-engine/pkg/engine/model"
	"github.com/vsync-io/workflow-engine/pkg/engine/resolve"
)

// Result is the sum type a handler returns, per the "sum types for
// BlockResult" design note: Completed | Paused | Goto, matched exhaustively
// by the interpreter rather than inspected field-by-field.
type Result interface{ isResult() }

// Completed is a handler's normal, synchronous outcome.
type Completed struct {
	StateDelta map[string]any
	CacheDelta map[string]any
	Artifacts  []model.Artifact
}

func (Completed) isResult() {}

// Paused signals a UI block suspending the run pending external input.
type Paused struct {
	Kind    string
	Payload any
}

func (Paused) isResult() {}

// Goto signals a flow-control directive; the handler does not itself jump.
type Goto struct {
	Target        string
	Defer         bool
	MaxConcurrent int
	LoopName      string
}

func (Goto) isResult() {}

// Handler maps one block type's logic and resolved context to a Result.
type Handler interface {
	Handle(ctx context.Context, b *model.Block, rc *resolve.Context) (Result, error)
}

// HandlerFunc adapts a plain function to the Handler interface.
type HandlerFunc func(ctx context.Context, b *model.Block, rc *resolve.Context) (Result, error)

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, b *model.Block, rc *resolve.Context) (Result, error) {
	return f(ctx, b, rc)
}

// Registry holds one handler per block type. Unregistered types fail
// dispatch with HANDLER_UNSUPPORTED, matching platform-bound handlers
// (image/filesystem/ftp/video/location) that may be absent on some
// platforms.
type Registry struct {
	mu       sync.RWMutex
	handlers map[model.BlockType]Handler
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[model.BlockType]Handler)}
}

// Register installs h for type t, replacing any existing handler.
func (r *Registry) Register(t model.BlockType, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[t] = h
}

// Dispatch resolves the handler for b.Type and invokes it. Returns an
// *errors.EngineError with CodeHandlerUnsupported if none is registered.
func (r *Registry) Dispatch(ctx context.Context, b *model.Block, rc *resolve.Context) (Result, error) {
	r.mu.RLock()
	h, ok := r.handlers[b.Type]
	r.mu.RUnlock()
	if !ok {
		return nil, &engineerrors.EngineError{
			Code:    engineerrors.CodeHandlerUnsupported,
			Message: "no handler registered for block type " + string(b.Type),
		}
	}
	return h.Handle(ctx, b, rc)
}

// NewDefault builds a Registry with every handler defined in this package
// wired in, the way production code should construct one; platform-bound
// handlers with no environment-specific implementation are simply left
// unregistered by callers that don't need them.
func NewDefault(deps Deps) *Registry {
	reg := NewRegistry()
	reg.Register(model.BlockObject, HandlerFunc(ObjectHandler))
	reg.Register(model.BlockString, HandlerFunc(StringHandler))
	reg.Register(model.BlockArray, HandlerFunc(ArrayHandler))
	reg.Register(model.BlockMath, HandlerFunc(MathHandler))
	reg.Register(model.BlockDate, HandlerFunc(DateHandler))
	reg.Register(model.BlockNormalize, HandlerFunc(NormalizeHandler))
	if deps.HTTPFetcher != nil {
		reg.Register(model.BlockFetch, HandlerFunc(NewFetchHandler(deps.HTTPFetcher)))
	}
	if deps.AgentInvoker != nil {
		agentHandler := NewAgentHandler(deps.AgentInvoker)
		reg.Register(model.BlockAgent, HandlerFunc(agentHandler))
		reg.Register(model.BlockValidation, HandlerFunc(NewValidationHandler(agentHandler)))
	}
	reg.Register(model.BlockGoto, HandlerFunc(GotoHandler))
	reg.Register(model.BlockSleep, HandlerFunc(SleepHandler))
	reg.Register(model.BlockCode, HandlerFunc(CodeHandler))
	reg.Register(model.BlockUIForm, HandlerFunc(UIFormHandler))
	reg.Register(model.BlockUICamera, HandlerFunc(UICameraHandler))
	reg.Register(model.BlockUITable, HandlerFunc(UITableHandler))
	reg.Register(model.BlockUIDetails, HandlerFunc(UIDetailsHandler))
	if deps.Filesystem != nil {
		reg.Register(model.BlockFilesystem, deps.Filesystem)
	}
	if deps.FTP != nil {
		reg.Register(model.BlockFTP, deps.FTP)
	}
	if deps.Image != nil {
		reg.Register(model.BlockImage, deps.Image)
	}
	if deps.Video != nil {
		reg.Register(model.BlockVideo, deps.Video)
	}
	if deps.Location != nil {
		reg.Register(model.BlockLocation, deps.Location)
	}
	return reg
}

// Deps are the external collaborators the default handler set needs:
// an HTTP client for fetch, an LLM provider for agent, and optional
// platform-bound handlers that callers may or may not have on hand.
type Deps struct {
	HTTPFetcher  Fetcher
	AgentInvoker AgentInvoker

	Filesystem Handler
	FTP        Handler
	Image      Handler
	Video      Handler
	Location   Handler
}

// commonMistakes maps a misnamed logic field to its canonical name, per
// block type. Logic validation rewrites these before dispatch so authors
// who typo a field name still get the intended behaviour.
var commonMistakes = map[model.BlockType]map[string]string{
	model.BlockFetch: {
		"fetch_timeout":     "fetch_timeout_ms",
		"fetch_retries":     "fetch_max_retries",
		"fetch_retry_delay": "fetch_retry_delay_ms",
		"fetch_bind":        "fetch_bind_value",
		"url":               "fetch_url",
		"method":            "fetch_method",
	},
	model.BlockSleep: {
		"sleep_ms":       "sleep_duration_ms",
		"duration_ms":    "sleep_duration_ms",
		"sleep_duration": "sleep_duration_ms",
	},
	model.BlockGoto: {
		"goto_target":     "goto_target_block_id",
		"target_block_id": "goto_target_block_id",
		"goto_max":        "goto_max_concurrent",
		"max_concurrent":  "goto_max_concurrent",
		"defer":           "goto_defer",
		"loop_name":       "goto_loop_name",
	},
	model.BlockString: {
		"bind":      "string_bind_value",
		"operation": "string_operation",
	},
	model.BlockObject: {
		"bind":      "object_bind_value",
		"operation": "object_operation",
	},
	model.BlockArray: {
		"bind":      "array_bind_value",
		"operation": "array_operation",
	},
	model.BlockValidation: {
		"type":   "agent_type",
		"prompt": "agent_prompt",
	},
}

// ApplyTypoRewrites copies logic, renaming any key that commonMistakes maps
// for t to its canonical name. Canonical keys already present win over a
// simultaneously-supplied misspelling.
func ApplyTypoRewrites(t model.BlockType, logic map[string]any) map[string]any {
	rewrites, ok := commonMistakes[t]
	if !ok || logic == nil {
		return logic
	}
	out := make(map[string]any, len(logic))
	for k, v := range logic {
		out[k] = v
	}
	for wrong, canonical := range rewrites {
		if v, present := out[wrong]; present {
			if _, already := out[canonical]; !already {
				out[canonical] = v
			}
			delete(out, wrong)
		}
	}
	return out
}

// bindField returns the "<type>_bind_value" field name for t.
func bindField(t model.BlockType) string {
	return string(t) + "_bind_value"
}

// Bind resolves the bind-value target for block b (accepting either
// "$state.X" or a plain "X") and returns the state delta that writes value
// there. A block with no bind_value configured contributes no delta.
func Bind(b *model.Block, value any) map[string]any {
	raw, ok := b.Logic[bindField(b.Type)]
	if !ok {
		return nil
	}
	key, ok := raw.(string)
	if !ok || key == "" {
		return nil
	}
	key = strings.TrimPrefix(key, "$state.")
	return map[string]any{key: value}
}

// opField returns the "<type>_operation" field name for t.
func opField(t model.BlockType) string {
	return string(t) + "_operation"
}

func operation(b *model.Block) string {
	if v, ok := b.Logic[opField(b.Type)]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
