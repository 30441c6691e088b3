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

package block

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/vsync-io/workflow-engine/pkg/engine/model"
	"github.com/vsync-io/workflow-engine/pkg/engine/resolve"
)

func newCtx() *resolve.Context {
	wf := model.NewWorkflowContext(nil, map[string]string{"openai": "sk-test"}, nil, model.RunInfo{ID: "run-1", WorkflowID: "wf-1"})
	return &resolve.Context{WF: wf}
}

func TestBind(t *testing.T) {
	b := &model.Block{Type: model.BlockString, Logic: map[string]any{"string_bind_value": "$state.greeting"}}
	delta := Bind(b, "hello")
	assert.Equal(t, map[string]any{"greeting": "hello"}, delta)
}

func TestBind_NoTarget(t *testing.T) {
	b := &model.Block{Type: model.BlockString, Logic: map[string]any{}}
	assert.Nil(t, Bind(b, "hello"))
}

func TestApplyTypoRewrites(t *testing.T) {
	logic := map[string]any{"url": "https://example.com", "fetch_timeout": 5000.0}
	out := ApplyTypoRewrites(model.BlockFetch, logic)
	assert.Equal(t, "https://example.com", out["fetch_url"])
	assert.Equal(t, 5000.0, out["fetch_timeout_ms"])
	_, hasOld := out["url"]
	assert.False(t, hasOld)
}

func TestRegistry_DispatchUnregistered(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Dispatch(context.Background(), &model.Block{Type: model.BlockVideo}, newCtx())
	assert.Error(t, err)
}

func TestGotoHandler(t *testing.T) {
	b := &model.Block{Type: model.BlockGoto, Logic: map[string]any{
		"goto_target_block_id": "block-2",
		"goto_defer":            true,
		"goto_max_concurrent":   5.0,
	}}
	result, err := GotoHandler(context.Background(), b, newCtx())
	assert.NoError(t, err)
	g, ok := result.(Goto)
	assert.True(t, ok)
	assert.Equal(t, "block-2", g.Target)
	assert.True(t, g.Defer)
	assert.Equal(t, 5, g.MaxConcurrent)
}

func TestGotoHandler_MissingTarget(t *testing.T) {
	b := &model.Block{Type: model.BlockGoto, Logic: map[string]any{}}
	_, err := GotoHandler(context.Background(), b, newCtx())
	assert.Error(t, err)
}

func TestGotoHandler_CapsMaxConcurrent(t *testing.T) {
	b := &model.Block{Type: model.BlockGoto, Logic: map[string]any{
		"goto_target_block_id": "block-2",
		"goto_max_concurrent":   1000.0,
	}}
	result, err := GotoHandler(context.Background(), b, newCtx())
	assert.NoError(t, err)
	g := result.(Goto)
	assert.Equal(t, model.MaxConcurrentDeferred, g.MaxConcurrent)
}

type stubInvoker struct {
	resp *AgentResponse
	err  error
	n    int
}

func (s *stubInvoker) Invoke(ctx context.Context, req AgentRequest) (*AgentResponse, error) {
	s.n++
	return s.resp, s.err
}

func TestAgentHandler_TextMode(t *testing.T) {
	invoker := &stubInvoker{resp: &AgentResponse{Text: "hello there"}}
	h := NewAgentHandler(invoker)
	b := &model.Block{Type: model.BlockAgent, Logic: map[string]any{
		"agent_prompt":      "say hi",
		"agent_bind_value":  "$state.reply",
	}}
	result, err := h(context.Background(), b, newCtx())
	assert.NoError(t, err)
	c := result.(Completed)
	assert.Equal(t, "hello there", c.StateDelta["reply"])
	assert.Equal(t, 1, invoker.n)
}

func TestAgentHandler_JSONModeReturnsSchemaValidObject(t *testing.T) {
	invoker := &stubInvoker{resp: &AgentResponse{Text: `{"answer": "42"}`}}
	h := NewAgentHandler(invoker)
	b := &model.Block{Type: model.BlockAgent, Logic: map[string]any{
		"agent_prompt":        "classify",
		"agent_json_mode":     true,
		"agent_output_schema": map[string]any{"required": []any{"answer"}},
		"agent_bind_value":    "$state.result",
	}}
	result, err := h(context.Background(), b, newCtx())
	assert.NoError(t, err)
	c := result.(Completed)
	assert.Equal(t, map[string]any{"answer": "42"}, c.StateDelta["result"])
}

func TestAgentHandler_JSONModeFailsAfterRetries(t *testing.T) {
	invoker := &stubInvoker{resp: &AgentResponse{Text: `{"wrong": "1"}`}}
	h := NewAgentHandler(invoker)
	b := &model.Block{Type: model.BlockAgent, Logic: map[string]any{
		"agent_prompt":        "classify",
		"agent_json_mode":     true,
		"agent_output_schema": map[string]any{"required": []any{"answer"}},
	}}
	_, err := h(context.Background(), b, newCtx())
	assert.Error(t, err)
	assert.Equal(t, maxSchemaRetries, invoker.n)
}

func TestValidationHandler_MapsFieldsAndDelegates(t *testing.T) {
	invoker := &stubInvoker{resp: &AgentResponse{Text: "looks valid"}}
	agentHandler := NewAgentHandler(invoker)
	h := NewValidationHandler(agentHandler)
	b := &model.Block{Type: model.BlockValidation, Logic: map[string]any{
		"validation_prompt":     "is this valid?",
		"validation_bind_value": "$state.verdict",
	}}
	result, err := h(context.Background(), b, newCtx())
	assert.NoError(t, err)
	c := result.(Completed)
	assert.Equal(t, "looks valid", c.StateDelta["verdict"])
}

func TestLocationHandler_Distance(t *testing.T) {
	h := NewLocationHandler()
	b := &model.Block{Type: model.BlockLocation, Logic: map[string]any{
		"location_operation": "distance",
		"location_from":      map[string]any{"lat": 40.7128, "lng": -74.0060},
		"location_to":        map[string]any{"lat": 34.0522, "lng": -118.2437},
		"location_bind_value": "$state.meters",
	}}
	result, err := h.Handle(context.Background(), b, newCtx())
	assert.NoError(t, err)
	c := result.(Completed)
	meters := c.StateDelta["meters"].(float64)
	assert.InDelta(t, 3_935_000, meters, 50_000)
}

func TestLocationHandler_WithinRadius(t *testing.T) {
	h := NewLocationHandler()
	b := &model.Block{Type: model.BlockLocation, Logic: map[string]any{
		"location_operation":     "within_radius",
		"location_center":        map[string]any{"lat": 0.0, "lng": 0.0},
		"location_point":         map[string]any{"lat": 0.0, "lng": 0.0001},
		"location_radius_meters": 50.0,
		"location_bind_value":    "$state.inside",
	}}
	result, err := h.Handle(context.Background(), b, newCtx())
	assert.NoError(t, err)
	c := result.(Completed)
	assert.Equal(t, true, c.StateDelta["inside"])
}

func TestFilesystemHandler_WriteReadDelete(t *testing.T) {
	dir := t.TempDir()
	h := NewFilesystemHandler(dir, []string{"**/*.txt"})

	writeBlock := &model.Block{Type: model.BlockFilesystem, Logic: map[string]any{
		"filesystem_operation": "write",
		"filesystem_path":      "notes/hello.txt",
		"filesystem_content":   "hi there",
	}}
	_, err := h.Handle(context.Background(), writeBlock, newCtx())
	assert.NoError(t, err)

	readBlock := &model.Block{Type: model.BlockFilesystem, Logic: map[string]any{
		"filesystem_operation": "read",
		"filesystem_path":      "notes/hello.txt",
		"filesystem_bind_value": "$state.content",
	}}
	result, err := h.Handle(context.Background(), readBlock, newCtx())
	assert.NoError(t, err)
	c := result.(Completed)
	assert.Equal(t, "hi there", c.StateDelta["content"])

	deleteBlock := &model.Block{Type: model.BlockFilesystem, Logic: map[string]any{
		"filesystem_operation": "delete",
		"filesystem_path":      "notes/hello.txt",
	}}
	_, err = h.Handle(context.Background(), deleteBlock, newCtx())
	assert.NoError(t, err)
}

func TestFilesystemHandler_RejectsDisallowedPattern(t *testing.T) {
	dir := t.TempDir()
	h := NewFilesystemHandler(dir, []string{"**/*.json"})
	b := &model.Block{Type: model.BlockFilesystem, Logic: map[string]any{
		"filesystem_operation": "write",
		"filesystem_path":      "notes/hello.txt",
		"filesystem_content":   "nope",
	}}
	_, err := h.Handle(context.Background(), b, newCtx())
	assert.Error(t, err)
}

func TestFilesystemHandler_RejectsPathTraversal(t *testing.T) {
	dir := t.TempDir()
	h := NewFilesystemHandler(dir, nil)
	b := &model.Block{Type: model.BlockFilesystem, Logic: map[string]any{
		"filesystem_operation": "read",
		"filesystem_path":      "../../etc/passwd",
	}}
	_, err := h.Handle(context.Background(), b, newCtx())
	assert.Error(t, err)
}
