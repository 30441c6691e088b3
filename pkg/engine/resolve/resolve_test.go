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

package resolve

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/vsync-io/workflow-engine/pkg/engine/model"
)

func newTestContext() *Context {
	wf := model.NewWorkflowContext(
		map[string]any{"go": "yes"},
		map[string]string{"api_key": "sekret"},
		map[string]string{"tmp": "/tmp"},
		model.RunInfo{ID: "run-1", WorkflowID: "wf-1", Status: "running"},
	)
	wf.State["user"] = map[string]any{"name": "Ada"}
	wf.State["count"] = float64(3)
	wf.AppendArtifacts([]model.Artifact{{ID: "a1", Name: "pic", FileURL: "https://x/pic.png"}})
	wf.SetLoop("L", &model.LoopState{Index: 2})
	return &Context{WF: wf, Block: &model.Block{ID: "b1", Name: "step one", Type: model.BlockString}}
}

func TestResolve_WholeValueReference(t *testing.T) {
	ctx := newTestContext()

	assert.Equal(t, "Ada", Resolve("$state.user.name", ctx))
	assert.Equal(t, float64(3), Resolve("$state.count", ctx))
	assert.Equal(t, "yes", Resolve("$event.go", ctx))
	assert.Equal(t, "sekret", Resolve("$secrets.api_key", ctx))
	assert.Equal(t, "sekret", Resolve("$keys.api_key", ctx))
	assert.Equal(t, "running", Resolve("$run.status", ctx))
	assert.Equal(t, "https://x/pic.png", Resolve("$artifacts[0].fileUrl", ctx))
	assert.Equal(t, 2, Resolve("$loops.L.index", ctx))
	assert.Equal(t, "/tmp", Resolve("$paths.tmp", ctx))
	assert.Equal(t, "step one", Resolve("$block.name", ctx))
}

func TestResolve_MissingPathIsUndefined(t *testing.T) {
	ctx := newTestContext()
	assert.Nil(t, Resolve("$state.nope", ctx))
	assert.Nil(t, Resolve("$state.user.nope", ctx))
}

func TestResolve_MissingScopeReturnsOriginal(t *testing.T) {
	ctx := newTestContext()
	assert.Equal(t, "$bogus.x", Resolve("$bogus.x", ctx))
}

func TestResolve_EmbeddedTemplate(t *testing.T) {
	ctx := newTestContext()
	got := Resolve("hi {{$state.user.name}}, you have {{$state.count}}", ctx)
	assert.Equal(t, "hi Ada, you have 3", got)
}

func TestResolve_NonStringPrimitivesUnchanged(t *testing.T) {
	ctx := newTestContext()
	assert.Equal(t, 42, Resolve(42, ctx))
	assert.Equal(t, true, Resolve(true, ctx))
	assert.Nil(t, Resolve(nil, ctx))
}

func TestResolve_RecursiveStructure(t *testing.T) {
	ctx := newTestContext()
	in := map[string]any{
		"a": "$state.user.name",
		"b": []any{"$event.go", 7},
	}
	out := Resolve(in, ctx).(map[string]any)
	assert.Equal(t, "Ada", out["a"])
	assert.Equal(t, []any{"yes", 7}, out["b"])
}

func TestResolve_Idempotence(t *testing.T) {
	ctx := newTestContext()
	once := Resolve("$state.user.name", ctx)
	twice := Resolve(once, ctx)
	assert.Equal(t, once, twice)
}

func TestResolve_LoopVars(t *testing.T) {
	ctx := newTestContext()
	ctx.Loop = &Loop{Item: "x", Row: map[string]any{"email": "a@b"}, Index: 1}
	assert.Equal(t, "x", Resolve("$item", ctx))
	assert.Equal(t, "a@b", Resolve("$row.email", ctx))
	assert.Equal(t, 1, Resolve("$index", ctx))
}
