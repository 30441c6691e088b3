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

package loader

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vsync-io/workflow-engine/pkg/engine/model"
)

func TestParse_ValidWorkflow(t *testing.T) {
	yaml := `
name: greet-visitor
description: Greets a visitor and records the event
triggerType: api
blocks:
  - name: build-greeting
    type: string
    logic:
      op: concat
  - name: store-event
    type: object
    conditions:
      - left: "${event.skip}"
        operator: "=="
        right: false
`
	wf, version, err := Parse([]byte(yaml))
	require.NoError(t, err)
	assert.Equal(t, "greet-visitor", wf.Name)
	assert.Equal(t, 1, wf.ActiveVersion)
	assert.Equal(t, model.TriggerAPI, version.TriggerType)
	assert.Equal(t, model.VersionDraft, version.Status)
	require.Len(t, version.Blocks, 2)
	assert.Equal(t, model.BlockString, version.Blocks[0].Type)
	assert.Equal(t, 0, version.Blocks[0].Order)
	assert.Equal(t, "greet-visitor-1", version.Blocks[1].ID)
}

func TestParse_MissingName(t *testing.T) {
	_, _, err := Parse([]byte(`
blocks:
  - name: only-block
    type: object
`))
	assert.Error(t, err)
}

func TestParse_NoBlocks(t *testing.T) {
	_, _, err := Parse([]byte(`name: empty-workflow`))
	assert.Error(t, err)
}

func TestParse_BlockMissingType(t *testing.T) {
	_, _, err := Parse([]byte(`
name: bad-block
blocks:
  - name: no-type
`))
	assert.Error(t, err)
}

func TestLoad_ReadsFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "workflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
name: file-loaded
blocks:
  - name: b1
    type: sleep
`), 0o600))

	wf, version, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "file-loaded", wf.ID)
	assert.Equal(t, model.TriggerAPI, version.TriggerType)
}

func TestLoad_MissingFile(t *testing.T) {
	_, _, err := Load("/nonexistent/workflow.yaml")
	assert.Error(t, err)
}
