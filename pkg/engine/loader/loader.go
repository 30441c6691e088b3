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

// Package loader parses a workflow definition file on disk into the
// engine's data model, mirroring the teacher's pkg/workflow.ParseDefinition
// shape (parse, apply defaults, validate) but producing a model.Workflow /
// model.WorkflowVersion / []*model.Block triple instead of the teacher's
// LLM-step Definition.
package loader

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	engineerrors "github.com/vsync-io/workflow-engine/pkg/errors"
	"github.com/vsync-io/workflow-engine/pkg/engine/model"
)

// File is the on-disk shape of a workflow definition: one YAML document
// describing the workflow's identity and its (always draft-on-load)
// version's blocks.
type File struct {
	Name                  string            `yaml:"name"`
	Description           string            `yaml:"description,omitempty"`
	OrgID                 string            `yaml:"orgId,omitempty"`
	TriggerType           string            `yaml:"triggerType,omitempty"`
	TriggerConfig         map[string]any    `yaml:"triggerConfig,omitempty"`
	ExecutionEnvironments []string          `yaml:"executionEnvironments,omitempty"`
	Blocks                []FileBlock       `yaml:"blocks"`
}

// FileBlock is one block entry in a File.
type FileBlock struct {
	ID         string               `yaml:"id,omitempty"`
	Name       string               `yaml:"name"`
	Type       string               `yaml:"type"`
	Logic      map[string]any       `yaml:"logic,omitempty"`
	Conditions []model.Predicate    `yaml:"conditions,omitempty"`
	Notes      string               `yaml:"notes,omitempty"`
}

// Load reads and parses a workflow definition file, returning a draft
// model.Workflow (version 1, unpublished) and its model.WorkflowVersion.
// The workflow's ID is derived from its name; callers that need a stable
// identity across reloads (the file watcher included) should treat the
// name as the canonical key.
func Load(path string) (*model.Workflow, *model.WorkflowVersion, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read workflow file: %w", err)
	}
	return Parse(data)
}

// Parse parses workflow definition YAML bytes.
func Parse(data []byte) (*model.Workflow, *model.WorkflowVersion, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, nil, fmt.Errorf("parse workflow YAML: %w", err)
	}

	if f.Name == "" {
		return nil, nil, &engineerrors.ValidationError{Field: "name", Message: "workflow name is required"}
	}
	if len(f.Name) > model.MaxWorkflowNameLength {
		return nil, nil, &engineerrors.ValidationError{Field: "name", Message: fmt.Sprintf("must be at most %d characters", model.MaxWorkflowNameLength)}
	}
	if len(f.Blocks) == 0 {
		return nil, nil, &engineerrors.ValidationError{Field: "blocks", Message: "workflow must define at least one block"}
	}
	if len(f.Blocks) > model.MaxBlockCount {
		return nil, nil, &engineerrors.ValidationError{Field: "blocks", Message: fmt.Sprintf("must be at most %d blocks", model.MaxBlockCount)}
	}

	triggerType := model.TriggerType(f.TriggerType)
	if triggerType == "" {
		triggerType = model.TriggerAPI
	}

	wf := &model.Workflow{
		ID:            f.Name,
		OrgID:         f.OrgID,
		Name:          f.Name,
		Description:   f.Description,
		ActiveVersion: 1,
	}

	blocks := make([]*model.Block, 0, len(f.Blocks))
	for i, fb := range f.Blocks {
		if fb.Type == "" {
			return nil, nil, &engineerrors.ValidationError{Field: fmt.Sprintf("blocks[%d].type", i), Message: "block type is required"}
		}
		id := fb.ID
		if id == "" {
			id = fmt.Sprintf("%s-%d", f.Name, i)
		}
		blocks = append(blocks, &model.Block{
			ID:              id,
			WorkflowID:      wf.ID,
			WorkflowVersion: 1,
			Name:            fb.Name,
			Type:            model.BlockType(fb.Type),
			Logic:           fb.Logic,
			Conditions:      fb.Conditions,
			Order:           i,
			Notes:           fb.Notes,
		})
	}

	version := &model.WorkflowVersion{
		WorkflowID:            wf.ID,
		Version:               1,
		Status:                model.VersionDraft,
		TriggerType:           triggerType,
		TriggerConfig:         f.TriggerConfig,
		ExecutionEnvironments: f.ExecutionEnvironments,
		Blocks:                blocks,
	}

	return wf, version, nil
}
