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

	"github.com/vsync-io/workflow-engine/pkg/engine/model"
	"github.com/vsync-io/workflow-engine/pkg/engine/resolve"
)

// FormField describes one field of a UIFormConfig pause payload.
type FormField struct {
	Name        string   `json:"name"`
	Type        string   `json:"type"`
	Label       string   `json:"label,omitempty"`
	Placeholder string   `json:"placeholder,omitempty"`
	Required    bool     `json:"required,omitempty"`
	Options     []string `json:"options,omitempty"`
}

// UIFormConfig is the pause payload for a ui_form block.
type UIFormConfig struct {
	Kind   string      `json:"kind"`
	Fields []FormField `json:"fields"`
}

// UICameraConfig is the pause payload for a ui_camera block.
type UICameraConfig struct {
	Kind         string `json:"kind"`
	Title        string `json:"title,omitempty"`
	Instructions string `json:"instructions,omitempty"`
	Mode         string `json:"mode"` // photo | barcode
	Flash        string `json:"flash"` // auto | on | off
}

// TableColumn describes one column of a UITableConfig.
type TableColumn struct {
	Key   string `json:"key"`
	Label string `json:"label,omitempty"`
	Width int    `json:"width,omitempty"`
}

// UITableConfig is the pause payload for a ui_table block.
type UITableConfig struct {
	Kind       string        `json:"kind"`
	Title      string        `json:"title,omitempty"`
	Data       []any         `json:"data"`
	Columns    []TableColumn `json:"columns"`
	Searchable bool          `json:"searchable,omitempty"`
}

// DetailField describes one field of a UIDetailsConfig.
type DetailField struct {
	Key    string `json:"key"`
	Label  string `json:"label,omitempty"`
	Format string `json:"format,omitempty"`
}

// UIDetailsConfig is the pause payload for a ui_details block.
type UIDetailsConfig struct {
	Kind   string        `json:"kind"`
	Title  string        `json:"title,omitempty"`
	Data   any           `json:"data"`
	Layout string        `json:"layout"` // list | grid
	Fields []DetailField `json:"fields"`
}

// UIFormHandler returns a pause directive carrying the resolved form
// config; resumption writes the caller's submitted value at bind_value.
func UIFormHandler(ctx context.Context, b *model.Block, rc *resolve.Context) (Result, error) {
	fieldsRaw, _ := logicAny(b, rc, "ui_form_fields")
	rawList, _ := fieldsRaw.([]any)

	fields := make([]FormField, 0, len(rawList))
	for _, item := range rawList {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		f := FormField{
			Name:        asStr(m["name"]),
			Type:        asStr(m["type"]),
			Label:       asStr(m["label"]),
			Placeholder: asStr(m["placeholder"]),
			Required:    asBool(m["required"]),
		}
		if opts, ok := m["options"].([]any); ok {
			for _, o := range opts {
				f.Options = append(f.Options, asStr(o))
			}
		}
		fields = append(fields, f)
	}

	return Paused{Kind: "ui_form", Payload: UIFormConfig{Kind: "ui_form", Fields: fields}}, nil
}

// UICameraHandler returns a pause directive carrying the resolved camera
// config.
func UICameraHandler(ctx context.Context, b *model.Block, rc *resolve.Context) (Result, error) {
	title, _ := logicString(b, rc, "ui_camera_title")
	instructions, _ := logicString(b, rc, "ui_camera_instructions")
	mode, ok := logicString(b, rc, "ui_camera_mode")
	if !ok {
		mode = "photo"
	}
	flash, ok := logicString(b, rc, "ui_camera_flash")
	if !ok {
		flash = "auto"
	}

	return Paused{Kind: "ui_camera", Payload: UICameraConfig{
		Kind: "ui_camera", Title: title, Instructions: instructions, Mode: mode, Flash: flash,
	}}, nil
}

// UITableHandler returns a pause directive carrying the resolved table
// config.
func UITableHandler(ctx context.Context, b *model.Block, rc *resolve.Context) (Result, error) {
	title, _ := logicString(b, rc, "ui_table_title")
	dataRaw, _ := logicAny(b, rc, "ui_table_data")
	data, _ := dataRaw.([]any)

	colsRaw, _ := logicAny(b, rc, "ui_table_columns")
	rawCols, _ := colsRaw.([]any)
	cols := make([]TableColumn, 0, len(rawCols))
	for _, item := range rawCols {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		cols = append(cols, TableColumn{Key: asStr(m["key"]), Label: asStr(m["label"]), Width: int(asFloat(m["width"]))})
	}

	searchable := false
	if v, ok := logicAny(b, rc, "ui_table_searchable"); ok {
		searchable = asBool(v)
	}

	return Paused{Kind: "ui_table", Payload: UITableConfig{
		Kind: "ui_table", Title: title, Data: data, Columns: cols, Searchable: searchable,
	}}, nil
}

// UIDetailsHandler returns a pause directive carrying the resolved details
// config.
func UIDetailsHandler(ctx context.Context, b *model.Block, rc *resolve.Context) (Result, error) {
	title, _ := logicString(b, rc, "ui_details_title")
	data, _ := logicAny(b, rc, "ui_details_data")
	layout, ok := logicString(b, rc, "ui_details_layout")
	if !ok {
		layout = "list"
	}

	fieldsRaw, _ := logicAny(b, rc, "ui_details_fields")
	rawFields, _ := fieldsRaw.([]any)
	fields := make([]DetailField, 0, len(rawFields))
	for _, item := range rawFields {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		fields = append(fields, DetailField{Key: asStr(m["key"]), Label: asStr(m["label"]), Format: asStr(m["format"])})
	}

	return Paused{Kind: "ui_details", Payload: UIDetailsConfig{
		Kind: "ui_details", Title: title, Data: data, Layout: layout, Fields: fields,
	}}, nil
}

func asStr(v any) string {
	s, _ := v.(string)
	return s
}

func asBool(v any) bool {
	b, _ := v.(bool)
	return b
}

func asFloat(v any) float64 {
	f, _ := toFloatAny(v)
	return f
}
