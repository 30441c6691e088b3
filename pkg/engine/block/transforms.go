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
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"

	engineerrors "github.com/vsync-io/workflow-engine/pkg/errors"

	"github.com/vsync-io/workflow-engine/pkg/engine/model"
	"github.com/vsync-io/workflow-engine/pkg/engine/resolve"
)

func logicString(b *model.Block, rc *resolve.Context, field string) (string, bool) {
	raw, ok := b.Logic[field]
	if !ok {
		return "", false
	}
	resolved := resolve.Resolve(raw, rc)
	s, ok := resolved.(string)
	return s, ok
}

func logicAny(b *model.Block, rc *resolve.Context, field string) (any, bool) {
	raw, ok := b.Logic[field]
	if !ok {
		return nil, false
	}
	return resolve.Resolve(raw, rc), true
}

func validationErr(field, msg string) error {
	return &engineerrors.ValidationError{Field: field, Message: msg}
}

// ObjectHandler implements the object block: set, merge, pick, omit over
// a map value, bound via object_bind_value.
func ObjectHandler(ctx context.Context, b *model.Block, rc *resolve.Context) (Result, error) {
	op := operation(b)
	switch op {
	case "set":
		value, _ := logicAny(b, rc, "object_value")
		return Completed{StateDelta: Bind(b, value)}, nil
	case "merge":
		base, _ := logicAny(b, rc, "object_base")
		overlay, _ := logicAny(b, rc, "object_overlay")
		baseMap, _ := base.(map[string]any)
		overlayMap, _ := overlay.(map[string]any)
		merged := make(map[string]any, len(baseMap)+len(overlayMap))
		for k, v := range baseMap {
			merged[k] = v
		}
		for k, v := range overlayMap {
			merged[k] = v
		}
		return Completed{StateDelta: Bind(b, merged)}, nil
	case "pick":
		source, _ := logicAny(b, rc, "object_source")
		keysRaw, _ := logicAny(b, rc, "object_keys")
		srcMap, _ := source.(map[string]any)
		keys, _ := keysRaw.([]any)
		out := make(map[string]any, len(keys))
		for _, k := range keys {
			if ks, ok := k.(string); ok {
				out[ks] = srcMap[ks]
			}
		}
		return Completed{StateDelta: Bind(b, out)}, nil
	case "omit":
		source, _ := logicAny(b, rc, "object_source")
		keysRaw, _ := logicAny(b, rc, "object_keys")
		srcMap, _ := source.(map[string]any)
		keys, _ := keysRaw.([]any)
		omit := make(map[string]bool, len(keys))
		for _, k := range keys {
			if ks, ok := k.(string); ok {
				omit[ks] = true
			}
		}
		out := make(map[string]any, len(srcMap))
		for k, v := range srcMap {
			if !omit[k] {
				out[k] = v
			}
		}
		return Completed{StateDelta: Bind(b, out)}, nil
	default:
		return nil, validationErr("object_operation", "unknown operation "+op)
	}
}

// StringHandler implements the string block: template, replace, split,
// trim, upper, lower, concat.
func StringHandler(ctx context.Context, b *model.Block, rc *resolve.Context) (Result, error) {
	op := operation(b)
	switch op {
	case "template":
		tmpl, _ := b.Logic["string_template"].(string)
		result := resolve.Resolve(tmpl, rc)
		return Completed{StateDelta: Bind(b, result)}, nil
	case "replace":
		input, _ := logicString(b, rc, "string_input")
		from, _ := logicString(b, rc, "string_from")
		to, _ := logicString(b, rc, "string_to")
		return Completed{StateDelta: Bind(b, strings.ReplaceAll(input, from, to))}, nil
	case "split":
		input, _ := logicString(b, rc, "string_input")
		sep, ok := logicString(b, rc, "string_separator")
		if !ok {
			sep = ","
		}
		parts := strings.Split(input, sep)
		out := make([]any, len(parts))
		for i, p := range parts {
			out[i] = p
		}
		return Completed{StateDelta: Bind(b, out)}, nil
	case "trim":
		input, _ := logicString(b, rc, "string_input")
		return Completed{StateDelta: Bind(b, strings.TrimSpace(input))}, nil
	case "upper":
		input, _ := logicString(b, rc, "string_input")
		return Completed{StateDelta: Bind(b, strings.ToUpper(input))}, nil
	case "lower":
		input, _ := logicString(b, rc, "string_input")
		return Completed{StateDelta: Bind(b, strings.ToLower(input))}, nil
	case "concat":
		partsRaw, _ := logicAny(b, rc, "string_parts")
		parts, _ := partsRaw.([]any)
		var sb strings.Builder
		for _, p := range parts {
			sb.WriteString(fmt.Sprintf("%v", p))
		}
		return Completed{StateDelta: Bind(b, sb.String())}, nil
	default:
		return nil, validationErr("string_operation", "unknown operation "+op)
	}
}

// MathHandler implements the math block: add, subtract, multiply, divide,
// increment, decrement over numeric operands.
func MathHandler(ctx context.Context, b *model.Block, rc *resolve.Context) (Result, error) {
	op := operation(b)

	toNum := func(field string, def float64) float64 {
		v, ok := logicAny(b, rc, field)
		if !ok {
			return def
		}
		switch n := v.(type) {
		case float64:
			return n
		case int:
			return float64(n)
		case string:
			f, err := strconv.ParseFloat(n, 64)
			if err == nil {
				return f
			}
		}
		return def
	}

	left := toNum("math_left", 0)
	right := toNum("math_right", 0)

	var result float64
	switch op {
	case "add":
		result = left + right
	case "subtract":
		result = left - right
	case "multiply":
		result = left * right
	case "divide":
		if right == 0 {
			return nil, validationErr("math_right", "division by zero")
		}
		result = left / right
	case "increment":
		result = toNum("math_target", 0) + 1
	case "decrement":
		result = toNum("math_target", 0) - 1
	default:
		return nil, validationErr("math_operation", "unknown operation "+op)
	}

	return Completed{StateDelta: Bind(b, result)}, nil
}

// DateHandler implements the date block: now, format, add, diff.
func DateHandler(ctx context.Context, b *model.Block, rc *resolve.Context) (Result, error) {
	op := operation(b)
	switch op {
	case "now":
		return Completed{StateDelta: Bind(b, time.Now().UTC().Format(time.RFC3339))}, nil
	case "format":
		input, _ := logicString(b, rc, "date_input")
		layout, ok := logicString(b, rc, "date_layout")
		if !ok {
			layout = time.RFC3339
		}
		t, err := time.Parse(time.RFC3339, input)
		if err != nil {
			return nil, validationErr("date_input", "not a valid RFC3339 timestamp")
		}
		return Completed{StateDelta: Bind(b, t.Format(layout))}, nil
	case "add":
		input, _ := logicString(b, rc, "date_input")
		deltaSeconds, _ := logicAny(b, rc, "date_delta_seconds")
		seconds, _ := toFloatAny(deltaSeconds)
		t, err := time.Parse(time.RFC3339, input)
		if err != nil {
			return nil, validationErr("date_input", "not a valid RFC3339 timestamp")
		}
		t = t.Add(time.Duration(seconds) * time.Second)
		return Completed{StateDelta: Bind(b, t.Format(time.RFC3339))}, nil
	case "diff":
		aRaw, _ := logicString(b, rc, "date_a")
		bRaw, _ := logicString(b, rc, "date_b")
		ta, errA := time.Parse(time.RFC3339, aRaw)
		tb, errB := time.Parse(time.RFC3339, bRaw)
		if errA != nil || errB != nil {
			return nil, validationErr("date_a", "both dates must be valid RFC3339 timestamps")
		}
		return Completed{StateDelta: Bind(b, tb.Sub(ta).Seconds())}, nil
	default:
		return nil, validationErr("date_operation", "unknown operation "+op)
	}
}

func toFloatAny(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// NormalizeHandler implements the normalize block using golang.org/x/text:
// unicode_nfc, casefold, trim.
func NormalizeHandler(ctx context.Context, b *model.Block, rc *resolve.Context) (Result, error) {
	op := operation(b)
	input, _ := logicString(b, rc, "normalize_input")

	switch op {
	case "unicode_nfc":
		return Completed{StateDelta: Bind(b, norm.NFC.String(input))}, nil
	case "casefold":
		result := cases.Fold().String(input)
		return Completed{StateDelta: Bind(b, result)}, nil
	case "trim":
		return Completed{StateDelta: Bind(b, strings.TrimSpace(input))}, nil
	case "title":
		result := cases.Title(language.Und).String(input)
		return Completed{StateDelta: Bind(b, result)}, nil
	default:
		return nil, validationErr("normalize_operation", "unknown operation "+op)
	}
}
