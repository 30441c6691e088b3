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

// Package resolve implements the reference resolver: dereferencing
// $state.x, $cache.x, $keys.x, $event.x, $run.x, $artifacts[i], $loops.<id>.*
// and mustache-style {{expr}} template strings against a WorkflowContext.
// Resolve is pure: it never mutates its inputs and never has side effects.
package resolve

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/vsync-io/workflow-engine/pkg/engine/model"
)

// wholeRefPattern matches a string that is *entirely* a scope reference,
// e.g. "$state.user.name" or "$artifacts[0].fileUrl".
var wholeRefPattern = regexp.MustCompile(`^\$[A-Za-z_][A-Za-z0-9_]*((\.[A-Za-z_][A-Za-z0-9_]*)|(\[[0-9]+\]))*$`)

// templateSegmentPattern finds {{expr}} segments embedded in a larger string.
var templateSegmentPattern = regexp.MustCompile(`\{\{\s*([^}]+?)\s*\}\}`)

// Loop carries the per-iteration loop variables ($item, $row, $index)
// available while resolving inside a foreach-style block or a deferred
// goto iteration.
type Loop struct {
	Item  any
	Row   any
	Index any
}

// Context is everything Resolve needs beyond the value being resolved: the
// run's WorkflowContext, the current loop variables (if any) and the
// current block (for the $block scope).
type Context struct {
	WF    *model.WorkflowContext
	Loop  *Loop
	Block *model.Block
}

// Resolve dereferences v against ctx per the §4.A contract:
//   - non-string primitives are returned unchanged
//   - a string that is wholly a reference is dereferenced to its value (any type)
//   - a string containing {{expr}} segments has each segment interpolated,
//     always producing a string
//   - maps/slices are resolved element-wise, structure preserved
func Resolve(v any, ctx *Context) any {
	switch val := v.(type) {
	case nil:
		return nil
	case string:
		return resolveString(val, ctx)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			out[k] = Resolve(elem, ctx)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = Resolve(elem, ctx)
		}
		return out
	default:
		return val
	}
}

func resolveString(s string, ctx *Context) any {
	if wholeRefPattern.MatchString(s) {
		val, scopeFound := dereference(s, ctx)
		if !scopeFound {
			// Missing scope yields the original unresolved string.
			return s
		}
		return val
	}

	if !strings.Contains(s, "{{") {
		return s
	}

	return templateSegmentPattern.ReplaceAllStringFunc(s, func(match string) string {
		inner := templateSegmentPattern.FindStringSubmatch(match)[1]
		var resolved any
		if wholeRefPattern.MatchString(inner) {
			val, found := dereference(inner, ctx)
			if !found {
				return match
			}
			resolved = val
		} else {
			resolved = inner
		}
		return stringify(resolved)
	})
}

func stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return ""
		}
		// Unquote plain JSON strings/numbers render reasonably as-is;
		// for objects/arrays keep the compact JSON form.
		var raw any
		if json.Unmarshal(b, &raw) == nil {
			if s, ok := raw.(string); ok {
				return s
			}
		}
		return string(b)
	}
}

// dereference walks the reference path against ctx's scopes. The bool
// return indicates whether the named scope itself exists/applies; a
// present scope with a missing path returns (nil, true) — undefined, not
// an error.
func dereference(ref string, ctx *Context) (any, bool) {
	path := splitPath(ref)
	if len(path) == 0 {
		return nil, false
	}
	scope := path[0]
	rest := path[1:]

	switch scope {
	case "$state":
		return walk(ctx.WF.State, rest), true
	case "$cache":
		return walk(ctx.WF.Cache, rest), true
	case "$secrets", "$keys":
		return walkSecrets(ctx, rest), true
	case "$event":
		return walk(ctx.WF.Event, rest), true
	case "$run":
		return walk(toMap(ctx.WF.Run), rest), true
	case "$artifacts":
		return walkAny(artifactsToAny(ctx.WF.Artifacts), rest), true
	case "$loops":
		return walkLoops(ctx.WF.Loops, rest), true
	case "$paths":
		return walk(pathsToMap(ctx.WF.Paths), rest), true
	case "$item":
		if ctx.Loop == nil {
			return nil, true
		}
		return walkAny(ctx.Loop.Item, rest), true
	case "$row":
		if ctx.Loop == nil {
			return nil, true
		}
		return walkAny(ctx.Loop.Row, rest), true
	case "$index":
		if ctx.Loop == nil {
			return nil, true
		}
		return ctx.Loop.Index, true
	case "$block":
		if ctx.Block == nil {
			return nil, true
		}
		return walk(blockToMap(ctx.Block), rest), true
	default:
		return nil, false
	}
}

// pathSegment is either a map key or an array index.
type pathSegment struct {
	key   string
	index int
	isIdx bool
}

func splitPath(ref string) []string {
	// Normalize "$scope[0].x" into "$scope", "[0]", "x" style tokens while
	// keeping the leading scope token intact; callers only need scope plus
	// the remaining dotted/bracketed tail, which walk() parses itself.
	firstDot := strings.IndexAny(ref, ".[")
	if firstDot < 0 {
		return []string{ref}
	}
	return []string{ref[:firstDot], ref[firstDot:]}
}

// walk resolves a dotted/bracketed tail (e.g. ".user.name" or "[0].x")
// against root. A missing path at any point yields nil (undefined).
func walk(root map[string]any, tail []string) any {
	var cur any = root
	for _, t := range tail {
		cur = walkSegments(cur, parseSegments(t))
	}
	return cur
}

func walkAny(root any, tail []string) any {
	var cur any = root
	for _, t := range tail {
		cur = walkSegments(cur, parseSegments(t))
	}
	return cur
}

func parseSegments(tail string) []pathSegment {
	var segs []pathSegment
	i := 0
	for i < len(tail) {
		switch tail[i] {
		case '.':
			i++
			start := i
			for i < len(tail) && tail[i] != '.' && tail[i] != '[' {
				i++
			}
			if i > start {
				segs = append(segs, pathSegment{key: tail[start:i]})
			}
		case '[':
			i++
			start := i
			for i < len(tail) && tail[i] != ']' {
				i++
			}
			idx, _ := strconv.Atoi(tail[start:i])
			segs = append(segs, pathSegment{index: idx, isIdx: true})
			i++ // skip ']'
		default:
			i++
		}
	}
	return segs
}

func walkSegments(cur any, segs []pathSegment) any {
	for _, seg := range segs {
		if cur == nil {
			return nil
		}
		if seg.isIdx {
			arr, ok := cur.([]any)
			if !ok || seg.index < 0 || seg.index >= len(arr) {
				return nil
			}
			cur = arr[seg.index]
			continue
		}
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = m[seg.key]
	}
	return cur
}

func walkSecrets(ctx *Context, tail []string) any {
	if len(tail) == 0 {
		m := make(map[string]any, len(ctx.WF.Secrets))
		for k, v := range ctx.WF.Secrets {
			m[k] = v
		}
		return m
	}
	segs := parseSegments(tail[0])
	if len(segs) == 0 || segs[0].isIdx {
		return nil
	}
	val, ok := ctx.WF.Secrets[segs[0].key]
	if !ok {
		return nil
	}
	if len(segs) == 1 {
		return val
	}
	return nil
}

func walkLoops(loops map[string]*model.LoopState, tail []string) any {
	if len(tail) == 0 {
		return loops
	}
	var segs []pathSegment
	for _, t := range tail {
		segs = append(segs, parseSegments(t)...)
	}
	if len(segs) == 0 || segs[0].isIdx {
		return nil
	}
	st, ok := loops[segs[0].key]
	if !ok || st == nil {
		return nil
	}
	m := map[string]any{"index": st.Index}
	if st.Artifact != nil {
		m["artifact"] = toMap(*st.Artifact)
	}
	var cur any = m
	return walkSegments(cur, segs[1:])
}

// artifactsToAny exposes Artifacts as a []any root so $artifacts[i].field
// resolves through the generic index-aware walker.
func artifactsToAny(artifacts []model.Artifact) []any {
	out := make([]any, len(artifacts))
	for i, a := range artifacts {
		out[i] = toMap(a)
	}
	return out
}

func pathsToMap(paths map[string]string) map[string]any {
	m := make(map[string]any, len(paths))
	for k, v := range paths {
		m[k] = v
	}
	return m
}

func blockToMap(b *model.Block) map[string]any {
	return map[string]any{
		"id":    b.ID,
		"name":  b.Name,
		"type":  string(b.Type),
		"order": b.Order,
		"notes": b.Notes,
	}
}

// toMap converts a struct to map[string]any via its JSON encoding. This
// mirrors the teacher's pattern of keeping typed struct fields internally
// while handing a flat dynamic map to the expression/reference layer.
func toMap(v any) map[string]any {
	b, err := json.Marshal(v)
	if err != nil {
		return map[string]any{}
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return map[string]any{}
	}
	return m
}
