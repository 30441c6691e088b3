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

// Package condition evaluates a block's AND-gated list of guard predicates
// against a resolved WorkflowContext. Evaluate is pure and deterministic in
// its inputs: it caches nothing that depends on context state, only the
// compiled regexes of a predicate's right-hand operand, the way the
// teacher's expression evaluator caches compiled programs.
package condition

import (
	"fmt"
	"regexp"
	"strconv"
	"sync"

	"github.com/vsync-io/workflow-engine/pkg/engine/model"
	"github.com/vsync-io/workflow-engine/pkg/engine/resolve"
)

// Evaluator holds a compiled-regex cache so repeated evaluation of the same
// `regex` predicate across steps/iterations doesn't recompile each time.
type Evaluator struct {
	mu      sync.Mutex
	regexes map[string]*regexp.Regexp
}

// New creates an Evaluator with an empty regex cache.
func New() *Evaluator {
	return &Evaluator{regexes: make(map[string]*regexp.Regexp)}
}

// Evaluate runs the AND-gated predicate list against ctx. An empty or nil
// list is vacuously true.
func (e *Evaluator) Evaluate(conditions []model.Predicate, ctx *resolve.Context) bool {
	if len(conditions) == 0 {
		return true
	}
	for _, p := range conditions {
		if !e.evalOne(p, ctx) {
			return false
		}
	}
	return true
}

func (e *Evaluator) evalOne(p model.Predicate, ctx *resolve.Context) bool {
	left := resolve.Resolve(p.Left, ctx)

	switch p.Operator {
	case "isEmpty":
		return isEmpty(left)
	case "isFalsy":
		return isFalsy(left)
	case "isNull":
		return left == nil
	}

	right := resolve.Resolve(p.Right, ctx)

	switch p.Operator {
	case "==":
		return looseEqual(left, right)
	case "!=":
		return !looseEqual(left, right)
	case "<", ">", "<=", ">=":
		return compareNumeric(p.Operator, left, right)
	case "contains":
		return containsOp(left, right)
	case "startsWith":
		ls, lok := asString(left)
		rs, rok := asString(right)
		return lok && rok && len(ls) >= len(rs) && ls[:len(rs)] == rs
	case "endsWith":
		ls, lok := asString(left)
		rs, rok := asString(right)
		return lok && rok && len(ls) >= len(rs) && ls[len(ls)-len(rs):] == rs
	case "in":
		return inOp(left, right)
	case "regex":
		return e.regexOp(left, right)
	default:
		return false
	}
}

func isEmpty(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return val == ""
	case []any:
		return len(val) == 0
	case map[string]any:
		return len(val) == 0
	default:
		return false
	}
}

func isFalsy(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case bool:
		return !val
	case string:
		return val == ""
	case float64:
		return val == 0
	case int:
		return val == 0
	case int64:
		return val == 0
	case []any:
		return len(val) == 0
	case map[string]any:
		return len(val) == 0
	default:
		return false
	}
}

func looseEqual(a, b any) bool {
	an, aok := toFloat(a)
	bn, bok := toFloat(b)
	if aok && bok {
		return an == bn
	}
	as, asok := asString(a)
	bs, bsok := asString(b)
	if asok && bsok {
		return as == bs
	}
	if ab, ok := a.(bool); ok {
		if bb, ok2 := b.(bool); ok2 {
			return ab == bb
		}
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

// compareNumeric coerces both operands to float64; a failed coercion makes
// the operator return false rather than error, per §4.B.
func compareNumeric(op string, a, b any) bool {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if !aok || !bok {
		return false
	}
	switch op {
	case "<":
		return af < bf
	case ">":
		return af > bf
	case "<=":
		return af <= bf
	case ">=":
		return af >= bf
	}
	return false
}

func toFloat(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case string:
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

func asString(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

func containsOp(left, right any) bool {
	switch val := left.(type) {
	case string:
		rs, ok := asString(right)
		return ok && (rs == "" || contains(val, rs))
	case []any:
		for _, item := range val {
			if looseEqual(item, right) {
				return true
			}
		}
		return false
	case map[string]any:
		rs, ok := asString(right)
		if !ok {
			return false
		}
		_, present := val[rs]
		return present
	default:
		return false
	}
}

func contains(haystack, needle string) bool {
	return len(needle) == 0 || (len(haystack) >= len(needle) && indexOf(haystack, needle) >= 0)
}

func indexOf(haystack, needle string) int {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return i
		}
	}
	return -1
}

func inOp(left, right any) bool {
	seq, ok := right.([]any)
	if !ok {
		return false
	}
	for _, item := range seq {
		if looseEqual(item, left) {
			return true
		}
	}
	return false
}

func (e *Evaluator) regexOp(left, right any) bool {
	pattern, ok := asString(right)
	if !ok {
		return false
	}
	subject, ok := asString(left)
	if !ok {
		return false
	}

	e.mu.Lock()
	re, cached := e.regexes[pattern]
	if !cached {
		compiled, err := regexp.Compile(pattern)
		if err != nil {
			e.mu.Unlock()
			return false
		}
		re = compiled
		e.regexes[pattern] = re
	}
	e.mu.Unlock()

	return re.MatchString(subject)
}
