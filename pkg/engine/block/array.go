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

	"github.com/expr-lang/expr"
	"github.com/itchyny/gojq"

	"github.com/vsync-io/workflow-engine/pkg/engine/model"
	"github.com/vsync-io/workflow-engine/pkg/engine/resolve"
)

// ArrayHandler implements the array block: map/filter/reduce (via
// expr-lang expressions evaluated per element) and jq (via gojq, for
// JSONPath-style reshaping of the whole input array).
func ArrayHandler(ctx context.Context, b *model.Block, rc *resolve.Context) (Result, error) {
	op := operation(b)

	inputRaw, _ := logicAny(b, rc, "array_input")
	input, _ := inputRaw.([]any)

	switch op {
	case "map":
		exprSrc, _ := b.Logic["array_expr"].(string)
		out := make([]any, 0, len(input))
		for i, item := range input {
			v, err := evalArrayExpr(exprSrc, item, i)
			if err != nil {
				return nil, validationErr("array_expr", err.Error())
			}
			out = append(out, v)
		}
		return Completed{StateDelta: Bind(b, out)}, nil

	case "filter":
		exprSrc, _ := b.Logic["array_expr"].(string)
		out := make([]any, 0, len(input))
		for i, item := range input {
			v, err := evalArrayExpr(exprSrc, item, i)
			if err != nil {
				return nil, validationErr("array_expr", err.Error())
			}
			if keep, ok := v.(bool); ok && keep {
				out = append(out, item)
			}
		}
		return Completed{StateDelta: Bind(b, out)}, nil

	case "reduce":
		exprSrc, _ := b.Logic["array_expr"].(string)
		initial, _ := logicAny(b, rc, "array_initial")
		acc := initial
		for i, item := range input {
			v, err := evalReduceExpr(exprSrc, acc, item, i)
			if err != nil {
				return nil, validationErr("array_expr", err.Error())
			}
			acc = v
		}
		return Completed{StateDelta: Bind(b, acc)}, nil

	case "jq":
		query, _ := b.Logic["array_jq"].(string)
		out, err := evalJQ(query, input)
		if err != nil {
			return nil, validationErr("array_jq", err.Error())
		}
		return Completed{StateDelta: Bind(b, out)}, nil

	default:
		return nil, validationErr("array_operation", "unknown operation "+op)
	}
}

func evalArrayExpr(source string, item any, index int) (any, error) {
	env := map[string]any{"item": item, "index": index}
	program, err := expr.Compile(source, expr.Env(env), expr.AllowUndefinedVariables())
	if err != nil {
		return nil, err
	}
	return expr.Run(program, env)
}

func evalReduceExpr(source string, acc, item any, index int) (any, error) {
	env := map[string]any{"acc": acc, "item": item, "index": index}
	program, err := expr.Compile(source, expr.Env(env), expr.AllowUndefinedVariables())
	if err != nil {
		return nil, err
	}
	return expr.Run(program, env)
}

func evalJQ(query string, input []any) (any, error) {
	parsed, err := gojq.Parse(query)
	if err != nil {
		return nil, err
	}
	code, err := gojq.Compile(parsed)
	if err != nil {
		return nil, err
	}
	iter := code.Run(input)
	var results []any
	for {
		v, ok := iter.Next()
		if !ok {
			break
		}
		if err, ok := v.(error); ok {
			return nil, err
		}
		results = append(results, v)
	}
	if len(results) == 1 {
		return results[0], nil
	}
	return results, nil
}
