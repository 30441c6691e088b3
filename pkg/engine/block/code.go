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

	"github.com/vsync-io/workflow-engine/pkg/engine/model"
	"github.com/vsync-io/workflow-engine/pkg/engine/resolve"
)

// CodeHandler executes user code in a sandbox that can only read the
// resolved context; expr-lang's expression VM has no filesystem or network
// access by construction, so it is the sandbox rather than a wrapper around
// one. Only the explicitly-built env map below is visible to the code.
func CodeHandler(ctx context.Context, b *model.Block, rc *resolve.Context) (Result, error) {
	source, _ := b.Logic["code_source"].(string)
	if source == "" {
		return nil, validationErr("code_source", "required")
	}

	env := map[string]any{
		"state":     rc.WF.State,
		"cache":     rc.WF.Cache,
		"event":     rc.WF.Event,
		"secrets":   nil, // never exposed to user code
		"has":       func(m map[string]any, k string) bool { _, ok := m[k]; return ok },
		"includes":  func(haystack []any, needle any) bool {
			for _, v := range haystack {
				if v == needle {
					return true
				}
			}
			return false
		},
		"length": func(v any) int {
			switch val := v.(type) {
			case string:
				return len(val)
			case []any:
				return len(val)
			case map[string]any:
				return len(val)
			default:
				return 0
			}
		},
	}

	program, err := expr.Compile(source, expr.Env(env), expr.AllowUndefinedVariables())
	if err != nil {
		return nil, validationErr("code_source", err.Error())
	}
	result, err := expr.Run(program, env)
	if err != nil {
		return nil, err
	}

	return Completed{StateDelta: Bind(b, result)}, nil
}
