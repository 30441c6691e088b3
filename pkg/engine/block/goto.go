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
	"math"

	engineerrors "github.com/vsync-io/workflow-engine/pkg/errors"

	"github.com/vsync-io/workflow-engine/pkg/engine/model"
	"github.com/vsync-io/workflow-engine/pkg/engine/resolve"
)

// GotoHandler validates the flow-control fields and emits a Goto directive.
// Target-block existence is checked by the interpreter, which alone holds
// the version's block index; this handler validates the fields it can see
// in isolation: presence of a target id and a sane max_concurrent.
func GotoHandler(ctx context.Context, b *model.Block, rc *resolve.Context) (Result, error) {
	target, _ := logicString(b, rc, "goto_target_block_id")
	if target == "" {
		return nil, &engineerrors.EngineError{
			Code:    engineerrors.CodeGotoTargetMissing,
			Message: "goto_target_block_id is required",
		}
	}

	deferFlag := false
	if v, ok := logicAny(b, rc, "goto_defer"); ok {
		if bv, ok := v.(bool); ok {
			deferFlag = bv
		}
	}

	maxConcurrent := model.MaxConcurrentDeferred
	if v, ok := logicAny(b, rc, "goto_max_concurrent"); ok {
		f, ok := toFloatAny(v)
		if !ok || math.IsNaN(f) || math.IsInf(f, 0) || f <= 0 {
			return nil, validationErr("goto_max_concurrent", "must be a positive finite number")
		}
		maxConcurrent = int(f)
		if maxConcurrent > model.MaxConcurrentDeferred {
			maxConcurrent = model.MaxConcurrentDeferred
		}
	}

	loopName, _ := logicString(b, rc, "goto_loop_name")

	return Goto{
		Target:        target,
		Defer:         deferFlag,
		MaxConcurrent: maxConcurrent,
		LoopName:      loopName,
	}, nil
}
