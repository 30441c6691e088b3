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
	"time"

	"github.com/vsync-io/workflow-engine/pkg/engine/model"
	"github.com/vsync-io/workflow-engine/pkg/engine/resolve"
)

// SleepHandler pauses for sleep_duration_ms (bounded at
// model.MaxSleepDurationMS), cancellable via ctx, and contributes that
// interval to the run's wall clock the way §5 requires.
func SleepHandler(ctx context.Context, b *model.Block, rc *resolve.Context) (Result, error) {
	durationMS := 0.0
	if v, ok := logicAny(b, rc, "sleep_duration_ms"); ok {
		durationMS, _ = toFloatAny(v)
	}
	if durationMS > model.MaxSleepDurationMS {
		durationMS = model.MaxSleepDurationMS
	}
	if durationMS < 0 {
		durationMS = 0
	}

	timer := time.NewTimer(time.Duration(durationMS) * time.Millisecond)
	defer timer.Stop()

	select {
	case <-timer.C:
		return Completed{}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
