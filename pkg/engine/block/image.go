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
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/vsync-io/workflow-engine/pkg/engine/model"
	"github.com/vsync-io/workflow-engine/pkg/engine/resolve"
)

// ImageHandler is a platform-bound handler: decoding and producing
// model.ArtifactImage rows from files on a local filesystem. Hosts without
// local image decoding support (e.g. a sandboxed server runtime) simply
// don't wire this handler, yielding HANDLER_UNSUPPORTED per §4.C.
type ImageHandler struct {
	Root string
}

// NewImageHandler builds an ImageHandler rooted at root.
func NewImageHandler(root string) *ImageHandler {
	return &ImageHandler{Root: root}
}

// Handle implements block.Handler. image_operation "inspect" decodes the
// file at image_path and binds width/height/format; "annotate" attaches
// overlays (already resolved by the caller) to a new Artifact record.
func (h *ImageHandler) Handle(ctx context.Context, b *model.Block, rc *resolve.Context) (Result, error) {
	op, _ := logicString(b, rc, "image_operation")
	path, ok := logicString(b, rc, "image_path")
	if !ok || path == "" {
		return nil, validationErr("image_path", "required")
	}
	if h.Root != "" {
		path = filepath.Join(h.Root, path)
	}

	switch op {
	case "inspect":
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("image inspect: %w", err)
		}
		defer f.Close()
		cfg, format, err := image.DecodeConfig(f)
		if err != nil {
			return nil, fmt.Errorf("image inspect: %w", err)
		}
		return Completed{StateDelta: Bind(b, map[string]any{
			"width":  cfg.Width,
			"height": cfg.Height,
			"format": format,
		})}, nil

	case "annotate":
		overlaysRaw, _ := logicAny(b, rc, "image_overlays")
		overlays := parseOverlays(overlaysRaw)
		artifact := model.Artifact{
			ID:         uuid.NewString(),
			RunID:      rc.WF.Run.ID,
			WorkflowID: rc.WF.Run.WorkflowID,
			Type:       model.ArtifactImage,
			Name:       b.Name,
			FilePath:   path,
			Overlays:   overlays,
			Source:     "image_block",
			BlockID:    b.ID,
			CreatedAt:  time.Now().UTC(),
		}
		return Completed{
			StateDelta: Bind(b, artifact.ID),
			Artifacts:  []model.Artifact{artifact},
		}, nil

	default:
		return nil, validationErr("image_operation", "unknown operation "+op)
	}
}

func parseOverlays(v any) []model.Overlay {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]model.Overlay, 0, len(list))
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		o := model.Overlay{Kind: asStr(m["kind"]), Label: asStr(m["label"])}
		if pts, ok := m["points"].([]any); ok {
			for _, p := range pts {
				pair, ok := p.([]any)
				if !ok || len(pair) != 2 {
					continue
				}
				x, _ := toFloatAny(pair[0])
				y, _ := toFloatAny(pair[1])
				o.Points = append(o.Points, [2]float64{x, y})
			}
		}
		out = append(out, o)
	}
	return out
}
