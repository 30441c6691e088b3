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
	"os"
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/vsync-io/workflow-engine/pkg/engine/model"
	"github.com/vsync-io/workflow-engine/pkg/engine/resolve"
)

// FilesystemHandler is a platform-bound handler: it is only wired into a
// Registry on hosts that grant the engine a local filesystem, scoped under
// root and constrained to the glob patterns in allowedPatterns.
type FilesystemHandler struct {
	Root            string
	AllowedPatterns []string
}

// NewFilesystemHandler builds a FilesystemHandler rooted at root, rejecting
// any path that doesn't match one of allowedPatterns (doublestar globs,
// e.g. "uploads/**/*.json").
func NewFilesystemHandler(root string, allowedPatterns []string) *FilesystemHandler {
	return &FilesystemHandler{Root: root, AllowedPatterns: allowedPatterns}
}

// Handle implements block.Handler.
func (h *FilesystemHandler) Handle(ctx context.Context, b *model.Block, rc *resolve.Context) (Result, error) {
	op, _ := logicString(b, rc, "filesystem_operation")
	relPath, ok := logicString(b, rc, "filesystem_path")
	if !ok || relPath == "" {
		return nil, validationErr("filesystem_path", "required")
	}

	fullPath, err := h.resolvePath(relPath)
	if err != nil {
		return nil, validationErr("filesystem_path", err.Error())
	}

	switch op {
	case "read":
		data, err := os.ReadFile(fullPath)
		if err != nil {
			return nil, fmt.Errorf("filesystem read: %w", err)
		}
		return Completed{StateDelta: Bind(b, string(data))}, nil

	case "write":
		content, _ := logicString(b, rc, "filesystem_content")
		if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
			return nil, fmt.Errorf("filesystem write: %w", err)
		}
		if err := os.WriteFile(fullPath, []byte(content), 0o644); err != nil {
			return nil, fmt.Errorf("filesystem write: %w", err)
		}
		return Completed{StateDelta: Bind(b, fullPath)}, nil

	case "delete":
		if err := os.Remove(fullPath); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("filesystem delete: %w", err)
		}
		return Completed{StateDelta: Bind(b, true)}, nil

	case "list":
		entries, err := os.ReadDir(filepath.Dir(fullPath))
		if err != nil {
			return nil, fmt.Errorf("filesystem list: %w", err)
		}
		names := make([]any, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		return Completed{StateDelta: Bind(b, names)}, nil

	default:
		return nil, validationErr("filesystem_operation", "unknown operation "+op)
	}
}

// resolvePath joins relPath onto h.Root, rejects traversal outside Root,
// and enforces AllowedPatterns when configured.
func (h *FilesystemHandler) resolvePath(relPath string) (string, error) {
	cleaned := filepath.Clean(filepath.Join(h.Root, relPath))
	rootAbs, err := filepath.Abs(h.Root)
	if err != nil {
		return "", err
	}
	cleanedAbs, err := filepath.Abs(cleaned)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(rootAbs, cleanedAbs)
	if err != nil || rel == ".." || len(rel) >= 2 && rel[:2] == ".." {
		return "", fmt.Errorf("path escapes root: %s", relPath)
	}

	if len(h.AllowedPatterns) > 0 {
		matched := false
		for _, pattern := range h.AllowedPatterns {
			if ok, _ := doublestar.Match(pattern, filepath.ToSlash(rel)); ok {
				matched = true
				break
			}
		}
		if !matched {
			return "", fmt.Errorf("path %q does not match any allowed pattern", relPath)
		}
	}

	return cleanedAbs, nil
}
