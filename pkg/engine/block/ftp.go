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
	"io"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/vsync-io/workflow-engine/pkg/engine/model"
	"github.com/vsync-io/workflow-engine/pkg/engine/resolve"
)

// FTPClient is the narrow collaborator FTPHandler needs; a real
// implementation wraps a pooled connection to one configured remote.
type FTPClient interface {
	Upload(ctx context.Context, remotePath string, content io.Reader) error
	Download(ctx context.Context, remotePath string) (io.ReadCloser, error)
	List(ctx context.Context, remoteDir string) ([]string, error)
	Delete(ctx context.Context, remotePath string) error
}

// FTPHandler is a platform-bound handler gating every remote path against
// AllowedPatterns before it reaches the FTPClient.
type FTPHandler struct {
	Client          FTPClient
	AllowedPatterns []string
}

// NewFTPHandler builds an FTPHandler over client, restricted to
// allowedPatterns (doublestar globs evaluated against the remote path).
func NewFTPHandler(client FTPClient, allowedPatterns []string) *FTPHandler {
	return &FTPHandler{Client: client, AllowedPatterns: allowedPatterns}
}

// Handle implements block.Handler.
func (h *FTPHandler) Handle(ctx context.Context, b *model.Block, rc *resolve.Context) (Result, error) {
	op, _ := logicString(b, rc, "ftp_operation")
	remotePath, ok := logicString(b, rc, "ftp_path")
	if !ok || remotePath == "" {
		return nil, validationErr("ftp_path", "required")
	}
	if !h.pathAllowed(remotePath) {
		return nil, validationErr("ftp_path", fmt.Sprintf("path %q does not match any allowed pattern", remotePath))
	}

	switch op {
	case "upload":
		content, _ := logicString(b, rc, "ftp_content")
		if err := h.Client.Upload(ctx, remotePath, strings.NewReader(content)); err != nil {
			return nil, fmt.Errorf("ftp upload: %w", err)
		}
		return Completed{StateDelta: Bind(b, remotePath)}, nil

	case "download":
		rc2, err := h.Client.Download(ctx, remotePath)
		if err != nil {
			return nil, fmt.Errorf("ftp download: %w", err)
		}
		defer rc2.Close()
		data, err := io.ReadAll(rc2)
		if err != nil {
			return nil, fmt.Errorf("ftp download: %w", err)
		}
		return Completed{StateDelta: Bind(b, string(data))}, nil

	case "list":
		names, err := h.Client.List(ctx, remotePath)
		if err != nil {
			return nil, fmt.Errorf("ftp list: %w", err)
		}
		out := make([]any, len(names))
		for i, n := range names {
			out[i] = n
		}
		return Completed{StateDelta: Bind(b, out)}, nil

	case "delete":
		if err := h.Client.Delete(ctx, remotePath); err != nil {
			return nil, fmt.Errorf("ftp delete: %w", err)
		}
		return Completed{StateDelta: Bind(b, true)}, nil

	default:
		return nil, validationErr("ftp_operation", "unknown operation "+op)
	}
}

func (h *FTPHandler) pathAllowed(remotePath string) bool {
	if len(h.AllowedPatterns) == 0 {
		return true
	}
	for _, pattern := range h.AllowedPatterns {
		if ok, _ := doublestar.Match(pattern, remotePath); ok {
			return true
		}
	}
	return false
}

