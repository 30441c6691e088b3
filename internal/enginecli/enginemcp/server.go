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

// Package enginemcp implements an MCP server that exposes the engine's
// run submission, resume, and status lookups as tools, mirroring the
// teacher's own internal/mcp/server.Server (conductor_run, conductor_health)
// but fronting this engine's Lifecycle instead of a local dry-run executor.
package enginemcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/vsync-io/workflow-engine/internal/enginecli"
	"github.com/vsync-io/workflow-engine/pkg/engine/loader"
	"github.com/vsync-io/workflow-engine/pkg/engine/model"
	"github.com/vsync-io/workflow-engine/pkg/engine/run"
)

// Server wraps the MCP server and the wired engine it fronts.
type Server struct {
	mcpServer *server.MCPServer
	engine    *enginecli.Engine
	logger    *slog.Logger
}

// Config configures the engine MCP server.
type Config struct {
	Name       string
	Version    string
	ConfigPath string
}

// NewServer loads the engine and registers its tools.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Name == "" {
		cfg.Name = "workflow-engine"
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}

	eng, err := enginecli.Bootstrap(cfg.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("bootstrap engine: %w", err)
	}

	s := &Server{
		mcpServer: server.NewMCPServer(cfg.Name, cfg.Version),
		engine:    eng,
		logger:    eng.Logger,
	}
	s.registerTools()
	return s, nil
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcp.Tool{
		Name:        "engine_run",
		Description: "Submit a workflow definition file for execution and return its final status once it settles or pauses.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"workflow_path": map[string]interface{}{
					"type":        "string",
					"description": "Path to the workflow definition YAML file",
				},
				"event": map[string]interface{}{
					"type":        "object",
					"description": "Trigger event payload passed into the workflow context",
				},
				"org_id": map[string]interface{}{
					"type":        "string",
					"description": "Organization id to run under (default: \"default\")",
				},
			},
			Required: []string{"workflow_path"},
		},
	}, s.handleRun)

	s.mcpServer.AddTool(mcp.Tool{
		Name:        "engine_resume",
		Description: "Deliver an action value to a run that is awaiting_action.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"run_id": map[string]interface{}{
					"type":        "string",
					"description": "The paused run's id",
				},
				"value": map[string]interface{}{
					"description": "The action value to deliver (any JSON type)",
				},
			},
			Required: []string{"run_id", "value"},
		},
	}, s.handleResume)

	s.mcpServer.AddTool(mcp.Tool{
		Name:        "engine_status",
		Description: "Look up a run's current status.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"run_id": map[string]interface{}{
					"type":        "string",
					"description": "The run's id",
				},
			},
			Required: []string{"run_id"},
		},
	}, s.handleStatus)
}

func (s *Server) handleRun(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workflowPath, err := request.RequireString("workflow_path")
	if err != nil {
		return errorResult("missing or invalid 'workflow_path' argument"), nil
	}
	orgID := request.GetString("org_id", "default")

	wf, version, err := loader.Load(workflowPath)
	if err != nil {
		return errorResult(fmt.Sprintf("load workflow: %v", err)), nil
	}

	event := map[string]any{}
	if raw, ok := request.GetArguments()["event"]; ok {
		if m, ok := raw.(map[string]any); ok {
			event = m
		}
	}

	r, err := s.engine.Lifecycle.Submit(ctx, run.SubmitRequest{
		Workflow:    wf,
		Version:     version,
		Event:       event,
		TriggerType: model.TriggerAPI,
		OrgID:       orgID,
		Platform:    "mcp",
	})
	if err != nil {
		return errorResult(fmt.Sprintf("submit run: %v", err)), nil
	}

	for {
		time.Sleep(100 * time.Millisecond)
		current, err := s.engine.Lifecycle.Get(r.ID)
		if err != nil {
			return errorResult(fmt.Sprintf("poll run: %v", err)), nil
		}
		if terminalOrPaused(current.Status) {
			return jsonResult(current)
		}
	}
}

func (s *Server) handleResume(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runID, err := request.RequireString("run_id")
	if err != nil {
		return errorResult("missing or invalid 'run_id' argument"), nil
	}
	value, ok := request.GetArguments()["value"]
	if !ok {
		return errorResult("missing 'value' argument"), nil
	}

	r, err := s.engine.Lifecycle.Resume(ctx, runID, value)
	if err != nil {
		return errorResult(fmt.Sprintf("resume run: %v", err)), nil
	}
	return jsonResult(r)
}

func (s *Server) handleStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runID, err := request.RequireString("run_id")
	if err != nil {
		return errorResult("missing or invalid 'run_id' argument"), nil
	}
	r, err := s.engine.Lifecycle.Get(runID)
	if err != nil {
		return errorResult(fmt.Sprintf("get run: %v", err)), nil
	}
	return jsonResult(r)
}

func terminalOrPaused(s model.RunStatus) bool {
	switch s {
	case model.RunCompleted, model.RunFailed, model.RunCancelled, model.RunAwaitingAction:
		return true
	default:
		return false
	}
}

func errorResult(msg string) *mcp.CallToolResult {
	return mcp.NewToolResultError(msg)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errorResult(fmt.Sprintf("encode result: %v", err)), nil
	}
	return &mcp.CallToolResult{Content: []mcp.Content{mcp.NewTextContent(string(b))}}, nil
}

// Run starts the MCP server using stdio transport.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting workflow engine MCP server")
	if err := server.ServeStdio(s.mcpServer); err != nil {
		return fmt.Errorf("mcp server error: %w", err)
	}
	return nil
}

// Close releases the underlying engine.
func (s *Server) Close() error {
	return s.engine.Close()
}
