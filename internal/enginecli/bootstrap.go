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

// Package enginecli wires the engine's packages (pkg/config, pkg/repo,
// pkg/engine/*, pkg/eventbus, pkg/credentials) into a single in-process
// Engine, shared by cmd/engine-cli and cmd/engine-mcp the way the
// teacher's internal/commands/shared wires a daemon client for every
// subcommand.
package enginecli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/vsync-io/workflow-engine/internal/log"
	"github.com/vsync-io/workflow-engine/pkg/config"
	"github.com/vsync-io/workflow-engine/pkg/credentials"
	"github.com/vsync-io/workflow-engine/pkg/engine/block"
	"github.com/vsync-io/workflow-engine/pkg/engine/condition"
	"github.com/vsync-io/workflow-engine/pkg/engine/interp"
	"github.com/vsync-io/workflow-engine/pkg/engine/model"
	"github.com/vsync-io/workflow-engine/pkg/engine/run"
	"github.com/vsync-io/workflow-engine/pkg/eventbus"
	"github.com/vsync-io/workflow-engine/pkg/repo"
	"github.com/vsync-io/workflow-engine/pkg/repo/memory"
	"github.com/vsync-io/workflow-engine/pkg/repo/sqlite"
)

// Engine bundles the wired components a CLI or MCP front-end drives:
// submit/resume/cancel runs, subscribe to their events, and manage keys.
type Engine struct {
	Config      *config.Config
	Logger      *slog.Logger
	Repo        repo.Repo
	Bus         *eventbus.Registry
	Lifecycle   *run.Lifecycle
	Credentials *credentials.Store
}

// lifecycleStore adapts repo.Repo to the narrower run.Store the
// Lifecycle needs, matching the teacher's pattern of thin adapters
// between a package's own interface and a shared repository.
type lifecycleStore struct {
	repo repo.Repo
}

func (s lifecycleStore) SaveRun(ctx context.Context, r *model.Run) error {
	return s.repo.Runs().Save(ctx, r)
}

// Bootstrap loads configuration, opens the configured backend, and wires
// the interpreter, event bus, run lifecycle and credential store into an
// Engine ready to submit runs.
func Bootstrap(configPath string) (*Engine, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}

	logCfg := &log.Config{
		Level:     cfg.Log.Level,
		AddSource: cfg.Log.AddSource,
	}
	if cfg.Log.Format == "text" {
		logCfg.Format = log.FormatText
	} else {
		logCfg.Format = log.FormatJSON
	}
	logger := log.New(logCfg)

	var backend repo.Repo
	switch cfg.Backend.Type {
	case "sqlite":
		backend, err = sqlite.New(sqlite.Config{Path: cfg.Backend.SQLitePath, WAL: true})
		if err != nil {
			return nil, fmt.Errorf("open sqlite backend: %w", err)
		}
	default:
		backend = memory.New()
	}

	bus := eventbus.New()

	reg := block.NewDefault(block.Deps{})
	eval := condition.New()
	ip := interp.New(reg, eval, nil, nil)

	lifecycle := run.New(ip, bus, lifecycleStore{repo: backend})

	masterKey, err := credentials.NewKeyProvider().GetOrCreateMasterKey()
	if err != nil {
		return nil, fmt.Errorf("resolve credential master key: %w", err)
	}
	credStore, err := credentials.New(backend.Keys(), masterKey)
	if err != nil {
		return nil, fmt.Errorf("open credential store: %w", err)
	}

	return &Engine{
		Config:      cfg,
		Logger:      logger,
		Repo:        backend,
		Bus:         bus,
		Lifecycle:   lifecycle,
		Credentials: credStore,
	}, nil
}

// Close releases the Engine's backend.
func (e *Engine) Close() error {
	return e.Repo.Close()
}
