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

// Package enginerun implements "engine run", which submits a workflow
// file to an in-process Engine and blocks until it reaches a terminal
// or awaiting_action status, printing each lifecycle event as it arrives.
package enginerun

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/vsync-io/workflow-engine/internal/enginecli"
	"github.com/vsync-io/workflow-engine/pkg/engine/loader"
	"github.com/vsync-io/workflow-engine/pkg/engine/model"
	"github.com/vsync-io/workflow-engine/pkg/engine/run"
	"github.com/vsync-io/workflow-engine/pkg/eventbus"
)

// NewCommand builds the "run" subcommand.
func NewCommand() *cobra.Command {
	var (
		configPath string
		eventJSON  string
		orgID      string
		platform   string
		deviceID   string
		follow     bool
	)

	cmd := &cobra.Command{
		Use:   "run <workflow-file>",
		Short: "Submit a workflow file for execution",
		Long: `Submit a workflow definition file for execution against an in-process
engine (no daemon required). The run is watched until it reaches a
terminal status (completed, failed, cancelled) or pauses awaiting an
action, printing each lifecycle event as it is published.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorkflow(cmd, args[0], configPath, eventJSON, orgID, platform, deviceID, follow)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "path to the engine config file")
	cmd.Flags().StringVar(&eventJSON, "event", "{}", "trigger event payload as a JSON object")
	cmd.Flags().StringVar(&orgID, "org", "default", "organization id to run under")
	cmd.Flags().StringVar(&platform, "platform", "cli", "triggering platform, recorded on the run")
	cmd.Flags().StringVar(&deviceID, "device-id", "", "triggering device id, recorded on the run")
	cmd.Flags().BoolVar(&follow, "follow", true, "stream lifecycle events to stdout until the run settles")

	return cmd
}

func runWorkflow(cmd *cobra.Command, path, configPath, eventJSON, orgID, platform, deviceID string, follow bool) error {
	eng, err := enginecli.Bootstrap(configPath)
	if err != nil {
		return err
	}
	defer eng.Close()

	wf, version, err := loader.Load(path)
	if err != nil {
		return fmt.Errorf("load workflow: %w", err)
	}

	var event map[string]any
	if err := json.Unmarshal([]byte(eventJSON), &event); err != nil {
		return fmt.Errorf("parse --event JSON: %w", err)
	}

	if follow {
		sub := enginecli.NewTailSubscriber(cmd.OutOrStdout())
		eng.Bus.Register(sub)
		defer eng.Bus.Unregister(sub)
		eng.Bus.Subscribe(sub, eventbus.WorkflowChannel(wf.ID))
	}

	r, err := eng.Lifecycle.Submit(cmd.Context(), run.SubmitRequest{
		Workflow:    wf,
		Version:     version,
		Event:       event,
		TriggerType: model.TriggerInteractive,
		OrgID:       orgID,
		Platform:    platform,
		DeviceID:    deviceID,
	})
	if err != nil {
		return fmt.Errorf("submit run: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "run %s submitted (status=%s)\n", r.ID, r.Status)

	if !follow {
		return nil
	}

	for {
		time.Sleep(100 * time.Millisecond)
		current, err := eng.Lifecycle.Get(r.ID)
		if err != nil {
			return fmt.Errorf("poll run: %w", err)
		}
		if isTerminal(current.Status) {
			fmt.Fprintf(cmd.OutOrStdout(), "run %s finished: %s\n", current.ID, current.Status)
			if current.Status == model.RunFailed {
				return fmt.Errorf("run failed: %s", current.ErrorMessage)
			}
			return nil
		}
		if current.Status == model.RunAwaitingAction {
			fmt.Fprintf(cmd.OutOrStdout(), "run %s is awaiting an action; resume with: engine-cli resume %s <value>\n", current.ID, current.ID)
			return nil
		}
	}
}

func isTerminal(s model.RunStatus) bool {
	switch s {
	case model.RunCompleted, model.RunFailed, model.RunCancelled:
		return true
	default:
		return false
	}
}
