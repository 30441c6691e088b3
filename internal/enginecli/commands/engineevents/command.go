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

// Package engineevents implements "engine events tail", subscribing to
// an eventbus channel and printing every event until interrupted.
package engineevents

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vsync-io/workflow-engine/internal/enginecli"
	"github.com/vsync-io/workflow-engine/pkg/eventbus"
)

// NewCommand builds the "events" command group.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Inspect the engine's event bus",
	}
	cmd.AddCommand(newTailCommand())
	return cmd
}

func newTailCommand() *cobra.Command {
	var (
		configPath string
		runID      string
		workflowID string
		orgID      string
	)

	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Stream lifecycle events from one channel until interrupted",
		Long: `Subscribe to a single eventbus channel (run, workflow, or org scoped)
and print every event as a JSON line until interrupted with Ctrl-C.
Exactly one of --run, --workflow, --org must be given.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return tail(cmd, configPath, runID, workflowID, orgID)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "path to the engine config file")
	cmd.Flags().StringVar(&runID, "run", "", "tail a single run's channel")
	cmd.Flags().StringVar(&workflowID, "workflow", "", "tail a workflow's channel (every run of it)")
	cmd.Flags().StringVar(&orgID, "org", "", "tail an organization's channel")

	return cmd
}

func tail(cmd *cobra.Command, configPath, runID, workflowID, orgID string) error {
	set := 0
	for _, v := range []string{runID, workflowID, orgID} {
		if v != "" {
			set++
		}
	}
	if set > 1 {
		return fmt.Errorf("exactly one of --run, --workflow, --org must be given")
	}

	var channel string
	switch {
	case runID != "":
		channel = eventbus.RunChannel(runID)
	case workflowID != "":
		channel = eventbus.WorkflowChannel(workflowID)
	case orgID != "":
		channel = eventbus.OrgChannel(orgID)
	default:
		return cmd.Help()
	}

	eng, err := enginecli.Bootstrap(configPath)
	if err != nil {
		return err
	}
	defer eng.Close()

	sub := enginecli.NewTailSubscriber(cmd.OutOrStdout())
	eng.Bus.Register(sub)
	defer eng.Bus.Unregister(sub)
	eng.Bus.Subscribe(sub, channel)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	return nil
}
