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

// Package engineresume implements "engine resume", which delivers an
// action value to a run paused in awaiting_action status.
package engineresume

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vsync-io/workflow-engine/internal/enginecli"
)

// NewCommand builds the "resume" subcommand.
func NewCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "resume <run-id> <value>",
		Short: "Deliver an action value to a paused run",
		Long: `Resume a run that is awaiting_action, delivering the given value to the
paused ui_form/ui_table/ui_details/ui_camera block. value is parsed as
JSON when possible, otherwise passed through as a plain string.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return resume(cmd, args[0], args[1], configPath)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "path to the engine config file")

	return cmd
}

func resume(cmd *cobra.Command, runID, rawValue, configPath string) error {
	eng, err := enginecli.Bootstrap(configPath)
	if err != nil {
		return err
	}
	defer eng.Close()

	var value any
	if err := json.Unmarshal([]byte(rawValue), &value); err != nil {
		value = rawValue
	}

	r, err := eng.Lifecycle.Resume(cmd.Context(), runID, value)
	if err != nil {
		return fmt.Errorf("resume run: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "run %s resumed (status=%s)\n", r.ID, r.Status)
	return nil
}
