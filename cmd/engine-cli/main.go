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

// Command engine-cli is the workflow engine's standalone command-line
// front-end: it wires an in-process engine (no daemon) and exposes run
// submission, resume, event tailing, and credential management.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/vsync-io/workflow-engine/internal/enginecli/commands/engineevents"
	"github.com/vsync-io/workflow-engine/internal/enginecli/commands/enginekeys"
	"github.com/vsync-io/workflow-engine/internal/enginecli/commands/engineresume"
	"github.com/vsync-io/workflow-engine/internal/enginecli/commands/enginerun"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "engine-cli",
		Short:         "Multi-tenant workflow execution engine CLI",
		Version:       fmt.Sprintf("%s (%s, %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	rootCmd.AddCommand(
		enginerun.NewCommand(),
		engineresume.NewCommand(),
		engineevents.NewCommand(),
		enginekeys.NewCommand(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
