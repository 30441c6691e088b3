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

// Package enginekeys implements the "engine keys" command group: save,
// rotate, list, and revoke credentials in the credential store (§4.D).
package enginekeys

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vsync-io/workflow-engine/internal/enginecli"
	"github.com/vsync-io/workflow-engine/pkg/credentials"
	"github.com/vsync-io/workflow-engine/pkg/engine/model"
)

// NewCommand builds the "keys" command group.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage encrypted credentials",
	}
	cmd.AddCommand(newSaveCommand(), newListCommand(), newRotateCommand(), newRevokeCommand())
	return cmd
}

func newSaveCommand() *cobra.Command {
	var (
		configPath, workflowID, provider, keyType, performedBy string
		storageMode                                            string
	)

	cmd := &cobra.Command{
		Use:   "save <org-id> <name> <value>",
		Short: "Encrypt and save a credential",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := enginecli.Bootstrap(configPath)
			if err != nil {
				return err
			}
			defer eng.Close()

			k, err := eng.Credentials.Save(cmd.Context(), credentials.SaveRequest{
				OrgID:       args[0],
				WorkflowID:  workflowID,
				Name:        args[1],
				Value:       args[2],
				Provider:    provider,
				KeyType:     keyType,
				StorageMode: model.StorageMode(storageMode),
				PerformedBy: performedBy,
			})
			if err != nil {
				return fmt.Errorf("save credential: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "saved key %s (%s)\n", k.ID, k.Name)
			return nil
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "path to the engine config file")
	cmd.Flags().StringVar(&workflowID, "workflow", "", "scope the credential to a single workflow (empty: org-wide)")
	cmd.Flags().StringVar(&provider, "provider", "", "credential provider label")
	cmd.Flags().StringVar(&keyType, "type", "", "credential type label")
	cmd.Flags().StringVar(&storageMode, "storage-mode", "local", "storage mode recorded on the key")
	cmd.Flags().StringVar(&performedBy, "performed-by", "engine-cli", "actor recorded in the audit trail")

	return cmd
}

func newListCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "list <org-id>",
		Short: "List an organization's credentials",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := enginecli.Bootstrap(configPath)
			if err != nil {
				return err
			}
			defer eng.Close()

			keys, err := eng.Credentials.ListByOrg(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("list credentials: %w", err)
			}
			for _, k := range keys {
				status := "active"
				if k.IsRevoked {
					status = "revoked"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\t%s\n", k.ID, k.Name, k.WorkflowID, status)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "path to the engine config file")
	return cmd
}

func newRotateCommand() *cobra.Command {
	var configPath, performedBy string

	cmd := &cobra.Command{
		Use:   "rotate <key-id> <new-value>",
		Short: "Replace a credential's ciphertext",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := enginecli.Bootstrap(configPath)
			if err != nil {
				return err
			}
			defer eng.Close()

			k, err := eng.Credentials.Rotate(cmd.Context(), args[0], args[1], performedBy, "", "engine-cli")
			if err != nil {
				return fmt.Errorf("rotate credential: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "rotated key %s\n", k.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "path to the engine config file")
	cmd.Flags().StringVar(&performedBy, "performed-by", "engine-cli", "actor recorded in the audit trail")
	return cmd
}

func newRevokeCommand() *cobra.Command {
	var configPath, performedBy string

	cmd := &cobra.Command{
		Use:   "revoke <key-id>",
		Short: "Permanently revoke a credential",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := enginecli.Bootstrap(configPath)
			if err != nil {
				return err
			}
			defer eng.Close()

			if err := eng.Credentials.Revoke(cmd.Context(), args[0], performedBy, "", "engine-cli"); err != nil {
				return fmt.Errorf("revoke credential: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "revoked key %s\n", args[0])
			return nil
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "path to the engine config file")
	cmd.Flags().StringVar(&performedBy, "performed-by", "engine-cli", "actor recorded in the audit trail")
	return cmd
}
