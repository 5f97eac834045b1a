package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/your-org/facegate/internal/identity"
	"github.com/your-org/facegate/internal/models"
	"github.com/your-org/facegate/internal/storage"
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage facegate users",
}

var userBootstrapCmd = &cobra.Command{
	Use:   "bootstrap <username>",
	Short: "Create the first admin user",
	Long:  "Creates an admin with the given username. Refuses when any user already exists.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withUsers(cmd.Context(), func(ids *identity.Service) error {
			u, err := ids.BootstrapAdmin(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, u)
		})
	},
}

var userCreateCmd = &cobra.Command{
	Use:   "create <username>",
	Short: "Create a user on behalf of an existing admin",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		role, _ := cmd.Flags().GetString("role")
		return withUsers(cmd.Context(), func(ids *identity.Service) error {
			actor, err := actingUser(cmd, ids)
			if err != nil {
				return err
			}
			u, err := ids.CreateUser(cmd.Context(), actor, args[0], models.Role(role))
			if err != nil {
				return err
			}
			return printJSON(cmd, u)
		})
	},
}

var userListCmd = &cobra.Command{
	Use:   "list",
	Short: "List users",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withUsers(cmd.Context(), func(ids *identity.Service) error {
			actor, err := actingUser(cmd, ids)
			if err != nil {
				return err
			}
			users, err := ids.ListUsers(cmd.Context(), actor)
			if err != nil {
				return err
			}
			return printJSON(cmd, users)
		})
	},
}

func init() {
	userCmd.PersistentFlags().String("as", "", "id of the acting admin")
	userCreateCmd.Flags().String("role", string(models.RoleUser), "role: admin, manager or user")

	userCmd.AddCommand(userBootstrapCmd, userCreateCmd, userListCmd)
	rootCmd.AddCommand(userCmd)
}

// withUsers opens the metadata store for a user-registry command. Blob and
// vision backends are not needed here.
func withUsers(ctx context.Context, fn func(*identity.Service) error) error {
	store, err := storage.Open(ctx, cfg.Database, false)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(identity.NewService(store, nil, identity.Options{}))
}

func actingUser(cmd *cobra.Command, ids *identity.Service) (*models.User, error) {
	raw, _ := cmd.Flags().GetString("as")
	if raw == "" {
		return nil, fmt.Errorf("--as is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse --as: %w", err)
	}
	return ids.GetUser(cmd.Context(), id)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
