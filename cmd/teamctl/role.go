package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var addRoleCmd = &cobra.Command{
	Use:   "add-role <role-name>",
	Short: "Create a new role",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, t, err := loadTeam()
		if err != nil {
			return err
		}
		if err := t.AddRole(args[0]); err != nil {
			return err
		}
		if err := saveShare(ctx, t); err != nil {
			return err
		}
		fmt.Printf("Role %s created.\n", args[0])
		return nil
	},
}

var grantCmd = &cobra.Command{
	Use:   "grant <user-id> <role-name>",
	Short: "Grant a role to a member",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, t, err := loadTeam()
		if err != nil {
			return err
		}
		if err := t.AddMemberRole(args[0], args[1]); err != nil {
			return err
		}
		if err := saveShare(ctx, t); err != nil {
			return err
		}
		fmt.Printf("Granted %s to %s.\n", args[1], args[0])
		return nil
	},
}

var revokeRoleCmd = &cobra.Command{
	Use:   "revoke-role <user-id> <role-name>",
	Short: "Revoke a role from a member (revoking ADMIN rotates the admin keys)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, t, err := loadTeam()
		if err != nil {
			return err
		}
		if err := t.RemoveMemberRole(args[0], args[1]); err != nil {
			return err
		}
		if err := saveShare(ctx, t); err != nil {
			return err
		}
		fmt.Printf("Revoked %s from %s.\n", args[1], args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(addRoleCmd)
	rootCmd.AddCommand(grantCmd)
	rootCmd.AddCommand(revokeRoleCmd)
}
