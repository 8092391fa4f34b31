package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var removeMemberCmd = &cobra.Command{
	Use:   "remove-member <user-id>",
	Short: "Remove a member from the team (rotates the team key)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, t, err := loadTeam()
		if err != nil {
			return err
		}
		oldGen := t.TeamKeys().Generation
		if err := t.Remove(args[0]); err != nil {
			return err
		}
		if err := saveShare(ctx, t); err != nil {
			return err
		}
		fmt.Printf("Removed %s. Team key generation %d -> %d.\n", args[0], oldGen, t.TeamKeys().Generation)
		return nil
	},
}

var removeDeviceCmd = &cobra.Command{
	Use:   "remove-device <user-id> <device-id>",
	Short: "Detach a member's device (rotates every key it could reach)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, t, err := loadTeam()
		if err != nil {
			return err
		}
		if err := t.RemoveDevice(args[0], args[1]); err != nil {
			return err
		}
		if err := saveShare(ctx, t); err != nil {
			return err
		}
		fmt.Printf("Removed device %s from %s.\n", args[1], args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(removeMemberCmd)
	rootCmd.AddCommand(removeDeviceCmd)
}
