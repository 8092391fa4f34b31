package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/localfirst/teamgraph/keyset"
	"github.com/localfirst/teamgraph/team"
)

var (
	createUserID   string
	createUserName string
	createDeviceID string
)

var createCmd = &cobra.Command{
	Use:   "create <team-name>",
	Short: "Found a new team with this device's user as the sole admin",
	Example: `  # Found a team named "spies" as alice
  teamctl create spies --user alice --name Alice --device alice-laptop`,
	Args: cobra.ExactArgs(1),
	RunE: runCreate,
}

func init() {
	rootCmd.AddCommand(createCmd)
	createCmd.Flags().StringVarP(&createUserID, "user", "u", "", "User id of the founder (required)")
	createCmd.Flags().StringVarP(&createUserName, "name", "n", "", "Display name of the founder (defaults to the user id)")
	createCmd.Flags().StringVarP(&createDeviceID, "device", "d", "", "Device id (required)")
	_ = createCmd.MarkFlagRequired("user")
	_ = createCmd.MarkFlagRequired("device")
}

func runCreate(cmd *cobra.Command, args []string) error {
	teamName := args[0]
	if createUserName == "" {
		createUserName = createUserID
	}

	device, err := keyset.New(keyset.DeviceScope(createDeviceID))
	if err != nil {
		return fmt.Errorf("failed to generate device keys: %w", err)
	}
	ctx := team.Context{UserID: createUserID, DeviceID: createDeviceID, Device: device}

	founding, err := team.Create(teamName, createUserName, ctx)
	if err != nil {
		return err
	}
	if err := saveDevice(ctx); err != nil {
		return err
	}
	if err := saveShare(ctx, founding.Team); err != nil {
		return err
	}

	fmt.Printf("Founded team %q as %s (%s)\n", teamName, createUserName, createUserID)
	fmt.Printf("State saved to %s\n", stateDir)
	return nil
}
