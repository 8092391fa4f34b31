package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/localfirst/teamgraph/invitation"
)

var (
	admitUserID   string
	admitUserName string
)

var admitCmd = &cobra.Command{
	Use:   "admit <seed>",
	Short: "Admit an invitee by their invitation seed",
	Long: `Admit redeems an invitation on the admin's side: it derives the
invitee's starter keys and proof from the seed, validates them against
the posted invitation, and posts the ADMIT and bootstrap ADD_DEVICE
links. The invitee then joins from any connection using the same seed.`,
	Example: `  teamctl admit wxyzabcdefghijkl --user carol --name Carol`,
	Args: cobra.ExactArgs(1),
	RunE: runAdmit,
}

func init() {
	rootCmd.AddCommand(admitCmd)
	admitCmd.Flags().StringVarP(&admitUserID, "user", "u", "", "User id of the invitee (required)")
	admitCmd.Flags().StringVarP(&admitUserName, "name", "n", "", "Display name of the invitee (defaults to the user id)")
	_ = admitCmd.MarkFlagRequired("user")
}

func runAdmit(cmd *cobra.Command, args []string) error {
	ctx, t, err := loadTeam()
	if err != nil {
		return err
	}
	seed, err := invitation.NormalizeSeed(args[0])
	if err != nil {
		return err
	}
	if admitUserName == "" {
		admitUserName = admitUserID
	}

	proof, err := invitation.GenerateProof(seed, admitUserName)
	if err != nil {
		return err
	}
	starterMember, starterDevice, err := invitation.StarterKeys(seed, admitUserID)
	if err != nil {
		return err
	}
	err = t.Admit(invitation.DeriveID(seed), proof, admitUserID, admitUserName,
		starterMember.PublicOnly(), starterDevice.PublicOnly(),
		invitation.BootstrapDeviceID(admitUserID), nil)
	if err != nil {
		return err
	}
	if err := saveShare(ctx, t); err != nil {
		return err
	}
	fmt.Printf("Admitted %s (%s).\n", admitUserName, admitUserID)
	return nil
}
