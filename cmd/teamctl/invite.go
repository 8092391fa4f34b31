package main

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/spf13/cobra"

	"github.com/localfirst/teamgraph/invitation"
)

var (
	inviteMaxUses int
	inviteTTL     time.Duration
	inviteUserID  string
)

var inviteCmd = &cobra.Command{
	Use:   "invite",
	Short: "Create an invitation and print its seed",
	Long: `Create an invitation, post it to the graph, and print the 16-letter
seed. Hand the seed to the invitee out of band; they redeem it with
'teamctl admit' (or over a live connection).`,
	RunE: runInvite,
}

var revokeCmd = &cobra.Command{
	Use:   "revoke <invitation-id>",
	Short: "Revoke an outstanding invitation",
	Args:  cobra.ExactArgs(1),
	RunE:  runRevoke,
}

func init() {
	rootCmd.AddCommand(inviteCmd)
	rootCmd.AddCommand(revokeCmd)
	inviteCmd.Flags().IntVar(&inviteMaxUses, "max-uses", 1, "How many admissions the invitation allows")
	inviteCmd.Flags().DurationVar(&inviteTTL, "ttl", 0, "Invitation lifetime (0 = never expires)")
	inviteCmd.Flags().StringVar(&inviteUserID, "user", "", "Restrict the invitation to a specific user id")
}

// randomSeed draws a fresh 16-letter invitation seed.
func randomSeed() (string, error) {
	letters := make([]byte, invitation.SeedLength)
	for i := range letters {
		n, err := rand.Int(rand.Reader, big.NewInt(26))
		if err != nil {
			return "", err
		}
		letters[i] = byte('a' + n.Int64())
	}
	return string(letters), nil
}

func runInvite(cmd *cobra.Command, args []string) error {
	ctx, t, err := loadTeam()
	if err != nil {
		return err
	}
	seed, err := randomSeed()
	if err != nil {
		return err
	}
	inv, err := t.Invite(invitation.Params{
		Seed:       seed,
		MaxUses:    inviteMaxUses,
		Expiration: invitation.Expiration(time.Now(), inviteTTL),
		UserID:     inviteUserID,
	})
	if err != nil {
		return err
	}
	if err := saveShare(ctx, t); err != nil {
		return err
	}
	fmt.Printf("Invitation %s created.\n", inv.Record.ID)
	fmt.Printf("Seed (share out of band): %s\n", inv.Seed)
	return nil
}

func runRevoke(cmd *cobra.Command, args []string) error {
	ctx, t, err := loadTeam()
	if err != nil {
		return err
	}
	if err := t.RevokeInvitation(args[0]); err != nil {
		return err
	}
	if err := saveShare(ctx, t); err != nil {
		return err
	}
	fmt.Printf("Invitation %s revoked.\n", args[0])
	return nil
}
