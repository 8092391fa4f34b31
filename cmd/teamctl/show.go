package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/mr-tron/base58"
	"github.com/spf13/cobra"
)

// fingerprint renders a public signing key as a short base58 tag.
func fingerprint(pub []byte) string {
	if len(pub) == 0 {
		return "-"
	}
	enc := base58.Encode(pub)
	if len(enc) > 8 {
		enc = enc[:8]
	}
	return enc
}

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the team's current state",
	RunE:  runShow,
}

func init() {
	rootCmd.AddCommand(showCmd)
}

func runShow(cmd *cobra.Command, args []string) error {
	_, t, err := loadTeam()
	if err != nil {
		return err
	}
	st := t.State()

	fmt.Printf("Team: %s\n", st.TeamName)
	fmt.Printf("Head: %s\n", t.Head())
	fmt.Printf("Team key generation: %d\n\n", st.TeamKeys.Generation)

	fmt.Println("Members:")
	memberIDs := make([]string, 0, len(st.Members))
	for uid := range st.Members {
		memberIDs = append(memberIDs, uid)
	}
	sort.Strings(memberIDs)
	for _, uid := range memberIDs {
		m := st.Members[uid]
		roles := make([]string, 0, len(m.Roles))
		for r := range m.Roles {
			roles = append(roles, r)
		}
		sort.Strings(roles)
		devices := make([]string, 0, len(m.Devices))
		for d := range m.Devices {
			devices = append(devices, d)
		}
		sort.Strings(devices)
		fmt.Printf("  %s (%s)  key %s  roles: [%s]  devices: [%s]\n",
			m.Name, uid, fingerprint(m.Keys.SigningPublic),
			strings.Join(roles, ", "), strings.Join(devices, ", "))
	}

	if len(st.Roles) > 0 {
		fmt.Println("\nRoles:")
		roleNames := make([]string, 0, len(st.Roles))
		for r := range st.Roles {
			roleNames = append(roleNames, r)
		}
		sort.Strings(roleNames)
		for _, r := range roleNames {
			fmt.Printf("  %s (key generation %d)\n", r, st.Roles[r].Keys.Generation)
		}
	}

	if len(st.Invitations) > 0 {
		fmt.Println("\nInvitations:")
		for id, inv := range st.Invitations {
			status := "open"
			switch {
			case inv.Revoked:
				status = "revoked"
			case inv.Used || inv.RemainingUses <= 0:
				status = "used"
			}
			fmt.Printf("  %s  uses %d/%d  %s\n", id, inv.MaxUses-inv.RemainingUses, inv.MaxUses, status)
		}
	}

	if len(st.RemovedMembers) > 0 {
		removed := make([]string, 0, len(st.RemovedMembers))
		for uid := range st.RemovedMembers {
			removed = append(removed, uid)
		}
		sort.Strings(removed)
		fmt.Printf("\nRemoved members: %s\n", strings.Join(removed, ", "))
	}
	return nil
}
