package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	_ "github.com/localfirst/teamgraph/internal/cryptoinit"
)

var stateDir string

var rootCmd = &cobra.Command{
	Use:   "teamctl",
	Short: "teamctl - manage a local-first team from the command line",
	Long: `teamctl manages a team defined by a signed membership graph: founding
a team, inviting and admitting members, granting roles, and serving the
team to peers over websocket.

Device secrets and the team's share record are kept in a state directory
(default .teamgraph), one directory per device identity.`,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.PersistentFlags().StringVarP(&stateDir, "state-dir", "s", ".teamgraph", "Directory holding device secrets and the share record")

	// Commands are registered in their respective files:
	// - create.go: createCmd
	// - show.go: showCmd
	// - invite.go: inviteCmd, revokeCmd
	// - admit.go: admitCmd
	// - role.go: addRoleCmd, grantCmd, revokeRoleCmd
	// - remove.go: removeMemberCmd, removeDeviceCmd
	// - rotate.go: rotateDeviceCmd
	// - serve.go: serveCmd
	// - version.go: versionCmd
}
