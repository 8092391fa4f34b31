package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/localfirst/teamgraph/config"
	"github.com/localfirst/teamgraph/connection"
	"github.com/localfirst/teamgraph/coordinator"
	"github.com/localfirst/teamgraph/internal/logger"
	"github.com/localfirst/teamgraph/internal/metrics"
	"github.com/localfirst/teamgraph/keyset"
	"github.com/localfirst/teamgraph/pkg/storage"
	"github.com/localfirst/teamgraph/pkg/storage/memory"
	"github.com/localfirst/teamgraph/pkg/storage/postgres"
	"github.com/localfirst/teamgraph/team"
	"github.com/localfirst/teamgraph/transport/ws"
)

var (
	serveConfigDir string
	serveListen    string
	servePeers     []string
	serveJoinSeed  string
	serveJoinUser  string
	serveJoinName  string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the team to peers over websocket",
	Long: `Serve runs this device as a live peer: it listens for inbound
websocket links, dials any configured peers, and keeps the local team in
sync with everyone who connects.

An invitee joins a team it has never seen by passing --join-seed: the
first member peer that answers validates the invitation and hands over
the graph.`,
	Example: `  # Serve an existing team on :8800, with metrics per config/
  teamctl serve --listen :8800

  # Join a team through a member at ws://other:8800/ws
  teamctl serve --peer ws://other:8800/ws=alice --join-seed wxyzabcdefghijkl --join-user carol`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveConfigDir, "config-dir", "config", "Directory with default.yaml / <env>.yaml")
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "Listen address (overrides transport config)")
	serveCmd.Flags().StringArrayVar(&servePeers, "peer", nil, "Peer to dial, as url=peerId (repeatable)")
	serveCmd.Flags().StringVar(&serveJoinSeed, "join-seed", "", "Invitation seed to join a team with")
	serveCmd.Flags().StringVar(&serveJoinUser, "join-user", "", "User id to join as (with --join-seed)")
	serveCmd.Flags().StringVar(&serveJoinName, "join-name", "", "Display name to join as (defaults to --join-user)")
}

func openStore(cfg *config.Config) (storage.Store, error) {
	if cfg.Storage == nil || cfg.Storage.Type == "" || cfg.Storage.Type == "memory" {
		return memory.NewStore(), nil
	}
	switch cfg.Storage.Type {
	case "postgres":
		// The DSN carries everything; pgx parses it via the pool config.
		return postgres.NewStoreFromDSN(context.Background(), cfg.Storage.DSN)
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Storage.Type)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	_ = config.LoadDotEnv("")
	cfg, err := config.Load(config.LoaderOptions{ConfigDir: serveConfigDir})
	if err != nil {
		return err
	}
	if cfg.Logging != nil {
		log := logger.GetDefaultLogger()
		log.SetLevel(logger.ParseLevel(cfg.Logging.Level))
		log.SetFormat(logger.ParseFormat(cfg.Logging.Format))
	}

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	joining := serveJoinSeed != ""
	var (
		ctx   team.Context
		share *coordinator.Share
	)
	if joining {
		if serveJoinUser == "" {
			return fmt.Errorf("--join-user is required with --join-seed")
		}
		if serveJoinName == "" {
			serveJoinName = serveJoinUser
		}
		deviceID := serveJoinUser + "-device"
		device, err := keyset.New(keyset.DeviceScope(deviceID))
		if err != nil {
			return err
		}
		memberKeys, err := keyset.New(keyset.MemberScope(serveJoinUser))
		if err != nil {
			return err
		}
		ctx = team.Context{UserID: serveJoinUser, DeviceID: deviceID, Device: device}
		if err := saveDevice(ctx); err != nil {
			return err
		}
		share = &coordinator.Share{
			ID:      "join:" + serveJoinUser,
			Context: ctx,
			Join: &connection.JoinParams{
				Seed:       serveJoinSeed,
				UserID:     serveJoinUser,
				UserName:   serveJoinName,
				MemberKeys: memberKeys,
			},
		}
	} else {
		var t *team.Team
		ctx, t, err = loadTeam()
		if err != nil {
			return err
		}
		share = &coordinator.Share{ID: t.State().TeamName, Team: t, Context: ctx}
	}

	localName := ctx.UserID
	bridge := ws.NewBridge(localName)
	coord, err := coordinator.New(coordinator.Config{Transport: bridge, Store: store})
	if err != nil {
		return err
	}
	bridge.Bind(coord)
	defer coord.Stop()

	if err := coord.AddShare(context.Background(), share); err != nil {
		return err
	}

	for _, spec := range servePeers {
		url, peerID, ok := strings.Cut(spec, "=")
		if !ok {
			return fmt.Errorf("--peer must be url=peerId, got %q", spec)
		}
		if err := bridge.Dial(context.Background(), url, peerID); err != nil {
			return err
		}
		fmt.Printf("Dialed %s as peer %s\n", url, peerID)
	}

	if cfg.Metrics != nil && cfg.Metrics.Enabled {
		addr := fmt.Sprintf(":%d", cfg.Metrics.Port)
		go func() {
			if err := metrics.StartServer(addr); err != nil {
				logger.Warn("metrics server stopped", logger.Error(err))
			}
		}()
		fmt.Printf("Metrics on %s/metrics\n", addr)
	}

	listen := serveListen
	if listen == "" && cfg.Transport != nil {
		listen = cfg.Transport.ListenAddr
	}
	if listen == "" {
		// Dial-only mode: block forever while connections run.
		fmt.Println("No listen address; running dial-only. Ctrl-C to stop.")
		select {}
	}

	mux := http.NewServeMux()
	mux.Handle("/ws", bridge.Handler())
	fmt.Fprintf(os.Stdout, "Listening on %s/ws as %s\n", listen, localName)
	return http.ListenAndServe(listen, mux)
}
