// Package cli implements the corelink command-line interface using
// Cobra. Each subcommand dials a running corelinkd as an ordinary peer
// and drives a short-lived, in-process FileTransferManager against it;
// it holds no transfer logic of its own.
package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/corelink/node/internal/config"
	"github.com/corelink/node/internal/obslog"
	"github.com/corelink/node/internal/peer"
	"github.com/corelink/node/internal/quictransport"
	"github.com/corelink/node/internal/transfer"
	"github.com/corelink/node/internal/validation"
)

var (
	peerAddr    string
	storageRoot string
)

var rootCmd = &cobra.Command{
	Use:   "corelink",
	Short: "corelink — peer-to-peer file transfer",
	Long: `corelink is a demonstration client for the CoreLink file transfer
protocol: each invocation dials a peer over QUIC, attaches an in-process
transfer manager, performs one operation, and exits.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&peerAddr, "peer", "127.0.0.1:4433", "address of the peer to dial")
	rootCmd.PersistentFlags().StringVar(&storageRoot, "storage", "corelink-cli-storage", "local storage root for this invocation")
}

// Execute runs the root command. Called from main.go.
func Execute(version string) {
	rootCmd.Version = version
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// dialManager builds a Manager, dials peerAddr, attaches a protocol
// handler to it, and returns the running Manager plus a teardown func.
func dialManager(ctx context.Context) (*transfer.Manager, func(), error) {
	if err := validation.ValidateAddr(peerAddr); err != nil {
		return nil, nil, fmt.Errorf("invalid --peer: %w", err)
	}

	cfg := config.DefaultConfig()
	cfg.StorageRoot = storageRoot

	logger := obslog.New("corelink-cli", os.Stderr)
	mgr, err := transfer.New(cfg, logger, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("construct manager: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	go mgr.Run(runCtx)

	localID := "cli-" + uuid.NewString()
	stream, err := quictransport.Dial(runCtx, peerAddr, localID)
	if err != nil {
		cancel()
		return nil, nil, fmt.Errorf("dial %s: %w", peerAddr, err)
	}

	h := peer.New(stream, mgr.Events(), logger.WithPeer(stream.RemotePeerID()))
	go h.Run(runCtx)

	// Give the handshake a moment to register the peer before the caller
	// issues its first command.
	time.Sleep(100 * time.Millisecond)

	return mgr, cancel, nil
}
