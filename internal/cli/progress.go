package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/corelink/node/internal/chunk"
	"github.com/corelink/node/internal/session"
)

func init() {
	rootCmd.AddCommand(progressCmd)
}

var pollInterval time.Duration

var progressCmd = &cobra.Command{
	Use:   "progress FILE-ID",
	Short: "Report a download session's status until it reaches a terminal state",
	Args:  cobra.ExactArgs(1),
	RunE:  runProgress,
}

func init() {
	progressCmd.Flags().DurationVar(&pollInterval, "poll", 500*time.Millisecond, "how often to re-check progress")
}

func runProgress(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	mgr, teardown, err := dialManager(ctx)
	if err != nil {
		return err
	}
	defer teardown()

	fileID := chunk.FileID(args[0])
	for {
		status, reason, percent, rate, eta, found, err := mgr.Progress(ctx, fileID)
		if err != nil {
			return err
		}
		if !found {
			fmt.Printf("no session known for %s yet\n", fileID)
		} else {
			fmt.Printf("%s: %d%% (%s) %.0f B/s eta %s\n", status, percent, reason, rate, eta)
			if status != session.Active {
				return nil
			}
		}
		time.Sleep(pollInterval)
	}
}
