package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/corelink/node/internal/chunk"
)

func init() {
	rootCmd.AddCommand(cancelCmd)
}

var cancelCmd = &cobra.Command{
	Use:   "cancel FILE-ID",
	Short: "Cancel an in-progress download",
	Args:  cobra.ExactArgs(1),
	RunE:  runCancel,
}

func runCancel(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	mgr, teardown, err := dialManager(ctx)
	if err != nil {
		return err
	}
	defer teardown()

	if err := mgr.Cancel(ctx, chunk.FileID(args[0])); err != nil {
		return fmt.Errorf("cancel failed: %w", err)
	}
	fmt.Printf("cancelled %s\n", args[0])
	return nil
}
