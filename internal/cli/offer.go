package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/corelink/node/internal/validation"
)

func init() {
	rootCmd.AddCommand(offerCmd)
}

var offerCmd = &cobra.Command{
	Use:   "offer PATH",
	Short: "Offer a local file to the connected peer",
	Args:  cobra.ExactArgs(1),
	RunE:  runOffer,
}

func runOffer(cmd *cobra.Command, args []string) error {
	if err := validation.ValidateFilePath(args[0], true); err != nil {
		return fmt.Errorf("invalid PATH: %w", err)
	}

	ctx := context.Background()
	mgr, teardown, err := dialManager(ctx)
	if err != nil {
		return err
	}
	defer teardown()

	fileID, err := mgr.Offer(ctx, args[0])
	if err != nil {
		return fmt.Errorf("offer failed: %w", err)
	}
	fmt.Printf("offered %s as file-id %s\n", args[0], fileID)
	return nil
}
