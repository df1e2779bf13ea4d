package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <upload-id>",
		Short: "Discard an upload session and its chunks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			if err := newClient().Cancel(ctx, args[0]); err != nil {
				return fmt.Errorf("failed to cancel upload: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Upload %s cancelled\n", args[0])
			return nil
		},
	}
}
