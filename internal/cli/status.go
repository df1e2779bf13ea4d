package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <upload-id>",
		Short: "Show the progress of an upload session",
		Args:  cobra.ExactArgs(1),
		RunE:  runStatus,
	}
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	status, err := newClient().Status(ctx, args[0])
	if err != nil {
		return fmt.Errorf("failed to get upload status: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Id: %s\n", status.UploadID)
	fmt.Fprintf(out, "File: %s (%s)\n", status.FileName, status.MimeType)
	fmt.Fprintf(out, "Size: %s in %d chunks of %s\n",
		humanize.IBytes(uint64(status.TotalSize)), status.TotalChunks, humanize.IBytes(uint64(status.ChunkSize)))
	fmt.Fprintf(out, "Uploaded: %d/%d\n", status.UploadedCount, status.TotalChunks)
	if len(status.MissingChunks) > 0 {
		fmt.Fprintf(out, "Missing: %v\n", status.MissingChunks)
	}
	fmt.Fprintf(out, "Expires: %s\n", humanize.Time(status.ExpiresAt))

	return nil
}
