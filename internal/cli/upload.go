package cli

import (
	"context"
	"fmt"
	"os/signal"
	"sync"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"reelhub-go/internal/client"
	"reelhub-go/internal/uploader"
)

type uploadFlags struct {
	resume      string
	chunkSize   string
	concurrency int
	mimeType    string
	destination string
	publish     bool
	title       string
}

func newUploadCmd() *cobra.Command {
	flags := &uploadFlags{}

	cmd := &cobra.Command{
		Use:   "upload <file>",
		Short: "Upload a file in parallel chunks",
		Long: `Upload a file in parallel chunks and assemble it on the server.

An interrupted upload can be continued with --resume <upload-id>, in which
case only the chunks the server is missing are sent.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUpload(cmd, args[0], flags)
		},
	}

	cmd.Flags().StringVar(&flags.resume, "resume", "", "Continue an existing upload session")
	cmd.Flags().StringVar(&flags.chunkSize, "chunk-size", "", "Requested chunk size, e.g. 1MiB (server default if empty)")
	cmd.Flags().IntVarP(&flags.concurrency, "parallel", "p", client.DefaultConcurrency, "Number of chunks sent concurrently")
	cmd.Flags().StringVar(&flags.mimeType, "mime-type", "", "Content type, detected from the file if empty")
	cmd.Flags().StringVar(&flags.destination, "destination", "", "Directory for the assembled file")
	cmd.Flags().BoolVar(&flags.publish, "publish", false, "Create a video record after assembly")
	cmd.Flags().StringVar(&flags.title, "title", "", "Title of the published video")

	return cmd
}

func runUpload(cmd *cobra.Command, path string, flags *uploadFlags) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var chunkSize int64
	if flags.chunkSize != "" {
		n, err := humanize.ParseBytes(flags.chunkSize)
		if err != nil {
			return fmt.Errorf("invalid chunk size %q: %w", flags.chunkSize, err)
		}
		chunkSize = int64(n)
	}

	out := cmd.OutOrStdout()
	var mu sync.Mutex
	progress := func(sent, total int64) {
		mu.Lock()
		defer mu.Unlock()
		fmt.Fprintf(out, "\r%s / %s", humanize.IBytes(uint64(sent)), humanize.IBytes(uint64(total)))
	}

	resp, err := newClient().UploadFile(ctx, path, client.UploadOptions{
		ResumeID:    flags.resume,
		ChunkSize:   chunkSize,
		Concurrency: flags.concurrency,
		MimeType:    flags.mimeType,
		Complete: uploader.CompleteRequest{
			Destination: flags.destination,
			Publish:     flags.publish,
			Title:       flags.title,
		},
		Progress: progress,
	})
	fmt.Fprintln(out)
	if err != nil {
		return fmt.Errorf("upload failed: %w", err)
	}

	fmt.Fprintf(out, "File: %s\n", resp.File.FilePath)
	fmt.Fprintf(out, "URL: %s\n", resp.File.FileURL)
	fmt.Fprintf(out, "Size: %s\n", humanize.IBytes(uint64(resp.File.FileSize)))
	if resp.Video != nil {
		fmt.Fprintf(out, "Video: %s (%s)\n", resp.Video.ID, resp.Video.ProcessingStatus)
	}
	return nil
}
