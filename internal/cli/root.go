package cli

import (
	"os"

	"github.com/spf13/cobra"

	"reelhub-go/internal/client"
)

var (
	serverURL string
	token     string
)

var rootCmd = &cobra.Command{
	Use:          "uploadctl",
	Short:        "Reelhub upload client",
	Long:         "Command line client that uploads files to a Reelhub server in resumable chunks",
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", envOr("REELHUB_URL", "http://localhost:8080"),
		"Base URL of the Reelhub server")
	rootCmd.PersistentFlags().StringVar(&token, "token", os.Getenv("REELHUB_TOKEN"),
		"Bearer token sent with every request")

	rootCmd.AddCommand(newUploadCmd())
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newCancelCmd())
}

func newClient() *client.Client {
	return client.New(serverURL, token)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
