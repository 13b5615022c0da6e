package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information set at build time.
var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   "filegate",
		Short: "Upload files through pre-signed URLs and track their malware scan",
		Long: `filegate requests a pre-signed upload URL from the configured backend,
sends the file straight to object storage and polls the scan status
endpoint until a verdict is reached.

Configuration comes from FILEGATE_* environment variables (a .env file
in the working directory is honored). FILEGATE_BASE_URL is required.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		uploadCmd(),
		statusCmd(),
		historyCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the filegate version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}
}
