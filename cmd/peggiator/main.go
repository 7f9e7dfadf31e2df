package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "peggiator",
		Short: "Real-time presence and shared notes hub",
		Long: `peggiator relays the position, orientation and color of every
connected peer to every other peer, and keeps a shared list of notes
that any peer can add, move or delete.

The note list is checkpointed to a file, bbolt, Postgres, Redis or S3
and restored on the next start.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		serveCmd(),
		watchCmd(),
		notesCmd(),
		versionCmd(),
	)
	return rootCmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
