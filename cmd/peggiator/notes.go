package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/cuinjune/ar-peggiator/internal/checkpoint"
	"github.com/cuinjune/ar-peggiator/internal/config"
	"github.com/cuinjune/ar-peggiator/internal/logging"
	"github.com/cuinjune/ar-peggiator/internal/protocol"
)

func notesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "notes",
		Short: "Inspect stored notes",
	}
	cmd.AddCommand(notesExportCmd())
	return cmd
}

func notesExportCmd() *cobra.Command {
	var compact bool

	cmd := &cobra.Command{
		Use:   "export [location]",
		Short: "Print the checkpointed notes as JSON",
		Long: `Read the checkpoint at location and print its notes as a JSON array.

Without a location, the checkpoint configured through PEGGIATOR_CHECKPOINT
(or the default notes.json) is read. Any location accepted by
"serve --checkpoint" works here.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			location := ""
			if len(args) == 1 {
				location = args[0]
			} else {
				cfg, err := config.Load("")
				if err != nil {
					return err
				}
				location = cfg.Checkpoint
			}
			logger, err := logging.New(cmd.ErrOrStderr(), "warn", "auto")
			if err != nil {
				return err
			}

			backend, err := checkpoint.Open(cmd.Context(), location, checkpoint.OpenOptions{Logger: logger})
			if err != nil {
				return fmt.Errorf("open checkpoint: %w", err)
			}
			defer backend.Close()

			data, err := backend.Load(cmd.Context())
			if err != nil {
				return fmt.Errorf("load %s: %w", backend, err)
			}
			if data == nil {
				return fmt.Errorf("no checkpoint at %s", backend)
			}
			doc, err := checkpoint.Decode(data)
			if err != nil {
				return err
			}
			return writeNotes(cmd.OutOrStdout(), doc, compact)
		},
	}

	cmd.Flags().BoolVar(&compact, "compact", false, "print without indentation")

	return cmd
}

func writeNotes(w io.Writer, doc checkpoint.Document, compact bool) error {
	enc := json.NewEncoder(w)
	if !compact {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(protocol.NonNilNotes(doc.Notes))
}
