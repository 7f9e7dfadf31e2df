package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuinjune/ar-peggiator/internal/client"
	"github.com/cuinjune/ar-peggiator/internal/discovery"
	"github.com/cuinjune/ar-peggiator/internal/logging"
	"github.com/cuinjune/ar-peggiator/internal/protocol"
)

func watchCmd() *cobra.Command {
	var (
		discover bool
		service  string
		timeout  time.Duration
		logLevel string
		sends    []string
		limit    int
	)

	cmd := &cobra.Command{
		Use:   "watch [url]",
		Short: "Print every message a hub sends",
		Long: `Connect to a hub as a peer and print each message it sends, one per
line. The connection is retried until interrupted.

Without a url, ws://localhost:3000/ws is used unless --discover is given.
Each --send event is sent once, after the first introduction, e.g.

  peggiator watch --send '{"type":"addNote","data":{"color":"red","position":[0,1,0]}}'`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			events, err := parseSends(sends)
			if err != nil {
				return err
			}
			logger, err := logging.New(cmd.ErrOrStderr(), logLevel, "auto")
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			ctx, cancel := context.WithCancel(ctx)
			defer cancel()

			url := "ws://localhost:3000/ws"
			switch {
			case len(args) == 1:
				url = args[0]
			case discover:
				bctx, cancel := context.WithTimeout(ctx, timeout)
				entry, err := discovery.Browse(bctx, service)
				cancel()
				if err != nil {
					return err
				}
				logger.Info("discovered hub", "instance", entry.Instance, "url", entry.URL)
				url = entry.URL
			}

			out := cmd.OutOrStdout()
			c := client.New(url, logger)
			var sent bool
			printed := 0
			err = c.Run(ctx, func(env protocol.Envelope) {
				if limit > 0 && printed >= limit {
					return
				}
				fmt.Fprintln(out, formatEnvelope(env))
				printed++
				if limit > 0 && printed >= limit {
					cancel()
					return
				}
				if !sent && env.Type == protocol.TypeIntroduction {
					sent = true
					for _, ev := range events {
						if err := c.Send(ev.Type(), ev); err != nil {
							logger.Error("send failed", "type", ev.Type(), "err", err)
						}
					}
				}
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}

	flags := cmd.Flags()
	flags.BoolVarP(&discover, "discover", "d", false, "find the hub over mDNS")
	flags.StringVar(&service, "service", "_peggiator._tcp", "mDNS service to browse")
	flags.DurationVar(&timeout, "discover-timeout", 5*time.Second, "how long to browse for a hub")
	flags.StringVar(&logLevel, "log-level", "warn", "debug, info, warn or error")
	flags.StringArrayVar(&sends, "send", nil, "event envelope (JSON) to send after connecting; repeatable")
	flags.IntVarP(&limit, "limit", "n", 0, "exit after printing this many messages (0 for no limit)")

	return cmd
}

// parseSends validates --send events before anything is dialed.
func parseSends(frames []string) ([]protocol.Inbound, error) {
	events := make([]protocol.Inbound, 0, len(frames))
	for _, frame := range frames {
		ev, err := protocol.Decode([]byte(frame))
		if err != nil {
			return nil, fmt.Errorf("--send %s: %w", frame, err)
		}
		events = append(events, ev)
	}
	return events, nil
}

func formatEnvelope(env protocol.Envelope) string {
	if len(env.Data) == 0 {
		return string(env.Type)
	}
	return string(env.Type) + " " + string(env.Data)
}
