package main

import (
	"context"
	"encoding/json"
	"io"
	"sync"

	"github.com/spf13/cobra"

	"fifobus/pkg/config"
	"fifobus/pkg/observability"
	"fifobus/pkg/protocol"
	"fifobus/pkg/protocol/codec"
	"fifobus/pkg/shutdown"
	"fifobus/pkg/subscriber"
	"fifobus/pkg/transport/fifo"
)

// newTailCmd attaches to one pipe and prints every record as a JSON line.
func newTailCmd(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "tail <pipe>",
		Short: "Print records arriving on a pipe as JSON lines",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.ConfigPath)
			if err != nil {
				return err
			}
			logger, err := observability.NewLogger(config.LogConfig{Level: "warn", Outputs: []string{"stderr"}})
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			c, err := codec.NewRegistry().Lookup(cfg.Publisher.Codec)
			if err != nil {
				return err
			}
			coord := shutdown.New(logger)
			coord.Install()
			defer coord.Stop()

			sub, err := subscriber.New(args[0], subscriber.Options{
				Transport: fifo.New(cfg.Pipes.Dir, logger),
				Codec:     c,
				Framer:    protocol.Framer{MaxFrameSize: cfg.Subscriber.MaxFrameSize, PollInterval: cfg.Subscriber.PollInterval},
				Logger:    logger,
			})
			if err != nil {
				return err
			}
			return sub.Run(coord.Context(), printRecord(cmd.OutOrStdout()))
		},
	}
}

func printRecord(w io.Writer) subscriber.Handler {
	var mu sync.Mutex
	enc := json.NewEncoder(w)
	return func(_ context.Context, rec subscriber.Record, _ ...any) error {
		mu.Lock()
		defer mu.Unlock()
		return enc.Encode(rec)
	}
}
