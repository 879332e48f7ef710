package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/banshee-data/coverage.report/internal/ais"
	"github.com/banshee-data/coverage.report/internal/coverage"
	"github.com/banshee-data/coverage.report/internal/monitoring"
	"github.com/banshee-data/coverage.report/internal/replay"
	"github.com/banshee-data/coverage.report/internal/timeutil"
)

// replayResult is printed when a replay finishes.
type replayResult struct {
	Files     []replay.Result       `json:"files"`
	Sentences coverage.SinkStats    `json:"sentences"`
	Coverage  coverage.HandlerStats `json:"coverage"`
	Sources   []coverage.SourceInfo `json:"sources"`
}

func newReplayCmd(a *app) *cobra.Command {
	var (
		port        int
		source      string
		captureTime bool
	)
	cmd := &cobra.Command{
		Use:   "replay FILE...",
		Short: "Replay recorded NMEA text or pcap/pcapng captures into the store",
		Long: `Replay recorded AIS traffic. Text files hold one sentence per line; pcap and
pcapng captures are read for UDP datagrams (optionally only those on --port).

Sentences without a tag block timestamp are stamped with the capture time when
--capture-time is set, otherwise with the wall clock.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			g, err := a.cfg.Grid()
			if err != nil {
				return err
			}
			store, _, err := openStore(ctx, a.cfg, g)
			if err != nil {
				return err
			}
			defer store.Close()

			handler := coverage.NewHandler(g, store, calculatorOptions(a.cfg), a.cfg.Sources)
			dec := ais.NewDecoder(source)
			opts := replay.Options{UDPPort: port}
			if captureTime {
				clock := timeutil.NewMockClock(time.Now())
				dec.Clock = clock
				opts.PacketTime = clock.Set
			}
			sink := coverage.NewLineSink(dec, handler)

			out := replayResult{}
			for _, path := range args {
				res, err := replay.File(ctx, path, sink, opts)
				if err != nil {
					return fmt.Errorf("replay %s: %w", path, err)
				}
				out.Files = append(out.Files, res)
			}
			out.Sentences = sink.Stats()
			out.Coverage = handler.Stats()
			if out.Sources, err = handler.Sources(ctx); err != nil {
				return err
			}
			monitoring.Logf("Replayed %d files", len(args))
			return writeJSON(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "only replay UDP datagrams from or to this port (captures only)")
	cmd.Flags().StringVar(&source, "source", "replay", "source id for sentences without a tag block")
	cmd.Flags().BoolVar(&captureTime, "capture-time", true, "stamp untagged sentences with the packet capture time")
	return cmd
}
