package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/banshee-data/coverage.report/internal/ais"
	"github.com/banshee-data/coverage.report/internal/api"
	"github.com/banshee-data/coverage.report/internal/coverage"
	"github.com/banshee-data/coverage.report/internal/listener"
	"github.com/banshee-data/coverage.report/internal/monitoring"
	"github.com/banshee-data/coverage.report/internal/serialmux"
	"github.com/banshee-data/coverage.report/internal/timeutil"
)

type serveOptions struct {
	listen        string
	udp           string
	serial        string
	source        string
	pruneInterval time.Duration
}

func newServeCmd(a *app) *cobra.Command {
	var o serveOptions
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Ingest live AIS feeds and serve the coverage API",
		Long: `Start the coverage service. AIS sentences are read from a serial receiver
(--serial) and/or an NMEA-over-UDP feed (--udp) and the HTTP API is served on
--listen:

  GET /grid                     strip layout and cell count
  GET /cell?lon=&lat=           cell containing a point
  GET /cell/{id}                position and bounds of a cell
  GET /coverage?lat_start=&lon_start=&lat_end=&lon_end=&sources=a,b
  GET /sources                  receivers with recorded coverage
  GET /summary?source=          coverage statistics
  GET /debug/coverage-chart     scatter chart of a source`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := a.cfg
			if !cmd.Flags().Changed("listen") {
				o.listen = cfg.GetListen()
			}
			if !cmd.Flags().Changed("udp") {
				o.udp = cfg.GetUDPListen()
			}
			if !cmd.Flags().Changed("serial") {
				o.serial = cfg.GetSerialPort()
			}
			return a.serve(cmd.Context(), o)
		},
	}
	cmd.Flags().StringVar(&o.listen, "listen", ":8090", "HTTP listen address")
	cmd.Flags().StringVar(&o.udp, "udp", "", "UDP address receiving NMEA datagrams, e.g. :10110")
	cmd.Flags().StringVar(&o.serial, "serial", "", "serial device of an AIS receiver")
	cmd.Flags().StringVar(&o.source, "source", "local", "source id for sentences without a tag block")
	cmd.Flags().DurationVar(&o.pruneInterval, "prune-interval", time.Minute, "how often stale ship state is dropped")
	return cmd
}

func (a *app) serve(ctx context.Context, o serveOptions) error {
	cfg := a.cfg
	g, err := cfg.Grid()
	if err != nil {
		return err
	}
	monitoring.Logf("Grid %+v: %d strips, %d cells of %.0f m", g.Bounds(), g.NumStrips(), g.TotalCells(), g.CellHeightMeters())

	store, database, err := openStore(ctx, cfg, g)
	if err != nil {
		return err
	}
	defer store.Close()

	handler := coverage.NewHandler(g, store, calculatorOptions(cfg), cfg.Sources)
	sink := coverage.NewLineSink(ais.NewDecoder(o.source), handler)

	var mux serialmux.SerialMuxInterface = serialmux.NewDisabledSerialMux()
	if o.serial != "" {
		opts := serialmux.PortOptions{
			BaudRate: cfg.GetSerialBaudRate(),
			DataBits: cfg.GetSerialDataBits(),
			StopBits: cfg.GetSerialStopBits(),
			Parity:   cfg.GetSerialParity(),
		}
		port, err := serialmux.NewRealSerialMux(o.serial, opts)
		if err != nil {
			return fmt.Errorf("failed to open serial port %s: %w", o.serial, err)
		}
		monitoring.Logf("Reading AIS from %s at %d baud", o.serial, opts.BaudRate)
		mux = port
	}
	defer mux.Close()

	server := api.NewServer(handler)
	server.AddStats("sentences", func() any { return sink.Stats() })

	var wg sync.WaitGroup
	run := func(name string, fn func() error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(); err != nil && !errors.Is(err, context.Canceled) {
				monitoring.Logf("%s stopped: %v", name, err)
			}
			monitoring.Logger().Debug("routine terminated", "name", name)
		}()
	}

	if o.serial != "" {
		run("serial monitor", func() error { return mux.Monitor(ctx) })
		run("serial pump", func() error { return serialmux.Pump(ctx, mux, sink) })
	}

	if o.udp != "" {
		udp := listener.New(listener.Config{Address: o.udp, Handler: sink})
		server.AddStats("udp", func() any { return udp.Stats() })
		run("udp listener", func() error { return udp.Start(ctx) })
	}

	run("pruner", func() error {
		return prune(ctx, timeutil.RealClock{}, handler, o.pruneInterval)
	})

	httpMux := server.ServeMux()
	mux.AttachAdminRoutes(httpMux)
	if database != nil {
		if err := database.AttachAdminRoutes(httpMux); err != nil {
			return err
		}
	}

	srv := &http.Server{
		Addr:              o.listen,
		Handler:           api.LoggingMiddleware(httpMux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		monitoring.Logf("Serving coverage API on %s", o.listen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case <-ctx.Done():
	case err := <-errc:
		if err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		monitoring.Logf("failed to shutdown server gracefully: %v", err)
	}
	wg.Wait()

	s := sink.Stats()
	monitoring.Logf("Stopped after %d sentences (%d reports, %d skipped, %d invalid)", s.Lines, s.Reports, s.Skipped, s.Invalid)
	return nil
}

// prune drops stale ship state every interval until ctx is done.
func prune(ctx context.Context, clock timeutil.Clock, h *coverage.Handler, interval time.Duration) error {
	if interval <= 0 {
		return nil
	}
	ticker := clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C():
			if n := h.Prune(now); n > 0 {
				monitoring.Logger().Debug("pruned stale ships", "count", n)
			}
		}
	}
}
