package serialmux

import (
	"context"

	"github.com/banshee-data/coverage.report/internal/monitoring"
)

// LineHandler consumes AIS lines; coverage.LineSink implements it.
type LineHandler interface {
	HandleLine(ctx context.Context, line string) error
}

// Pump subscribes to mux and hands every AIS line to h until ctx is done or
// the mux closes. Handler errors are logged and do not stop the pump.
func Pump(ctx context.Context, mux SerialMuxInterface, h LineHandler) error {
	id, lines := mux.Subscribe()
	defer mux.Unsubscribe(id)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if ClassifyLine(line) != LineTypeAIS {
				monitoring.Logger().Debug("ignoring non-AIS line", "line", line)
				continue
			}
			if err := h.HandleLine(ctx, line); err != nil {
				monitoring.Logf("failed to handle AIS line: %v", err)
			}
		}
	}
}
