package coverage

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/banshee-data/coverage.report/internal/ais"
	"github.com/banshee-data/coverage.report/internal/monitoring"
)

// LineSink decodes NMEA lines from any input and feeds them to a Handler.
type LineSink struct {
	decoder *ais.Decoder
	handler *Handler

	lines   atomic.Int64
	reports atomic.Int64
	skipped atomic.Int64
	invalid atomic.Int64
}

// NewLineSink returns a sink decoding with dec into h.
func NewLineSink(dec *ais.Decoder, h *Handler) *LineSink {
	return &LineSink{decoder: dec, handler: h}
}

// HandleLine decodes and processes one line. Sentences without a usable
// position are counted and skipped; only store failures are returned.
func (s *LineSink) HandleLine(ctx context.Context, line string) error {
	s.lines.Add(1)
	r, err := s.decoder.Decode(line)
	switch {
	case err == nil:
	case errors.Is(err, ais.ErrUnsupported), errors.Is(err, ais.ErrNoPosition):
		s.skipped.Add(1)
		return nil
	default:
		s.invalid.Add(1)
		monitoring.Logger().Debug("dropping malformed sentence", "err", err)
		return nil
	}
	s.reports.Add(1)
	return s.handler.Receive(ctx, r)
}

// SinkStats are the LineSink counters.
type SinkStats struct {
	Lines   int64 `json:"lines"`
	Reports int64 `json:"reports"`
	Skipped int64 `json:"skipped"`
	Invalid int64 `json:"invalid"`
}

// Stats returns the current counters.
func (s *LineSink) Stats() SinkStats {
	return SinkStats{
		Lines:   s.lines.Load(),
		Reports: s.reports.Load(),
		Skipped: s.skipped.Load(),
		Invalid: s.invalid.Load(),
	}
}
