// Package replay feeds recorded NMEA traffic through a line handler, either
// from plain text logs or from packet captures of NMEA-over-UDP feeds.
package replay

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/banshee-data/coverage.report/internal/monitoring"
)

// LineHandler consumes one NMEA line.
type LineHandler interface {
	HandleLine(ctx context.Context, line string) error
}

// Options tune a replay.
type Options struct {
	// UDPPort restricts capture replay to datagrams from or to this port;
	// zero accepts every UDP datagram.
	UDPPort int
	// PacketTime, when set, is called with each capture timestamp before the
	// datagram's lines are handled.
	PacketTime func(time.Time)
}

// Result summarizes a finished replay.
type Result struct {
	Packets  int           `json:"packets"`
	Lines    int           `json:"lines"`
	Errors   int           `json:"errors"`
	Duration time.Duration `json:"duration"`
}

// Format identifies an input file layout.
type Format int

const (
	FormatText Format = iota
	FormatPCAP
	FormatPCAPNG
)

func (f Format) String() string {
	switch f {
	case FormatPCAP:
		return "pcap"
	case FormatPCAPNG:
		return "pcapng"
	default:
		return "text"
	}
}

const (
	pcapMagicMicros = 0xa1b2c3d4
	pcapMagicNanos  = 0xa1b23c4d
	pcapngMagic     = 0x0a0d0d0a
)

// DetectFormat inspects the first bytes of r.
func DetectFormat(r *bufio.Reader) (Format, error) {
	head, err := r.Peek(4)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return FormatText, nil
		}
		return FormatText, err
	}
	for _, order := range []binary.ByteOrder{binary.LittleEndian, binary.BigEndian} {
		switch order.Uint32(head) {
		case pcapMagicMicros, pcapMagicNanos:
			return FormatPCAP, nil
		case pcapngMagic:
			return FormatPCAPNG, nil
		}
	}
	return FormatText, nil
}

// File replays path, choosing the reader from the file contents.
func File(ctx context.Context, path string, h LineHandler, opts Options) (Result, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return Result{}, fmt.Errorf("failed to open replay file: %w", err)
	}
	defer f.Close()

	br := bufio.NewReader(f)
	format, err := DetectFormat(br)
	if err != nil {
		return Result{}, fmt.Errorf("failed to read replay file: %w", err)
	}
	monitoring.Logf("Replaying %s as %s", path, format)

	var res Result
	switch format {
	case FormatPCAP, FormatPCAPNG:
		res, err = Capture(ctx, br, format, h, opts)
	default:
		res, err = Text(ctx, br, h)
	}
	monitoring.Logf("Replay of %s finished: %d packets, %d lines, %d rejected in %v",
		path, res.Packets, res.Lines, res.Errors, res.Duration)
	return res, err
}

// Text replays newline separated sentences. Blank lines and lines starting
// with '#' are ignored.
func Text(ctx context.Context, r io.Reader, h LineHandler) (Result, error) {
	start := time.Now()
	var res Result
	scan := bufio.NewScanner(r)
	scan.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scan.Scan() {
		if err := ctx.Err(); err != nil {
			res.Duration = time.Since(start)
			return res, err
		}
		line := strings.TrimSpace(scan.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		handle(ctx, h, line, &res)
	}
	res.Duration = time.Since(start)
	if err := scan.Err(); err != nil {
		return res, fmt.Errorf("failed to read replay input: %w", err)
	}
	return res, nil
}

func handle(ctx context.Context, h LineHandler, line string, res *Result) {
	res.Lines++
	if err := h.HandleLine(ctx, line); err != nil {
		res.Errors++
		monitoring.Logger().Debug("replayed line rejected", "err", err)
	}
}
