// Package listener receives NMEA sentences sent as UDP datagrams, the way
// shore stations and AIS aggregators forward their feeds.
package listener

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/coverage.report/internal/monitoring"
)

// LineHandler consumes one NMEA line.
type LineHandler interface {
	HandleLine(ctx context.Context, line string) error
}

// Config holds the listener options.
type Config struct {
	Address string
	// RcvBuf is the requested kernel receive buffer; zero keeps the OS default.
	RcvBuf int
	// LogInterval between statistics log lines; defaults to one minute.
	LogInterval time.Duration
	Handler     LineHandler
	Sockets     SocketFactory
}

// Stats counts datagrams and lines seen by a listener.
type Stats struct {
	Datagrams int64 `json:"datagrams"`
	Bytes     int64 `json:"bytes"`
	Lines     int64 `json:"lines"`
	Errors    int64 `json:"errors"`
}

// UDPListener reads datagrams, splits them into lines and hands each line to
// the configured handler.
type UDPListener struct {
	cfg Config

	mu   sync.Mutex
	addr net.Addr

	datagrams atomic.Int64
	bytes     atomic.Int64
	lines     atomic.Int64
	errs      atomic.Int64
}

// New creates a listener; call Start to begin receiving.
func New(cfg Config) *UDPListener {
	if cfg.LogInterval == 0 {
		cfg.LogInterval = time.Minute
	}
	if cfg.Sockets == nil {
		cfg.Sockets = RealSocketFactory{}
	}
	return &UDPListener{cfg: cfg}
}

// Start listens until ctx is cancelled. It returns ctx.Err() on cancellation
// and an error if the socket cannot be opened.
func (l *UDPListener) Start(ctx context.Context) error {
	if l.cfg.Handler == nil {
		return errors.New("listener has no line handler")
	}
	addr, err := net.ResolveUDPAddr("udp", l.cfg.Address)
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address: %w", err)
	}
	conn, err := l.cfg.Sockets.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP address: %w", err)
	}
	defer conn.Close()

	if l.cfg.RcvBuf > 0 {
		if err := conn.SetReadBuffer(l.cfg.RcvBuf); err != nil {
			monitoring.Logf("Warning: failed to set UDP receive buffer size to %d: %v", l.cfg.RcvBuf, err)
		}
	}

	l.mu.Lock()
	l.addr = conn.LocalAddr()
	l.mu.Unlock()
	monitoring.Logf("NMEA UDP listener started on %s", conn.LocalAddr())

	go l.logStats(ctx)

	buffer := make([]byte, 64*1024)
	for {
		select {
		case <-ctx.Done():
			monitoring.Logf("NMEA UDP listener stopping due to context cancellation")
			return ctx.Err()
		default:
		}

		// A short deadline lets the loop observe cancellation.
		if err := conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond)); err != nil {
			return fmt.Errorf("failed to set read deadline: %w", err)
		}
		n, from, err := conn.ReadFromUDP(buffer)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			monitoring.Logf("UDP read error: %v", err)
			continue
		}
		l.handleDatagram(ctx, buffer[:n], from)
	}
}

// Addr returns the bound address once Start has opened the socket.
func (l *UDPListener) Addr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.addr
}

func (l *UDPListener) handleDatagram(ctx context.Context, datagram []byte, from *net.UDPAddr) {
	l.datagrams.Add(1)
	l.bytes.Add(int64(len(datagram)))

	scan := bufio.NewScanner(bytes.NewReader(datagram))
	for scan.Scan() {
		line := string(bytes.TrimSpace(scan.Bytes()))
		if line == "" {
			continue
		}
		l.lines.Add(1)
		if err := l.cfg.Handler.HandleLine(ctx, line); err != nil {
			l.errs.Add(1)
			monitoring.Logger().Debug("rejected NMEA line", "from", from, "err", err)
		}
	}
}

// Stats returns a snapshot of the listener counters.
func (l *UDPListener) Stats() Stats {
	return Stats{
		Datagrams: l.datagrams.Load(),
		Bytes:     l.bytes.Load(),
		Lines:     l.lines.Load(),
		Errors:    l.errs.Load(),
	}
}

func (l *UDPListener) logStats(ctx context.Context) {
	ticker := time.NewTicker(l.cfg.LogInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s := l.Stats()
			monitoring.Logf("NMEA UDP: %d datagrams, %d lines, %d rejected", s.Datagrams, s.Lines, s.Errors)
		}
	}
}
