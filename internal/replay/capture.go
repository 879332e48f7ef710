package replay

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// packetReader is satisfied by both pcapgo.Reader and pcapgo.NgReader.
type packetReader interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
	LinkType() layers.LinkType
}

// Capture replays the UDP payloads of a pcap or pcapng stream. Each payload
// is split into lines; non-UDP packets and other ports are skipped.
func Capture(ctx context.Context, r io.Reader, format Format, h LineHandler, opts Options) (Result, error) {
	var (
		src packetReader
		err error
	)
	switch format {
	case FormatPCAP:
		src, err = pcapgo.NewReader(r)
	case FormatPCAPNG:
		src, err = pcapgo.NewNgReader(r, pcapgo.DefaultNgReaderOptions)
	default:
		return Result{}, fmt.Errorf("unsupported capture format %s", format)
	}
	if err != nil {
		return Result{}, fmt.Errorf("failed to open %s capture: %w", format, err)
	}

	start := time.Now()
	var res Result
	for {
		if err := ctx.Err(); err != nil {
			res.Duration = time.Since(start)
			return res, err
		}
		data, ci, err := src.ReadPacketData()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			res.Duration = time.Since(start)
			return res, fmt.Errorf("failed to read packet %d: %w", res.Packets+1, err)
		}

		packet := gopacket.NewPacket(data, src.LinkType(), gopacket.DecodeOptions{Lazy: true, NoCopy: true})
		udp, ok := packet.Layer(layers.LayerTypeUDP).(*layers.UDP)
		if !ok || len(udp.Payload) == 0 {
			continue
		}
		if opts.UDPPort != 0 && int(udp.DstPort) != opts.UDPPort && int(udp.SrcPort) != opts.UDPPort {
			continue
		}
		res.Packets++

		if opts.PacketTime != nil {
			opts.PacketTime(ci.Timestamp)
		}
		scan := bufio.NewScanner(bytes.NewReader(udp.Payload))
		for scan.Scan() {
			if line := strings.TrimSpace(scan.Text()); line != "" {
				handle(ctx, h, line, &res)
			}
		}
	}
	res.Duration = time.Since(start)
	return res, nil
}
