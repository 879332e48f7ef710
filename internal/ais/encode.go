package ais

import (
	"fmt"
	"math"
	"strings"
)

func (b bits) put(start, n int, v int64) {
	u := uint64(v) & (1<<n - 1)
	for i := 0; i < n; i++ {
		b[start+i] = byte(u >> (n - 1 - i) & 1)
	}
}

func (b bits) armor() string {
	var sb strings.Builder
	for i := 0; i+6 <= len(b); i += 6 {
		v := byte(b.uint(i, 6))
		if v < 40 {
			sb.WriteByte(v + 48)
		} else {
			sb.WriteByte(v + 56)
		}
	}
	return sb.String()
}

func checksum(s string) string {
	var c byte
	for i := 0; i < len(s); i++ {
		c ^= s[i]
	}
	return fmt.Sprintf("%02X", c)
}

// EncodePosition renders r as a single-fragment AIVDM sentence, prefixed by a
// tag block carrying its source and timestamp when they are set. Message type
// 0 selects 1 for class A and 18 for class B.
func EncodePosition(r Report) (string, error) {
	msgType := r.MessageType
	if msgType == 0 {
		msgType = 1
		if r.Class == ClassB {
			msgType = 18
		}
	}
	l, ok := positionLayouts[msgType]
	if !ok {
		return "", fmt.Errorf("%w: message type %d", ErrUnsupported, msgType)
	}

	b := make(bits, l.minBits)
	b.put(0, 6, int64(msgType))
	b.put(8, 30, int64(r.MMSI))
	b.put(l.lon, 28, int64(math.Round(r.Lon*600000)))
	b.put(l.lat, 27, int64(math.Round(r.Lat*600000)))

	body := fmt.Sprintf("AIVDM,1,1,,A,%s,0", b.armor())
	line := "!" + body + "*" + checksum(body)

	var tags []string
	if r.Source != "" {
		tags = append(tags, "s:"+r.Source)
	}
	if !r.Timestamp.IsZero() {
		tags = append(tags, fmt.Sprintf("c:%d", r.Timestamp.Unix()))
	}
	if len(tags) > 0 {
		tb := strings.Join(tags, ",")
		line = `\` + tb + "*" + checksum(tb) + `\` + line
	}
	return line, nil
}
