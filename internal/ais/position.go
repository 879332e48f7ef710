package ais

import "fmt"

// bits is an unpacked AIS payload, one bit per byte as produced by go-nmea.
type bits []byte

func (b bits) uint(start, n int) uint64 {
	var v uint64
	for i := start; i < start+n; i++ {
		v = v<<1 | uint64(b[i]&1)
	}
	return v
}

func (b bits) int(start, n int) int64 {
	v := int64(b.uint(start, n))
	if v&(1<<(n-1)) != 0 {
		v -= 1 << n
	}
	return v
}

// Field offsets of the coordinates, in bits from the start of the payload.
type layout struct {
	class   Class
	lon     int
	lat     int
	minBits int
}

var positionLayouts = map[int]layout{
	1:  {class: ClassA, lon: 61, lat: 89, minBits: 168},
	2:  {class: ClassA, lon: 61, lat: 89, minBits: 168},
	3:  {class: ClassA, lon: 61, lat: 89, minBits: 168},
	18: {class: ClassB, lon: 57, lat: 85, minBits: 168},
	19: {class: ClassB, lon: 57, lat: 85, minBits: 312},
}

const (
	lonUnavailable = 181.0
	latUnavailable = 91.0
)

func decodePosition(payload []byte) (Report, error) {
	b := bits(payload)
	if len(b) < 38 {
		return Report{}, fmt.Errorf("%w: payload of %d bits", ErrUnsupported, len(b))
	}
	msgType := int(b.uint(0, 6))
	l, ok := positionLayouts[msgType]
	if !ok {
		return Report{}, fmt.Errorf("%w: message type %d", ErrUnsupported, msgType)
	}
	if len(b) < l.minBits {
		return Report{}, fmt.Errorf("%w: type %d payload of %d bits, want %d", ErrUnsupported, msgType, len(b), l.minBits)
	}

	r := Report{
		MMSI:        uint32(b.uint(8, 30)),
		MessageType: msgType,
		Class:       l.class,
		Lon:         float64(b.int(l.lon, 28)) / 600000.0,
		Lat:         float64(b.int(l.lat, 27)) / 600000.0,
	}
	if r.Lon == lonUnavailable || r.Lat == latUnavailable ||
		r.Lon < -180 || r.Lon > 180 || r.Lat < -90 || r.Lat > 90 {
		return Report{}, fmt.Errorf("%w: mmsi %d", ErrNoPosition, r.MMSI)
	}
	return r, nil
}
