// Package ais decodes the position reports the coverage calculators consume
// from NMEA 0183 AIVDM/AIVDO sentences.
package ais

import (
	"errors"
	"fmt"
	"strings"
	"time"

	nmea "github.com/adrianmo/go-nmea"

	"github.com/banshee-data/coverage.report/internal/timeutil"
)

var (
	// ErrUnsupported marks sentences that are valid but carry no position
	// report this package decodes.
	ErrUnsupported = errors.New("unsupported AIS sentence")
	// ErrNoPosition marks position reports whose coordinates are flagged as
	// not available.
	ErrNoPosition = errors.New("AIS position not available")
)

// Class is the AIS transponder class of the reporting vessel.
type Class int

const (
	ClassA Class = iota
	ClassB
)

func (c Class) String() string {
	if c == ClassB {
		return "B"
	}
	return "A"
}

// Report is a decoded vessel position.
type Report struct {
	Source      string    `json:"source"`
	MMSI        uint32    `json:"mmsi"`
	MessageType int       `json:"message_type"`
	Class       Class     `json:"class"`
	Lon         float64   `json:"lon"`
	Lat         float64   `json:"lat"`
	Timestamp   time.Time `json:"timestamp"`
}

// ParseLine decodes one sentence, optionally prefixed by a tag block. Source
// and Timestamp are taken from the tag block s: and c: fields and are left
// empty when it is missing.
func ParseLine(line string) (Report, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return Report{}, fmt.Errorf("%w: empty line", ErrUnsupported)
	}
	s, err := nmea.Parse(line)
	if err != nil {
		return Report{}, fmt.Errorf("parse nmea: %w", err)
	}
	vdm, ok := s.(nmea.VDMVDO)
	if !ok {
		return Report{}, fmt.Errorf("%w: sentence type %s", ErrUnsupported, s.DataType())
	}
	if vdm.NumFragments > 1 {
		return Report{}, fmt.Errorf("%w: multi-fragment message", ErrUnsupported)
	}

	r, err := decodePosition(vdm.Payload)
	if err != nil {
		return Report{}, err
	}
	tb := vdm.TagBlock
	r.Source = tb.Source
	if tb.Time > 0 {
		r.Timestamp = tagBlockTime(tb.Time)
	}
	return r, nil
}

// tagBlockTime accepts both second and millisecond c: values.
func tagBlockTime(v int64) time.Time {
	if v > 1e11 {
		return time.UnixMilli(v).UTC()
	}
	return time.Unix(v, 0).UTC()
}

// Decoder fills in the source and timestamp a tag block did not provide.
type Decoder struct {
	DefaultSource string
	Clock         timeutil.Clock
}

// NewDecoder returns a Decoder stamping reports with source and the wall clock.
func NewDecoder(source string) *Decoder {
	return &Decoder{DefaultSource: source, Clock: timeutil.RealClock{}}
}

// Decode parses line and applies the decoder's fallbacks.
func (d *Decoder) Decode(line string) (Report, error) {
	r, err := ParseLine(line)
	if err != nil {
		return r, err
	}
	if r.Source == "" {
		r.Source = d.DefaultSource
	}
	if r.Timestamp.IsZero() && d.Clock != nil {
		r.Timestamp = d.Clock.Now().UTC()
	}
	return r, nil
}
