package serialmux

import "strings"

const (
	LineTypeAIS     = "ais"
	LineTypeNMEA    = "nmea"
	LineTypeUnknown = "unknown"
)

// ClassifyLine returns a coarse type token for a line read from a receiver.
// Encapsulated AIS sentences start with '!', optionally after a tag block;
// other NMEA sentences start with '$'.
func ClassifyLine(line string) string {
	line = strings.TrimSpace(line)
	if strings.HasPrefix(line, `\`) {
		if end := strings.Index(line[1:], `\`); end >= 0 {
			line = line[end+2:]
		}
	}
	switch {
	case strings.HasPrefix(line, "!AIVDM"), strings.HasPrefix(line, "!AIVDO"),
		strings.HasPrefix(line, "!BSVDM"), strings.HasPrefix(line, "!ABVDM"):
		return LineTypeAIS
	case strings.HasPrefix(line, "$"):
		return LineTypeNMEA
	default:
		return LineTypeUnknown
	}
}
