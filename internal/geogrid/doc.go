// Package geogrid partitions a geographic bounding box into cells of roughly
// equal physical area and maps between coordinates and dense integer cell ids.
//
// The grid is a stack of latitude strips. Each strip is one target cell high
// and is split into as many equal-width columns as fit across the longitude
// span at the strip's lower latitude, so strips near the poles carry fewer
// columns. Latitudes beyond PoleLatitude collapse into a single-cell pole cap.
//
// Cell ids run row-major from the southmost strip to the northmost and west to
// east within a strip:
//
//	id = sum(columns of strips below) + column
//
// A Grid is immutable after New and safe for concurrent lookups.
package geogrid
