// README: Shared identifiers and coordinates.
package types

import "time"

type ID string

// Point is a WGS84 coordinate. The JSON names match what mobile clients send.
type Point struct {
	Lat float64 `json:"latitude"`
	Lng float64 `json:"longitude"`
}

// Millis returns t as epoch milliseconds, the timestamp unit used on the wire.
func Millis(t time.Time) int64 {
	return t.UnixMilli()
}

// FromMillis is the inverse of Millis. Zero stays the zero time.
func FromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
