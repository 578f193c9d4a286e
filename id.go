package ziya

import (
	"time"

	"github.com/google/uuid"
)

// NewID generates a globally unique, time-sortable UUIDv7 (RFC 9562).
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// NowUnixMS returns the current time in Unix milliseconds, the timestamp
// resolution used in streamed events.
func NowUnixMS() int64 {
	return time.Now().UnixMilli()
}
