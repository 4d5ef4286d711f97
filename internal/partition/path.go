// Package partition derives deterministic, time-based storage paths.
//
// All paths use UTC so the layout is identical regardless of wall-clock
// skew at ingestion, and the same (timestamp, destination) pair always
// yields the same path across processes.
package partition

import (
	"fmt"
	"time"

	"github.com/restream-labs/eventpipe/internal/model"
)

// Path returns the hierarchical partition prefix for a destination and
// business timestamp: {destination}/{year}/{month}/{day}/{hour}/{minute}.
func Path(dest model.Destination, ts time.Time) string {
	u := ts.UTC()
	return fmt.Sprintf("%s/%04d/%02d/%02d/%02d/%02d",
		dest, u.Year(), int(u.Month()), u.Day(), u.Hour(), u.Minute())
}

// ObjectKey returns the full archive key for an event:
// {partition path}/{event-id}.
func ObjectKey(dest model.Destination, ts time.Time, eventID string) string {
	return Path(dest, ts) + "/" + eventID
}
