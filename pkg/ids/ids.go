// Package ids issues time-sortable identifiers for commands flowing through
// the bridge.
package ids

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	mu      sync.Mutex
	entropy = ulid.Monotonic(rand.Reader, 0)
)

// New returns a ULID that sorts after every ULID previously returned by this
// process within the same millisecond.
func New() ulid.ULID {
	return at(time.Now())
}

// Request returns a request identifier for one queued command.
func Request() string {
	return New().String()
}

func at(now time.Time) ulid.ULID {
	mu.Lock()
	defer mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(now), entropy)
}

// Time extracts the issue time from a request identifier.
func Time(id string) (time.Time, error) {
	parsed, err := ulid.ParseStrict(id)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(parsed.Time()), nil
}
