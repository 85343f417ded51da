package ids

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewAt returns a ULID stamped with t. IDs created within the same
// millisecond are strictly increasing.
func NewAt(t time.Time) ulid.ULID {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), entropy)
}

// CreateULID returns a time-sortable ULID for the current time, encoded as a
// 26-character string. Invocation and correlation IDs use it.
func CreateULID() string {
	return NewAt(time.Now()).String()
}

// Time extracts the millisecond timestamp of an encoded ULID such as a
// state etag.
func Time(id string) (time.Time, error) {
	parsed, err := ulid.ParseStrict(id)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(parsed.Time()), nil
}
