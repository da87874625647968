package ids

import (
	mathrand "math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0)
)

// New returns a lexicographically sortable identifier.
func New() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// Request returns an identifier for an inbound HTTP request.
func Request() string { return "req_" + New() }

// Connection returns an identifier for a real-time connection.
func Connection() string { return "ws_" + New() }

// Time extracts the creation time embedded in an identifier produced by this
// package. Prefixes are ignored.
func Time(id string) (time.Time, bool) {
	if i := len(id) - ulid.EncodedSize; i > 0 {
		id = id[i:]
	}
	u, err := ulid.ParseStrict(id)
	if err != nil {
		return time.Time{}, false
	}
	return ulid.Time(u.Time()), true
}
