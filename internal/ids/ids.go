// Package ids issues the identifiers used as storage keys across the
// catalog, identity and requests stores.
package ids

import (
	mathrand "math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// A single monotonic entropy source keeps IDs minted within the same
// millisecond ordered; the mutex is required because ulid.Monotonic
// readers are not safe for concurrent use.
var (
	mu      sync.Mutex
	entropy = ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0)
)

// New returns a fresh ULID string. IDs sort by creation time, so
// "order by id" doubles as a creation-order tie-breaker in queries.
func New() string {
	mu.Lock()
	defer mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}
