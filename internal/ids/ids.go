// Package ids generates the identifiers used as storage keys across the
// service. ULIDs sort by creation time, which keeps audit rows readable in
// insertion order and avoids the index churn of random UUID keys.
package ids

import (
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// One monotonic entropy source for the process keeps ids strictly increasing
// even when several are drawn within the same millisecond.
var pool = struct {
	sync.Mutex
	entropy *ulid.MonotonicEntropy
}{entropy: ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)}

// New returns a fresh ULID string.
func New() string {
	pool.Lock()
	defer pool.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), pool.entropy).String()
}
