// Package ids generates the ULID identifiers assigned to decisions, queue
// entries and outcome rows. ULIDs sort by creation time, so id order doubles
// as chronological order in listings.
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

// New returns a fresh ULID. The shared monotonic entropy source keeps ids
// generated within the same millisecond strictly ordered.
func New() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}
