package ids

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewUserID returns the immutable identifier used as token subject.
func NewUserID() string {
	return uuid.NewString()
}

// New returns a lexicographically sortable identifier for roles, permissions and token ids.
func New() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// ValidUserID reports whether id has the shape NewUserID produces.
func ValidUserID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
