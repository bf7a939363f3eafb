// Package idx hands out lexicographically sortable record identifiers.
package idx

import (
	"crypto/rand"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// ErrInvalid reports a malformed identifier.
var ErrInvalid = errors.New("idx: invalid ulid")

// Generator produces ULIDs from a monotonic entropy source so that IDs
// minted within the same millisecond still sort in creation order.
type Generator struct {
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

func NewGenerator() *Generator {
	return &Generator{entropy: ulid.Monotonic(rand.Reader, 0)}
}

// At returns an ID stamped with t.
func (g *Generator) At(t time.Time) string {
	g.mu.Lock()
	defer g.mu.Unlock()

	return ulid.MustNew(ulid.Timestamp(t.UTC()), g.entropy).String()
}

var shared = sync.OnceValue(NewGenerator)

// New returns an ID for the current time from the shared generator.
func New() string { return shared().At(time.Now()) }

// NewAt returns an ID stamped with t from the shared generator.
func NewAt(t time.Time) string { return shared().At(t) }

// Parse validates s and returns it in canonical form.
func Parse(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", ErrInvalid
	}
	u, err := ulid.ParseStrict(s)
	if err != nil {
		return "", ErrInvalid
	}
	return u.String(), nil
}

// Time extracts the timestamp embedded in id, or the zero time if id is not
// a valid ULID.
func Time(id string) time.Time {
	u, err := ulid.ParseStrict(id)
	if err != nil {
		return time.Time{}
	}
	return ulid.Time(u.Time())
}
