package session

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"sync"

	"github.com/gofrs/uuid"
)

// maxPinAttempts bounds how many times Create retries on a PIN collision.
const maxPinAttempts = 20

// Registry is the process-wide mapping from PIN to Session. Create/remove
// serialize under a single lock; lookups may run concurrently with each
// other and see a consistent snapshot of the mapping.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// NewID generates an opaque identifier suitable for sessions, hosts, and
// teams. It is exposed so the server can mint connection identifiers with
// the same generator.
func NewID() string {
	return uuid.Must(uuid.NewV4()).String()
}

// Create allocates a fresh hostID and a Session with a PIN sampled
// uniformly from [1000, 9999], retrying on collision up to maxPinAttempts
// times.
func (r *Registry) Create(hostName string) (*Session, string, error) {
	hostID := NewID()

	r.mu.Lock()
	defer r.mu.Unlock()

	for attempt := 0; attempt < maxPinAttempts; attempt++ {
		pin, err := randomPin()
		if err != nil {
			return nil, "", err
		}
		if _, taken := r.sessions[pin]; taken {
			continue
		}

		id := NewID()
		s := New(id, pin, hostName, hostID, NewID)
		r.sessions[pin] = s

		return s, hostID, nil
	}

	return nil, "", ErrPinExhausted
}

// Lookup returns the session for a PIN, or ErrGameNotFound.
func (r *Registry) Lookup(pin string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[pin]
	if !ok {
		return nil, ErrGameNotFound
	}
	return s, nil
}

// Remove evicts a session by PIN. It is a no-op if the PIN is absent.
func (r *Registry) Remove(pin string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, pin)
}

// Snapshot returns every live session, for the janitor's sweep and the
// health endpoint's count. The returned slice is a copy; the janitor must
// not mutate the registry's map while iterating it.
func (r *Registry) Snapshot() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// Count is the number of live sessions, backing GET /health.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func randomPin() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(9000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%04d", 1000+n.Int64()), nil
}
