// Package registry implements the Provider Registry: a long-lived
// in-memory catalog of connected providers, their advertised models,
// health, load, and rolling performance.
package registry

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"sync"
	"time"
)

// Status is a provider session's lifecycle state.
type Status string

const (
	StatusConnecting Status = "connecting"
	StatusActive     Status = "active"
	StatusInactive   Status = "inactive"
	StatusRemoved    Status = "removed"
)

// ringSize is K, the bounded performance window.
const ringSize = 10

// WriteHandle is whatever the Session Layer uses to push a message to a
// provider connection. The registry never inspects its contents; it only
// tracks whether the handle is still usable.
type WriteHandle interface {
	// Send writes a single framed message. A non-nil error marks the
	// handle unusable for all future sends.
	Send(msg any) error
	// Close closes the underlying connection.
	Close() error
}

// Sample is one rolling-performance observation.
type Sample struct {
	TokensPerSecond float64
	DurationSeconds float64
	Success         bool
}

// Entry is one live provider session. All mutation happens through the
// Registry's methods, which hold the Registry's mu for the duration of the
// access.
type Entry struct {
	SessionID         string
	AccountID         string // empty for an anonymous provider
	Models            []string
	Status            Status
	ReadyForRequests  bool
	LastHeartbeat     time.Time
	RegisteredAt      time.Time
	Write             WriteHandle
	InFlight          int64
	ring              [ringSize]Sample
	ringLen           int
	ringHead          int
}

// View is a read-only, copied snapshot of an Entry, safe to hand out to
// the Dispatcher without any lock held.
type View struct {
	SessionID        string
	AccountID        string
	Models           []string
	Status           Status
	ReadyForRequests bool
	LastHeartbeat    time.Time
	RegisteredAt     time.Time
	Write            WriteHandle
	InFlight         int64
	Samples          []Sample
}

// TPSEWMA returns the mean tokens/sec over the successful samples in the
// view's rolling window, or 0 if there are none.
func (v View) TPSEWMA() float64 {
	var sum float64
	var n int
	for _, s := range v.Samples {
		if s.Success {
			sum += s.TokensPerSecond
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// Registry is the broker-wide provider catalog. It is constructed once
// and passed by reference; there is no ambient global state.
type Registry struct {
	mu       sync.RWMutex
	entries  map[string]*Entry   // session id -> entry
	byAcct   map[string][]string // account id -> session ids
	order    []string            // session ids, in first-registered order, for tie-breaks
}

// New constructs an empty Registry.
func New() *Registry {
	return &Registry{
		entries: make(map[string]*Entry),
		byAcct:  make(map[string][]string),
	}
}

// RegisterOutcome reports the result of a Register call.
type RegisterOutcome string

const (
	RegisterCreated         RegisterOutcome = "created"
	RegisterAlreadyActive   RegisterOutcome = "already_registered"
	RegisterRejectedHandle  RegisterOutcome = "rejected_write_handle"
)

// Register creates a new provider entry for sessionID, or returns
// RegisterAlreadyActive if the session is already active -- re-registration
// on a live session is idempotent, not an error.
func (r *Registry) Register(sessionID, accountID string, models []string, write WriteHandle) (RegisterOutcome, error) {
	if write == nil {
		return RegisterRejectedHandle, fmt.Errorf("registry: nil write handle for session %s", sessionID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.entries[sessionID]; ok && existing.Status == StatusActive {
		return RegisterAlreadyActive, nil
	}

	entry := &Entry{
		SessionID:        sessionID,
		AccountID:        accountID,
		Models:           dedupeModels(models),
		Status:           StatusActive,
		ReadyForRequests: true,
		LastHeartbeat:    time.Now(),
		RegisteredAt:     time.Now(),
		Write:            write,
	}
	r.entries[sessionID] = entry
	r.order = append(r.order, sessionID)
	if accountID != "" {
		r.byAcct[accountID] = append(r.byAcct[accountID], sessionID)
	}
	return RegisterCreated, nil
}

func dedupeModels(models []string) []string {
	seen := make(map[string]struct{}, len(models))
	out := make([]string, 0, len(models))
	for _, m := range models {
		if _, ok := seen[m]; ok {
			continue
		}
		seen[m] = struct{}{}
		out = append(out, m)
	}
	return out
}

// Heartbeat refreshes a session's last-seen timestamp and promotes it back
// to active if it had lapsed into inactive.
func (r *Registry) Heartbeat(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[sessionID]
	if !ok {
		return
	}
	entry.LastHeartbeat = time.Now()
	if entry.Status == StatusInactive {
		entry.Status = StatusActive
	}
}

// MarkInactive deprioritizes a session without removing it: it may still
// serve requests if load permits, but Selection prefers active sessions.
func (r *Registry) MarkInactive(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry, ok := r.entries[sessionID]; ok && entry.Status == StatusActive {
		entry.Status = StatusInactive
	}
}

// Remove closes the entry's write handle (if still open), purges it and
// its account index entry, and returns the removed entry so the caller
// (the Dispatcher, via the Session Layer) can fail any pending requests
// bound to it.
func (r *Registry) Remove(sessionID string) *Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[sessionID]
	if !ok {
		return nil
	}
	entry.Status = StatusRemoved
	_ = entry.Write.Close()
	delete(r.entries, sessionID)

	for i, id := range r.order {
		if id == sessionID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	if entry.AccountID != "" {
		sessions := r.byAcct[entry.AccountID]
		for i, id := range sessions {
			if id == sessionID {
				sessions = append(sessions[:i], sessions[i+1:]...)
				break
			}
		}
		if len(sessions) == 0 {
			delete(r.byAcct, entry.AccountID)
		} else {
			r.byAcct[entry.AccountID] = sessions
		}
	}
	return entry
}

// ListActive returns a read-only snapshot of every entry currently
// registered, in first-registered order (the tie-break order the
// Dispatcher's scorer relies on).
func (r *Registry) ListActive() []View {
	r.mu.RLock()
	defer r.mu.RUnlock()

	views := make([]View, 0, len(r.order))
	for _, id := range r.order {
		entry, ok := r.entries[id]
		if !ok {
			continue
		}
		views = append(views, snapshot(entry))
	}
	return views
}

func snapshot(e *Entry) View {
	samples := make([]Sample, e.ringLen)
	for i := 0; i < e.ringLen; i++ {
		idx := (e.ringHead - e.ringLen + i + ringSize) % ringSize
		samples[i] = e.ring[idx]
	}
	models := make([]string, len(e.Models))
	copy(models, e.Models)
	return View{
		SessionID:        e.SessionID,
		AccountID:        e.AccountID,
		Models:           models,
		Status:           e.Status,
		ReadyForRequests: e.ReadyForRequests,
		LastHeartbeat:    e.LastHeartbeat,
		RegisteredAt:     e.RegisteredAt,
		Write:            e.Write,
		InFlight:         e.InFlight,
		Samples:          samples,
	}
}

// ErrSessionGone is returned by Reserve/Release when the session has
// already been removed.
type ErrSessionGone struct{ SessionID string }

func (e *ErrSessionGone) Error() string {
	return fmt.Sprintf("registry: session %s is no longer registered", e.SessionID)
}

// Reserve atomically increments a session's in-flight counter and returns
// its write handle, for use by the Dispatcher's forward step. It fails if
// the session has been removed between selection and reservation.
func (r *Registry) Reserve(sessionID string) (WriteHandle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[sessionID]
	if !ok {
		return nil, &ErrSessionGone{SessionID: sessionID}
	}
	entry.InFlight++
	return entry.Write, nil
}

// Release decrements a session's in-flight counter on any terminal
// request outcome. It is safe to call even if the session was removed in
// the meantime (a no-op in that case, since Remove already reset state).
func (r *Registry) Release(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry, ok := r.entries[sessionID]; ok && entry.InFlight > 0 {
		entry.InFlight--
	}
}

// RecordSample pushes a performance sample into the session's rolling
// window, evicting the oldest sample once the ring is full.
func (r *Registry) RecordSample(sessionID string, sample Sample) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[sessionID]
	if !ok {
		return
	}
	entry.ring[entry.ringHead] = sample
	entry.ringHead = (entry.ringHead + 1) % ringSize
	if entry.ringLen < ringSize {
		entry.ringLen++
	}
}

// InactiveBeyond returns the session ids whose last heartbeat is older
// than cutoff, used by the heartbeat monitor to decide inactive/removed
// transitions.
func (r *Registry) InactiveBeyond(cutoff time.Time) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var stale []string
	for id, e := range r.entries {
		if e.LastHeartbeat.Before(cutoff) {
			stale = append(stale, id)
		}
	}
	return stale
}

// Handle derives the provider's deterministic, stable public handle from
// its account id: the first 4 bytes of the SHA-256 digest of the account
// id, interpreted as a big-endian uint32 and reduced modulo 1,000,000.
func Handle(accountID string) string {
	sum := sha256.Sum256([]byte(accountID))
	n := binary.BigEndian.Uint32(sum[:4])
	return fmt.Sprintf("user_%d", n%1_000_000)
}
