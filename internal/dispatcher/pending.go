package dispatcher

import (
	"sync"

	"github.com/llmule/broker/pkg/types"
)

// pendingStatus is the pending-request state machine's current state.
type pendingStatus string

const (
	pendingQueued    pendingStatus = "queued"
	pendingDispatched pendingStatus = "dispatched"
	pendingCompleted pendingStatus = "completed"
	pendingFailed    pendingStatus = "failed"
	pendingTimedOut  pendingStatus = "timed-out"
)

// pendingRequest is one outstanding forwarded request, correlated by id.
// Exactly one of resolve/reject fires, exactly once; done is closed on
// that terminal transition so a single waiter can select on it.
type pendingRequest struct {
	correlationID string
	sessionID     string
	consumerID    string

	mu       sync.Mutex
	status   pendingStatus
	response *types.ChatResponse
	err      error
	done     chan struct{}
}

func newPendingRequest(correlationID, sessionID, consumerID string) *pendingRequest {
	return &pendingRequest{
		correlationID: correlationID,
		sessionID:     sessionID,
		consumerID:    consumerID,
		status:        pendingQueued,
		done:          make(chan struct{}),
	}
}

// markDispatched transitions queued -> dispatched on send-ack.
func (p *pendingRequest) markDispatched() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.status == pendingQueued {
		p.status = pendingDispatched
	}
}

// resolve fires the completed terminal transition. It is a no-op if the
// request already reached a terminal state (e.g. a timeout raced a late
// response).
func (p *pendingRequest) resolve(resp *types.ChatResponse) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.terminal() {
		return false
	}
	p.status = pendingCompleted
	p.response = resp
	close(p.done)
	return true
}

// reject fires a failed or timed-out terminal transition.
func (p *pendingRequest) reject(status pendingStatus, err error) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.terminal() {
		return false
	}
	p.status = status
	p.err = err
	close(p.done)
	return true
}

func (p *pendingRequest) terminal() bool {
	switch p.status {
	case pendingCompleted, pendingFailed, pendingTimedOut:
		return true
	default:
		return false
	}
}

// pendingTable is the Dispatcher's correlation-id -> pendingRequest map.
type pendingTable struct {
	mu      sync.Mutex
	entries map[string]*pendingRequest
}

func newPendingTable() *pendingTable {
	return &pendingTable{entries: make(map[string]*pendingRequest)}
}

func (t *pendingTable) put(p *pendingRequest) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[p.correlationID] = p
}

func (t *pendingTable) take(correlationID string) *pendingRequest {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.entries[correlationID]
	if !ok {
		return nil
	}
	delete(t.entries, correlationID)
	return p
}

// takeAllForSession removes and returns every pending request bound to
// sessionID, used when a provider session is removed so its callers can
// be failed with PROVIDER_TRANSPORT_ERROR.
func (t *pendingTable) takeAllForSession(sessionID string) []*pendingRequest {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []*pendingRequest
	for id, p := range t.entries {
		if p.sessionID == sessionID {
			out = append(out, p)
			delete(t.entries, id)
		}
	}
	return out
}
