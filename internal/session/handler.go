// Package session implements the Session Layer: a per-provider duplex
// channel carrying length-delimited, structured messages over a
// persistent websocket connection. One goroutine runs per connection,
// reading frames in arrival order and demuxing them to the registry and
// the dispatcher's pending-request table.
package session

import (
	"context"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/llmule/broker/internal/observability"
	"github.com/llmule/broker/internal/registry"
	"github.com/llmule/broker/pkg/types"
)

// Correlator is the Dispatcher's half of the demux contract: the Session
// Layer calls it whenever a completion_response or a session loss needs
// to reach a pending request.
type Correlator interface {
	Resolve(correlationID string, resp *types.ChatResponse)
	SessionRemoved(sessionID string)
}

// Authenticator validates a provider's presented API key and returns the
// owning account id, or ok=false if the credential is invalid or the
// account is not active. An empty accountID with ok=true represents the
// anonymous-provider escape hatch (§9): the session serves traffic but
// is never the provider of a consumption transaction.
type Authenticator interface {
	Authenticate(ctx context.Context, apiKey string) (accountID string, ok bool, err error)
}

// Tunables mirrors the heartbeat protocol's environment constants.
type Tunables struct {
	PingInterval time.Duration
	Timeout      time.Duration
}

// DefaultTunables returns T_ping=15s, T_timeout=45s.
func DefaultTunables() Tunables {
	return Tunables{PingInterval: 15 * time.Second, Timeout: 45 * time.Second}
}

// Handler owns the registration handshake, heartbeat protocol, and
// message demux for every provider connection.
type Handler struct {
	registry      *registry.Registry
	correlator    Correlator
	authenticator Authenticator
	tunables      Tunables
	log           *observability.Logger
}

// NewHandler constructs a Handler wired to the broker's registry,
// dispatcher, and auth backend.
func NewHandler(reg *registry.Registry, correlator Correlator, auth Authenticator, tunables Tunables, log *observability.Logger) *Handler {
	return &Handler{registry: reg, correlator: correlator, authenticator: auth, tunables: tunables, log: log}
}

// Serve runs the full lifecycle of one provider connection: handshake,
// then the read loop, with Monitor sending pings alongside it, until the
// connection closes. A session silent past T_timeout is removed by
// SweepInactive, which closes the connection and so ends the read loop.
// It blocks until the session ends.
func (h *Handler) Serve(ctx context.Context, conn *Connection) {
	sessionID := uuid.NewString()

	handshakeCtx, cancel := context.WithTimeout(ctx, h.tunables.Timeout)
	accountID, models, err := h.handshake(handshakeCtx, conn)
	cancel()
	if err != nil {
		h.logf("handshake failed", "session_id", sessionID, "error", err)
		_ = conn.Send(ErrorMessage{Op: OpError, Error: err.Error()})
		_ = conn.Close()
		return
	}

	outcome, err := h.registry.Register(sessionID, accountID, models, conn)
	if err != nil {
		_ = conn.Send(ErrorMessage{Op: OpError, Error: err.Error()})
		_ = conn.Close()
		return
	}
	if outcome == registry.RegisterCreated {
		if sendErr := conn.Send(RegisteredMessage{Op: OpRegistered}); sendErr != nil {
			h.registry.Remove(sessionID)
			h.correlator.SessionRemoved(sessionID)
			return
		}
	}

	defer func() {
		h.registry.Remove(sessionID)
		h.correlator.SessionRemoved(sessionID)
	}()

	monitorCtx, stopMonitor := context.WithCancel(ctx)
	defer stopMonitor()
	go h.Monitor(monitorCtx, sessionID, conn)

	h.readLoop(ctx, sessionID, conn)
}

// handshake waits for the provider's mandatory first register message.
func (h *Handler) handshake(ctx context.Context, conn *Connection) (accountID string, models []string, err error) {
	data, err := conn.Read(ctx)
	if err != nil {
		return "", nil, err
	}

	var msg RegisterMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return "", nil, err
	}
	if msg.Op != OpRegister {
		return "", nil, errFirstMessageMustRegister
	}

	account, ok, err := h.authenticator.Authenticate(ctx, msg.APIKey)
	if err != nil {
		return "", nil, err
	}
	if !ok {
		return "", nil, errInvalidCredential
	}
	return account, msg.Models, nil
}

// readLoop processes inbound frames in arrival order until the
// connection errors out or the caller's context is canceled.
func (h *Handler) readLoop(ctx context.Context, sessionID string, conn *Connection) {
	for {
		data, err := conn.Read(ctx)
		if err != nil {
			h.logf("provider read failed, removing session", "session_id", sessionID, "error", err)
			return
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			h.logf("dropping malformed message", "session_id", sessionID, "error", err)
			continue
		}

		switch env.Op {
		case OpRegister:
			// Idempotent re-registration ack on an already-active session.
			_ = conn.Send(RegisteredMessage{Op: OpRegistered})
		case OpPong:
			h.registry.Heartbeat(sessionID)
		case OpCompletionResponse:
			var resp CompletionResponseMessage
			if err := json.Unmarshal(data, &resp); err != nil {
				h.logf("dropping malformed completion_response", "session_id", sessionID, "error", err)
				continue
			}
			if resp.ID == "" {
				h.logf("dropping completion_response with no correlation id", "session_id", sessionID)
				continue
			}
			h.correlator.Resolve(resp.ID, resp.Response)
		default:
			h.logf("dropping unknown message kind", "session_id", sessionID, "op", string(env.Op))
		}
	}
}

// Monitor runs the per-connection heartbeat ticker: it sends a keepalive
// probe every PingInterval. Serve starts it as its own goroutine and
// stops it via ctx cancellation when the read loop ends.
func (h *Handler) Monitor(ctx context.Context, sessionID string, conn *Connection) {
	ticker := time.NewTicker(h.tunables.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.Send(PingMessage{Op: OpPing}); err != nil {
				h.logf("ping write failed, removing session", "session_id", sessionID, "error", err)
				h.registry.Remove(sessionID)
				h.correlator.SessionRemoved(sessionID)
				return
			}
		}
	}
}

// SweepInactive implements the two-stage liveness sweep: sessions silent
// past T_timeout/3 are demoted to inactive (deprioritized but not yet
// dropped), and sessions silent past the full T_timeout are removed and
// have their pending requests failed. It should be called on a periodic
// tick (T_ping) by the broker's main loop.
func (h *Handler) SweepInactive() {
	now := time.Now()

	inactiveCutoff := now.Add(-h.tunables.Timeout / 3)
	for _, sessionID := range h.registry.InactiveBeyond(inactiveCutoff) {
		h.registry.MarkInactive(sessionID)
	}

	removeCutoff := now.Add(-h.tunables.Timeout)
	for _, sessionID := range h.registry.InactiveBeyond(removeCutoff) {
		h.registry.Remove(sessionID)
		h.correlator.SessionRemoved(sessionID)
	}
}

func (h *Handler) logf(msg string, args ...any) {
	if h.log != nil {
		h.log.RedactedWarn(msg, args...)
	}
}
