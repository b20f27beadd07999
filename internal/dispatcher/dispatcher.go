// Package dispatcher implements the Dispatcher: match requested model to
// eligible providers, score and pick one, forward the request over its
// session's write handle, await the correlated response, and account the
// work through the Ledger Gateway.
package dispatcher

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/llmule/broker/internal/classifier"
	"github.com/llmule/broker/internal/ledger"
	"github.com/llmule/broker/internal/observability"
	"github.com/llmule/broker/internal/registry"
	"github.com/llmule/broker/internal/resilience"
	"github.com/llmule/broker/internal/session"
	"github.com/llmule/broker/internal/tokenomics"
	brokererrors "github.com/llmule/broker/pkg/errors"
	"github.com/llmule/broker/pkg/types"
)

// Tunables mirrors spec section 6's environment-configured constants.
type Tunables struct {
	LoadThreshold         int64
	DefaultRequestTimeout time.Duration
	MaxRequestTimeout     time.Duration

	// MaxConcurrentRequests bounds how many Route calls may be in flight
	// across the whole broker at once, independent of per-provider
	// InFlight tracking. Zero means unbounded.
	MaxConcurrentRequests int
}

// DefaultTunables returns the broker's documented defaults.
func DefaultTunables() Tunables {
	return Tunables{
		LoadThreshold:         5,
		DefaultRequestTimeout: 180 * time.Second,
		MaxRequestTimeout:     300 * time.Second,
		MaxConcurrentRequests: 512,
	}
}

// Request is the Dispatcher's inbound shape, translated from the
// client-facing HTTP request body.
type Request struct {
	Model       string
	Messages    []types.ChatMessage
	Temperature *float64
	MaxTokens   int
	Timeout     time.Duration // zero means DefaultRequestTimeout applies
}

// UsageExtension carries the accounting fields appended to every
// successful response, per the external interface spec.
type UsageExtension struct {
	MuleAmount          float64 `json:"mule_amount"`
	DurationSeconds     float64 `json:"duration_seconds"`
	TokensPerSecond     float64 `json:"tokens_per_second"`
	TransactionMuleCost float64 `json:"transaction_mule_cost"`
}

// Response is the Dispatcher's outbound shape: the provider's chat
// completion enriched with routing and accounting metadata.
type Response struct {
	Chat       *types.ChatResponse
	ModelTier  classifier.Tier
	ProviderID string
	Usage      UsageExtension
}

// Dispatcher ties together the Model Classifier, Tokenomics Engine,
// Ledger Gateway, and Provider Registry to implement route().
type Dispatcher struct {
	registry *registry.Registry
	ledger   ledger.Gateway
	tunables Tunables
	log      *observability.Logger

	pending   *pendingTable
	admission *resilience.Semaphore
}

// New constructs a Dispatcher over the given registry and ledger.
func New(reg *registry.Registry, gw ledger.Gateway, tunables Tunables, log *observability.Logger) *Dispatcher {
	d := &Dispatcher{
		registry: reg,
		ledger:   gw,
		tunables: tunables,
		log:      log,
		pending:  newPendingTable(),
	}
	if tunables.MaxConcurrentRequests > 0 {
		d.admission = resilience.NewSemaphore(tunables.MaxConcurrentRequests)
	}
	return d
}

// Route implements the ten-step selection algorithm from §4.5. consumerID
// identifies the authenticated caller; providerAccountID (via anonymous
// escape hatch) may be empty on the selected entry, in which case
// settlement debits the consumer without crediting any provider.
func (d *Dispatcher) Route(ctx context.Context, consumerID string, req Request) (*Response, error) {
	if d.admission != nil {
		if !d.admission.TryAcquire() {
			return nil, brokererrors.NewNoProviderAvailableError("broker is at its concurrent request limit")
		}
		defer d.admission.Release()
	}

	// 1. Classify.
	capability := classifier.Classify(req.Model)

	// 2. Pre-check balance.
	balance, err := d.ledger.GetBalance(ctx, consumerID)
	if err != nil {
		return nil, brokererrors.NewInternalError("balance lookup failed")
	}
	estimateTokens := req.MaxTokens
	if estimateTokens <= 0 {
		estimateTokens = capability.Context
	}
	estimate := tokenomics.TokensToMules(int64(estimateTokens), capability.Tier)
	if balance < estimate {
		return nil, brokererrors.NewInsufficientBalanceError(fmt.Sprintf(
			"need %s MULE, have %s MULE", format6(estimate.Float64()), format6(balance.Float64())))
	}

	// 3. Filter.
	sel := parseSelector(req.Model)
	candidates := d.registry.ListActive()
	type candidate struct {
		view     registry.View
		resolved string
	}
	var eligible []candidate
	for _, v := range candidates {
		if (v.Status != registry.StatusActive && v.Status != registry.StatusInactive) || !v.ReadyForRequests {
			continue
		}
		if v.InFlight >= d.tunables.LoadThreshold {
			continue
		}
		resolved, ok := matchProvider(sel, v)
		if !ok {
			continue
		}
		eligible = append(eligible, candidate{view: v, resolved: resolved})
	}

	// 4. Short-circuit.
	if len(eligible) == 0 {
		return nil, brokererrors.NewNoProviderAvailableError("no eligible provider for requested model")
	}

	// 5. Score. Active sessions are preferred over inactive ones; within
	// the same status the highest score wins. Ties keep the earlier entry
	// (ListActive returns first-registered order), so a strict comparison
	// in one pass suffices.
	bestIdx := 0
	bestScore := scoreOf(eligible[0].view, d.tunables.LoadThreshold)
	for i := 1; i < len(eligible); i++ {
		s := scoreOf(eligible[i].view, d.tunables.LoadThreshold)
		active := eligible[i].view.Status == registry.StatusActive
		bestActive := eligible[bestIdx].view.Status == registry.StatusActive
		if (active && !bestActive) || (active == bestActive && s > bestScore) {
			bestScore = s
			bestIdx = i
		}
	}
	chosen := eligible[bestIdx]

	// 6. Reserve.
	writeHandle, err := d.registry.Reserve(chosen.view.SessionID)
	if err != nil {
		return nil, brokererrors.NewNoProviderAvailableError("selected provider disconnected before dispatch")
	}
	correlationID := uuid.NewString()
	terminalRecorded := false
	release := func(success bool, tps float64) {
		if terminalRecorded {
			return
		}
		terminalRecorded = true
		d.registry.Release(chosen.view.SessionID)
		d.registry.RecordSample(chosen.view.SessionID, registry.Sample{TokensPerSecond: tps, Success: success})
	}

	pend := newPendingRequest(correlationID, chosen.view.SessionID, consumerID)
	d.pending.put(pend)
	defer d.pending.take(correlationID) // no-op if already consumed

	// 7. Forward.
	msg := session.CompletionRequestMessage{
		Op:          session.OpCompletionRequest,
		ID:          correlationID,
		Model:       chosen.resolved,
		Messages:    req.Messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	start := time.Now()
	if err := writeHandle.Send(msg); err != nil {
		release(false, 0)
		return nil, brokererrors.NewProviderTransportError("failed to forward request to provider")
	}
	pend.markDispatched()

	// 8. Await.
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = d.tunables.DefaultRequestTimeout
	}
	if timeout > d.tunables.MaxRequestTimeout {
		timeout = d.tunables.MaxRequestTimeout
	}

	var resp *types.ChatResponse
	select {
	case <-pend.done:
		pend.mu.Lock()
		status, got, perr := pend.status, pend.response, pend.err
		pend.mu.Unlock()
		if status == pendingCompleted {
			resp = got
		} else {
			release(false, 0)
			return nil, translatePendingError(perr)
		}
	case <-time.After(timeout):
		pend.reject(pendingTimedOut, brokererrors.NewProviderTimeoutError("provider did not respond within the request deadline"))
		release(false, 0)
		return nil, brokererrors.NewProviderTimeoutError("provider did not respond within the request deadline")
	case <-ctx.Done():
		pend.reject(pendingFailed, ctx.Err())
		release(false, 0)
		return nil, brokererrors.NewInternalError("request canceled")
	}

	duration := time.Since(start).Seconds()

	// 9. Account.
	if resp == nil || len(resp.Choices) == 0 || len(resp.Choices[0].Message.Content) == 0 {
		release(false, 0)
		return nil, brokererrors.NewProviderBadResponseError("provider response missing choices or content")
	}

	usage := ledger.Usage{}
	if resp.Usage != nil {
		usage = ledger.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		}
	}
	if usage.TotalTokens == 0 {
		usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	}
	tps := 0.0
	if duration > 0 {
		tps = float64(usage.TotalTokens) / duration
	}
	release(true, tps)

	providerAccountID := chosen.view.AccountID
	settleResult, err := d.ledger.Settle(ctx, consumerID, providerAccountID, chosen.resolved, capability.Tier, usage,
		ledger.Performance{DurationSeconds: duration, TokensPerSecond: tps})
	if err != nil {
		// Settlement failures after a successful provider response are
		// logged, not surfaced: the client already has its answer.
		if d.log != nil {
			d.log.RedactedError("settlement failed after successful completion", "consumer_id", consumerID, "error", err)
		}
		settleResult = ledger.SettleResult{}
	}

	// 10. Return.
	return &Response{
		Chat:       resp,
		ModelTier:  capability.Tier,
		ProviderID: registry.Handle(providerAccountID),
		Usage: UsageExtension{
			MuleAmount:          settleResult.Transaction.MuleAmount.Float64(),
			DurationSeconds:     duration,
			TokensPerSecond:     tps,
			TransactionMuleCost: settleResult.ConsumerCost.Float64(),
		},
	}, nil
}

// Resolve implements session.Correlator: a completion_response arrived
// for correlationID. Unknown ids, including late replies to requests that
// already ended, are logged and dropped.
func (d *Dispatcher) Resolve(correlationID string, resp *types.ChatResponse) {
	pend := d.pending.take(correlationID)
	if pend == nil {
		if d.log != nil {
			d.log.RedactedWarn("dropping completion_response for unknown correlation id", "correlation_id", correlationID)
		}
		return
	}
	pend.resolve(resp)
}

// SessionRemoved implements session.Correlator: fails every pending
// request bound to sessionID with PROVIDER_TRANSPORT_ERROR.
func (d *Dispatcher) SessionRemoved(sessionID string) {
	for _, pend := range d.pending.takeAllForSession(sessionID) {
		pend.reject(pendingFailed, brokererrors.NewProviderTransportError("provider session lost"))
	}
}

func translatePendingError(err error) error {
	if err == nil {
		return brokererrors.NewProviderTransportError("provider session lost")
	}
	if be, ok := err.(*brokererrors.Error); ok {
		return be
	}
	return brokererrors.NewProviderTransportError(err.Error())
}

// scoreOf implements §4.5 step 5's weighted score.
func scoreOf(v registry.View, loadThreshold int64) float64 {
	loadComponent := 1 - float64(v.InFlight)/float64(loadThreshold)
	tpsComponent := math.Min(v.TPSEWMA()/100, 1)
	return 0.6*loadComponent + 0.4*tpsComponent
}

func format6(f float64) string {
	return fmt.Sprintf("%.6f", f)
}
