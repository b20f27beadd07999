// Package api implements the client-facing HTTP surface: the
// OpenAI-compatible completion endpoint and the read-only accounting
// views layered over the Dispatcher, Provider Registry, and Ledger
// Gateway.
package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"github.com/llmule/broker/internal/auth"
	"github.com/llmule/broker/internal/dispatcher"
	"github.com/llmule/broker/internal/httputil"
	"github.com/llmule/broker/internal/idempotency"
	"github.com/llmule/broker/internal/ledger"
	"github.com/llmule/broker/internal/observability"
	"github.com/llmule/broker/internal/pool"
	"github.com/llmule/broker/internal/registry"
	brokererrors "github.com/llmule/broker/pkg/errors"
	"github.com/llmule/broker/pkg/types"
)

// idempotencyWindow bounds how long a client-supplied Idempotency-Key
// blocks a repeat of the same request.
const idempotencyWindow = 10 * time.Minute

// maxChatRequestBodyBytes bounds a single completion request body. A
// conversation's messages dominate the payload; 2MB comfortably covers
// long multi-turn history without letting one client exhaust memory.
const maxChatRequestBodyBytes = 2 * 1024 * 1024

// Handler implements the client-facing REST API. Every method assumes an
// *auth.AuthContext has already been attached to the request by
// auth.Middleware.
type Handler struct {
	dispatcher  *dispatcher.Dispatcher
	registry    *registry.Registry
	ledger      ledger.Gateway
	idempotency idempotency.Store
	log         *observability.Logger
}

// New constructs a Handler. idem may be nil, in which case
// Idempotency-Key is accepted but not enforced.
func New(d *dispatcher.Dispatcher, reg *registry.Registry, gw ledger.Gateway, idem idempotency.Store, log *observability.Logger) *Handler {
	return &Handler{dispatcher: d, registry: reg, ledger: gw, idempotency: idem, log: log}
}

// HealthCheck reports the process as live. It never depends on database
// or provider connectivity, so a broker with zero connected providers
// still reports healthy -- readiness is a routing concern, not a
// liveness one.
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ChatCompletions implements POST /v1/chat/completions.
func (h *Handler) ChatCompletions(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.GetAuthContext(r.Context())
	if authCtx == nil || authCtx.Account == nil {
		writeError(w, brokererrors.NewInternalError("missing authentication context"))
		return
	}

	if key := r.Header.Get("Idempotency-Key"); key != "" && h.idempotency != nil {
		first, err := h.idempotency.PutIfAbsent(r.Context(), authCtx.Account.ID+":"+key, idempotencyWindow)
		if err != nil && h.log != nil {
			h.log.RedactedWarn("idempotency check failed, proceeding without dedup", "error", err)
		}
		if err == nil && !first {
			writeError(w, brokererrors.NewDuplicateRequestError("a request with this Idempotency-Key is already in flight or recently completed"))
			return
		}
	}

	body, err := httputil.ReadLimitedBody(r.Body, maxChatRequestBodyBytes)
	if err != nil {
		if err == httputil.ErrResponseBodyTooLarge {
			writeError(w, brokererrors.NewInvalidModelError("request body too large"))
		} else {
			writeError(w, brokererrors.NewInvalidModelError("invalid request body"))
		}
		return
	}

	req := pool.GetChatRequest()
	defer pool.PutChatRequest(req)
	if err := json.Unmarshal(body, req); err != nil {
		writeError(w, brokererrors.NewInvalidModelError("invalid request body"))
		return
	}
	if req.Model == "" {
		writeError(w, brokererrors.NewInvalidModelError("model is required"))
		return
	}
	if len(req.Messages) == 0 {
		writeError(w, brokererrors.NewInvalidModelError("messages must not be empty"))
		return
	}

	var timeout time.Duration
	if req.Timeout > 0 {
		timeout = time.Duration(req.Timeout) * time.Second
	}

	resp, err := h.dispatcher.Route(r.Context(), authCtx.Account.ID, dispatcher.Request{
		Model:       req.Model,
		Messages:    req.Messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Timeout:     timeout,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, chatCompletionResponse{
		ChatResponse: resp.Chat,
		ModelTier:    string(resp.ModelTier),
		ProviderID:   resp.ProviderID,
		Usage:        resp.Usage,
	})
	pool.PutChatResponse(resp.Chat)
}

// chatCompletionResponse embeds the OpenAI-compatible response and
// appends the broker's accounting extension fields. MarshalJSON merges
// the extension into the existing "usage" object rather than adding a
// sibling top-level key, since the documented wire contract is
// usage.{mule_amount, duration_seconds, tokens_per_second,
// transaction_mule_cost} alongside the OpenAI token counts.
type chatCompletionResponse struct {
	*types.ChatResponse
	ModelTier  string
	ProviderID string
	Usage      dispatcher.UsageExtension
}

// chatCompletionUsage is the wire shape of the merged "usage" object: the
// OpenAI-compatible token counts plus the broker's accounting extension.
type chatCompletionUsage struct {
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	TotalTokens      int     `json:"total_tokens"`

	MuleAmount          float64 `json:"mule_amount"`
	DurationSeconds     float64 `json:"duration_seconds"`
	TokensPerSecond     float64 `json:"tokens_per_second"`
	TransactionMuleCost float64 `json:"transaction_mule_cost"`
}

func (r chatCompletionResponse) MarshalJSON() ([]byte, error) {
	usage := chatCompletionUsage{
		MuleAmount:          r.Usage.MuleAmount,
		DurationSeconds:     r.Usage.DurationSeconds,
		TokensPerSecond:     r.Usage.TokensPerSecond,
		TransactionMuleCost: r.Usage.TransactionMuleCost,
	}
	if r.ChatResponse.Usage != nil {
		usage.PromptTokens = r.ChatResponse.Usage.PromptTokens
		usage.CompletionTokens = r.ChatResponse.Usage.CompletionTokens
		usage.TotalTokens = r.ChatResponse.Usage.TotalTokens
	}

	return json.Marshal(struct {
		ID                string              `json:"id"`
		Object            string              `json:"object"`
		Created           int64               `json:"created"`
		Model             string              `json:"model"`
		Choices           []types.Choice      `json:"choices"`
		Usage             chatCompletionUsage `json:"usage"`
		SystemFingerprint string              `json:"system_fingerprint,omitempty"`
		ModelTier         string              `json:"model_tier"`
		ProviderID        string              `json:"provider_id,omitempty"`
	}{
		ID:                r.ChatResponse.ID,
		Object:            r.ChatResponse.Object,
		Created:           r.ChatResponse.Created,
		Model:             r.ChatResponse.Model,
		Choices:           r.ChatResponse.Choices,
		Usage:             usage,
		SystemFingerprint: r.ChatResponse.SystemFingerprint,
		ModelTier:         r.ModelTier,
		ProviderID:        r.ProviderID,
	})
}

// Balance implements GET /v1/balance.
func (h *Handler) Balance(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.GetAuthContext(r.Context())
	if authCtx == nil || authCtx.Account == nil {
		writeError(w, brokererrors.NewInternalError("missing authentication context"))
		return
	}
	balance, err := h.ledger.GetBalance(r.Context(), authCtx.Account.ID)
	if err != nil {
		if h.log != nil {
			h.log.RedactedError("balance lookup failed", "error", err)
		}
		writeError(w, brokererrors.NewInternalError("balance lookup failed"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"account_id": authCtx.Account.ID,
		"balance":    balance.Float64(),
	})
}

// Transactions implements GET /v1/transactions.
func (h *Handler) Transactions(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.GetAuthContext(r.Context())
	if authCtx == nil || authCtx.Account == nil {
		writeError(w, brokererrors.NewInternalError("missing authentication context"))
		return
	}
	limit := parseLimit(r, 100)
	txs, err := h.ledger.ListTransactions(r.Context(), authCtx.Account.ID, limit)
	if err != nil {
		if h.log != nil {
			h.log.RedactedError("list transactions failed", "error", err)
		}
		writeError(w, brokererrors.NewInternalError("list transactions failed"))
		return
	}
	out := make([]transactionView, 0, len(txs))
	for _, tx := range txs {
		out = append(out, newTransactionView(tx))
	}
	writeJSON(w, http.StatusOK, map[string]any{"transactions": out})
}

func parseLimit(r *http.Request, def int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
