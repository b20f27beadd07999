package api

import (
	"context"
	"net/http"

	"github.com/llmule/broker/internal/ledger"
	brokererrors "github.com/llmule/broker/pkg/errors"
)

// reconciliationLister is satisfied by *ledger.PostgresReconciler. It is
// a narrow interface so AdminHandler does not depend on the concrete
// Postgres type.
type reconciliationLister interface {
	Pending(ctx context.Context) ([]ledger.ReconciliationEntry, error)
}

// AdminHandler exposes operator-only endpoints that are not part of the
// client- or provider-facing contract.
type AdminHandler struct {
	reconciliations reconciliationLister
}

// NewAdminHandler constructs an AdminHandler. recon may be nil, in which
// case PendingReconciliations reports an empty list.
func NewAdminHandler(recon reconciliationLister) *AdminHandler {
	return &AdminHandler{reconciliations: recon}
}

type reconciliationView struct {
	Timestamp  string  `json:"timestamp"`
	ConsumerID string  `json:"consumer_id"`
	ProviderID string  `json:"provider_id,omitempty"`
	MuleAmount float64 `json:"mule_amount"`
	Reason     string  `json:"reason"`
}

// PendingReconciliations implements GET /admin/reconciliations.
func (h *AdminHandler) PendingReconciliations(w http.ResponseWriter, r *http.Request) {
	if h.reconciliations == nil {
		writeJSON(w, http.StatusOK, map[string]any{"entries": []reconciliationView{}})
		return
	}
	entries, err := h.reconciliations.Pending(r.Context())
	if err != nil {
		writeError(w, brokererrors.NewInternalError("reconciliation lookup failed"))
		return
	}
	out := make([]reconciliationView, 0, len(entries))
	for _, e := range entries {
		out = append(out, reconciliationView{
			Timestamp:  e.Timestamp.UTC().Format("2006-01-02T15:04:05Z07:00"),
			ConsumerID: e.ConsumerID,
			ProviderID: e.ProviderID,
			MuleAmount: e.MuleAmount.Float64(),
			Reason:     e.Reason,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": out})
}
