package main

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/llmule/broker/internal/api"
	"github.com/llmule/broker/internal/config"
)

// buildMux registers the client-facing REST surface and the operator
// endpoints. The provider websocket upgrade endpoint is registered on the
// returned mux separately in run(), which holds the session handler that
// endpoint hands connections to.
func buildMux(cfg *config.Config, h *api.Handler, admin *api.AdminHandler) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", h.HealthCheck)
	mux.HandleFunc("POST /v1/chat/completions", h.ChatCompletions)
	mux.HandleFunc("GET /v1/models", h.ListModels)
	mux.HandleFunc("GET /v1/balance", h.Balance)
	mux.HandleFunc("GET /v1/transactions", h.Transactions)
	mux.HandleFunc("GET /v1/provider/stats", h.ProviderStats)
	mux.HandleFunc("GET /v1/consumer/stats", h.ConsumerStats)
	mux.HandleFunc("GET /admin/reconciliations", admin.PendingReconciliations)

	if cfg.Metrics.Enabled {
		mux.Handle("GET "+cfg.Metrics.Path, promhttp.Handler())
	}

	return mux
}
