package api

import (
	"errors"
	"net/http"

	"github.com/goccy/go-json"

	brokererrors "github.com/llmule/broker/pkg/errors"
)

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
}

// writeError renders err as the broker's stable JSON error envelope,
// recovering a *brokererrors.Error from a wrapped error where possible.
func writeError(w http.ResponseWriter, err error) {
	var be *brokererrors.Error
	if !errors.As(err, &be) {
		be = brokererrors.NewInternalError("internal error")
	}
	writeJSON(w, be.HTTPStatusCode(), errorEnvelope{Error: errorBody{
		Message: be.Message,
		Type:    "broker_error",
		Code:    string(be.Code),
	}})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
