package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llmule/broker/internal/registry"
)

func TestListModels_OneEntryPerModelProviderPair(t *testing.T) {
	reg := registry.New()
	lg := newFakeLedger()
	h := newTestHandler(t, reg, lg, nil)

	_, err := reg.Register("p1", "provider-1", []string{"mistral:7b"}, &fakeWriteHandle{})
	require.NoError(t, err)
	_, err = reg.Register("p2", "provider-2", []string{"mistral:7b"}, &fakeWriteHandle{})
	require.NoError(t, err)

	reg.RecordSample("p1", registry.Sample{TokensPerSecond: 40, Success: true})
	reg.RecordSample("p2", registry.Sample{TokensPerSecond: 10, Success: true})

	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	rr := httptest.NewRecorder()
	h.ListModels(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)

	var payload struct {
		Data []modelView `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &payload))

	var forModel []modelView
	for _, v := range payload.Data {
		if v.ID == "mistral:7b" {
			forModel = append(forModel, v)
		}
	}

	// Two providers serving the same model name must produce two
	// distinct catalog entries, not one aggregated entry.
	require.Len(t, forModel, 2)

	handles := map[string]modelView{}
	for _, v := range forModel {
		handles[v.ProviderHandle] = v
	}
	require.Contains(t, handles, registry.Handle("provider-1"))
	require.Contains(t, handles, registry.Handle("provider-2"))
	assert.Equal(t, float64(40), handles[registry.Handle("provider-1")].AvgTokensPerSecond)
	assert.Equal(t, float64(10), handles[registry.Handle("provider-2")].AvgTokensPerSecond)
	assert.Equal(t, "active", handles[registry.Handle("provider-1")].Status)
}

func TestListModels_InactiveProviderExcluded(t *testing.T) {
	reg := registry.New()
	lg := newFakeLedger()
	h := newTestHandler(t, reg, lg, nil)

	_, err := reg.Register("p1", "provider-1", []string{"mistral:7b"}, &fakeWriteHandle{})
	require.NoError(t, err)
	reg.MarkInactive("p1")

	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	rr := httptest.NewRecorder()
	h.ListModels(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	var payload struct {
		Data []modelView `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &payload))
	assert.Empty(t, payload.Data)
}
