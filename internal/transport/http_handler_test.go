package transport

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/guardiavault-oss/Paradexx-sub007/internal/bus"
	"github.com/guardiavault-oss/Paradexx-sub007/internal/model"
	"github.com/guardiavault-oss/Paradexx-sub007/internal/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const addr = "0x7a250d5630b4cf539739df2c5dacb4c659f2488d"

type staticStatus struct{}

func (staticStatus) Status() map[model.Network]model.NetworkState {
	return map[model.Network]model.NetworkState{
		"ethereum": {Network: "ethereum", ConnectionStatus: model.StatusConnected},
	}
}

func newTestHandler(t *testing.T) (*Handler, *registry.Registry, *bus.Bus) {
	t.Helper()
	reg := registry.New(zap.NewNop())
	b := bus.New(zap.NewNop(), 16)
	return NewHandler(reg, b, staticStatus{}, zap.NewNop()), reg, b
}

func addBody(mutate func(map[string]interface{})) *bytes.Reader {
	body := map[string]interface{}{
		"address":           addr,
		"network":           "ethereum",
		"addressType":       "contract",
		"protectionLevel":   "standard",
		"autoProtect":       true,
		"maxGasPrice":       500,
		"slippageTolerance": 0.01,
	}
	if mutate != nil {
		mutate(body)
	}
	raw, _ := json.Marshal(body)
	return bytes.NewReader(raw)
}

func TestHandler_AddProtectedAddress(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		mutate   func(map[string]interface{})
		wantCode int
	}{
		{name: "created", wantCode: http.StatusCreated},
		{
			name:     "malformed address conflicts",
			mutate:   func(m map[string]interface{}) { m["address"] = "nope" },
			wantCode: http.StatusConflict,
		},
		{
			name:     "unknown protection level rejected",
			mutate:   func(m map[string]interface{}) { m["protectionLevel"] = "paranoid" },
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "unknown address type rejected",
			mutate:   func(m map[string]interface{}) { m["addressType"] = "exchange" },
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "missing network rejected",
			mutate:   func(m map[string]interface{}) { m["network"] = "" },
			wantCode: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h, _, _ := newTestHandler(t)

			req := httptest.NewRequest(http.MethodPost, "/protected-addresses", addBody(tt.mutate))
			rec := httptest.NewRecorder()
			h.Router().ServeHTTP(rec, req)

			assert.Equal(t, tt.wantCode, rec.Code)
			if tt.wantCode == http.StatusCreated {
				var pa model.ProtectedAddress
				require.NoError(t, json.NewDecoder(rec.Body).Decode(&pa))
				assert.Equal(t, addr, pa.Address)
			}
		})
	}
}

func TestHandler_AddIsUpsert(t *testing.T) {
	t.Parallel()

	h, reg, _ := newTestHandler(t)
	router := h.Router()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/protected-addresses", addBody(nil)))
	require.Equal(t, http.StatusCreated, rec.Code)

	reg.IncrementStats(addr, "ethereum", registry.StatsDelta{ThreatsBlocked: 4})

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/protected-addresses", addBody(func(m map[string]interface{}) {
		m["protectionLevel"] = "enterprise"
	})))
	require.Equal(t, http.StatusCreated, rec.Code)

	var pa model.ProtectedAddress
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&pa))
	assert.Equal(t, model.LevelEnterprise, pa.ProtectionLevel)
	assert.Equal(t, uint64(4), pa.ThreatsBlocked)
}

func TestHandler_RemoveProtectedAddress(t *testing.T) {
	t.Parallel()

	h, _, _ := newTestHandler(t)
	router := h.Router()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/protected-addresses", addBody(nil)))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/protected-addresses/"+addr+"?network=ethereum", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/protected-addresses/"+addr+"?network=ethereum", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/protected-addresses/junk?network=ethereum", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_ListFiltersByNetwork(t *testing.T) {
	t.Parallel()

	h, _, _ := newTestHandler(t)
	router := h.Router()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/protected-addresses", addBody(nil)))
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/protected-addresses", addBody(func(m map[string]interface{}) {
		m["network"] = "polygon"
	})))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/protected-addresses?network=polygon", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var list []model.ProtectedAddress
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&list))
	require.Len(t, list, 1)
	assert.Equal(t, model.Network("polygon"), list[0].Network)
}

func TestHandler_Stats(t *testing.T) {
	t.Parallel()

	h, _, b := newTestHandler(t)
	b.CountObserved("ethereum")
	b.CountThreat("ethereum", model.ThreatSandwich)

	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp statsResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, uint64(1), resp.Networks["ethereum"].TransactionsObserved)
	assert.Equal(t, model.StatusConnected, resp.States["ethereum"].ConnectionStatus)
}

func TestHandler_StreamEvents(t *testing.T) {
	t.Parallel()

	h, _, b := newTestHandler(t)
	srv := httptest.NewServer(h.Router())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/stream/events?network=ethereum", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	// Give the subscription time to attach before publishing.
	time.Sleep(50 * time.Millisecond)
	b.Publish(model.Event{
		Type:      model.EventThreatDetected,
		Network:   "ethereum",
		Detection: &model.ThreatDetection{Type: model.ThreatSandwich, Severity: model.SeverityHigh},
	})

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "event: threat_detected", strings.TrimSpace(line))

	line, err = reader.ReadString('\n')
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(line, "data: "))

	var ev model.Event
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(strings.TrimSpace(line), "data: ")), &ev))
	require.NotNil(t, ev.Detection)
	assert.Equal(t, model.ThreatSandwich, ev.Detection.Type)
}
