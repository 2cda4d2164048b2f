// Package transport exposes the control-plane REST API and the event stream.
package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/guardiavault-oss/Paradexx-sub007/internal/bus"
	"github.com/guardiavault-oss/Paradexx-sub007/internal/model"
	"github.com/guardiavault-oss/Paradexx-sub007/internal/registry"
	"go.uber.org/zap"
)

type (
	// Registry is the protected-address control plane.
	Registry interface {
		Add(pa model.ProtectedAddress) (model.ProtectedAddress, error)
		Remove(address string, network model.Network) error
		List(network model.Network) []model.ProtectedAddress
	}

	// StatusProvider reports per-network connection state.
	StatusProvider interface {
		Status() map[model.Network]model.NetworkState
	}
)

// Handler serves the control-plane API.
type Handler struct {
	logger   *zap.Logger
	registry Registry
	bus      *bus.Bus
	status   StatusProvider
}

// NewHandler builds a Handler.
func NewHandler(reg Registry, b *bus.Bus, status StatusProvider, logger *zap.Logger) *Handler {
	return &Handler{
		logger:   logger.Named("http"),
		registry: reg,
		bus:      b,
		status:   status,
	}
}

// Router mounts all routes.
func (h *Handler) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/protected-addresses", h.addProtectedAddress).Methods(http.MethodPost)
	r.HandleFunc("/protected-addresses", h.listProtectedAddresses).Methods(http.MethodGet)
	r.HandleFunc("/protected-addresses/{address}", h.removeProtectedAddress).Methods(http.MethodDelete)
	r.HandleFunc("/stats", h.stats).Methods(http.MethodGet)
	r.HandleFunc("/stream/events", h.streamEvents).Methods(http.MethodGet)
	r.HandleFunc("/healthz", h.health).Methods(http.MethodGet)
	return r
}

type addAddressRequest struct {
	Address           string  `json:"address"`
	Network           string  `json:"network"`
	AddressType       string  `json:"addressType"`
	ProtectionLevel   string  `json:"protectionLevel"`
	AutoProtect       bool    `json:"autoProtect"`
	MaxGasPrice       uint64  `json:"maxGasPrice"`
	SlippageTolerance float64 `json:"slippageTolerance"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *Handler) addProtectedAddress(w http.ResponseWriter, r *http.Request) {
	var req addAddressRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Network == "" {
		writeError(w, http.StatusBadRequest, "network is required")
		return
	}

	level, err := model.ParseProtectionLevel(req.ProtectionLevel)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown protection level %q", req.ProtectionLevel))
		return
	}
	addrType, err := model.ParseAddressType(req.AddressType)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown address type %q", req.AddressType))
		return
	}

	pa, err := h.registry.Add(model.ProtectedAddress{
		Address:           req.Address,
		Network:           model.Network(req.Network),
		AddressType:       addrType,
		ProtectionLevel:   level,
		AutoProtect:       req.AutoProtect,
		MaxGasPrice:       req.MaxGasPrice,
		SlippageTolerance: req.SlippageTolerance,
	})
	switch {
	case errors.Is(err, registry.ErrInvalidAddress):
		writeError(w, http.StatusConflict, fmt.Sprintf("malformed address %q", req.Address))
		return
	case err != nil:
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, pa)
}

func (h *Handler) listProtectedAddresses(w http.ResponseWriter, r *http.Request) {
	network := model.Network(r.URL.Query().Get("network"))
	writeJSON(w, http.StatusOK, h.registry.List(network))
}

func (h *Handler) removeProtectedAddress(w http.ResponseWriter, r *http.Request) {
	address := mux.Vars(r)["address"]
	network := model.Network(r.URL.Query().Get("network"))

	err := h.registry.Remove(address, network)
	switch {
	case errors.Is(err, registry.ErrNotFound):
		writeError(w, http.StatusNotFound, "protected address not found")
	case errors.Is(err, registry.ErrInvalidAddress):
		writeError(w, http.StatusBadRequest, fmt.Sprintf("malformed address %q", address))
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

type statsResponse struct {
	Networks map[model.Network]bus.NetworkSnapshot `json:"networks"`
	States   map[model.Network]model.NetworkState  `json:"states"`
}

func (h *Handler) stats(w http.ResponseWriter, _ *http.Request) {
	resp := statsResponse{Networks: h.bus.Snapshot()}
	if h.status != nil {
		resp.States = h.status.Status()
	}
	writeJSON(w, http.StatusOK, resp)
}

// streamEvents serves a server-sent-events feed of detections and protection
// results. Query parameters: network, type (repeatable).
func (h *Handler) streamEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	filter := bus.Filter{Network: model.Network(r.URL.Query().Get("network"))}
	for _, t := range r.URL.Query()["type"] {
		filter.Types = append(filter.Types, model.EventType(t))
	}
	if len(filter.Types) == 0 {
		filter.Types = []model.EventType{model.EventThreatDetected, model.EventProtectionApplied}
	}

	sub := h.bus.Subscribe(filter)
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, open := <-sub.Events():
			if !open {
				return
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				h.logger.Error("marshal event", zap.Error(err))
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, payload)
			flusher.Flush()
		}
	}
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, errorResponse{Error: msg})
}
