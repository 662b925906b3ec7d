// handler.go provides the HTTP API over the log list.
//
//   - GET  /logs       the ordered list with paging state
//   - POST /logs/next  load the next historical page, then return the list
//   - GET  /network    the selected network and the available ones
//   - PUT  /network    select a network ({"network": "mainnet"}, "" deselects)
package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/archon-research/stl-logfeed/internal/domain/entity"
	"github.com/archon-research/stl-logfeed/internal/pkg/networks"
	"github.com/archon-research/stl-logfeed/internal/ports/inbound"
)

const maxRequestBody = 1 << 16

// Handler implements HTTP handlers for the API.
type Handler struct {
	logs     inbound.LogListReader
	switcher inbound.NetworkSwitcher
	logger   *slog.Logger
}

// NewHandler creates a new HTTP handler.
func NewHandler(logs inbound.LogListReader, switcher inbound.NetworkSwitcher, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logs:     logs,
		switcher: switcher,
		logger:   logger.With("component", "http-api"),
	}
}

// RegisterRoutes registers the HTTP routes with the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /logs", h.GetLogs)
	mux.HandleFunc("POST /logs/next", h.NextPage)
	mux.HandleFunc("GET /network", h.GetNetwork)
	mux.HandleFunc("PUT /network", h.PutNetwork)
}

type recordResponse struct {
	Key         string   `json:"key"`
	BlockNumber uint64   `json:"blockNumber"`
	LogIndex    uint64   `json:"logIndex"`
	BlockHash   string   `json:"blockHash"`
	TxHash      string   `json:"txHash"`
	Address     string   `json:"address"`
	Topics      []string `json:"topics"`
	Data        string   `json:"data"`
}

type logsResponse struct {
	Network     string           `json:"network"`
	Records     []recordResponse `json:"records"`
	HasNextPage bool             `json:"hasNextPage"`
	Loading     int64            `json:"loading"`
}

type networkResponse struct {
	Current   string   `json:"current"`
	Available []string `json:"available"`
}

type networkRequest struct {
	Network *string `json:"network"`
}

// GetLogs returns the current list.
func (h *Handler) GetLogs(w http.ResponseWriter, r *http.Request) {
	respondJSON(h.logger, w, http.StatusOK, toLogsResponse(h.logs.View()))
}

// NextPage loads the next page if a cursor is held and returns the list.
// Without a cursor it returns the list unchanged.
func (h *Handler) NextPage(w http.ResponseWriter, r *http.Request) {
	h.logs.FetchNextPage(r.Context())
	respondJSON(h.logger, w, http.StatusOK, toLogsResponse(h.logs.View()))
}

// GetNetwork returns the selected network and the configured ones.
func (h *Handler) GetNetwork(w http.ResponseWriter, r *http.Request) {
	respondJSON(h.logger, w, http.StatusOK, h.networkResponse())
}

// PutNetwork selects a network.
func (h *Handler) PutNetwork(w http.ResponseWriter, r *http.Request) {
	var req networkRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		respondError(h.logger, w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Network == nil {
		respondError(h.logger, w, http.StatusBadRequest, "network is required")
		return
	}

	if err := h.switcher.Select(*req.Network); err != nil {
		if errors.Is(err, networks.ErrUnknownNetwork) {
			respondError(h.logger, w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error("failed to select network", "network", *req.Network, "error", err)
		respondError(h.logger, w, http.StatusInternalServerError, "failed to select network")
		return
	}

	h.logger.Info("network selected", "network", *req.Network)
	respondJSON(h.logger, w, http.StatusOK, h.networkResponse())
}

func (h *Handler) networkResponse() networkResponse {
	available := h.switcher.Names()
	if available == nil {
		available = []string{}
	}
	return networkResponse{Current: h.switcher.Current(), Available: available}
}

func toLogsResponse(view inbound.LogListView) logsResponse {
	records := make([]recordResponse, len(view.Records))
	for i, r := range view.Records {
		records[i] = toRecordResponse(r)
	}
	return logsResponse{
		Network:     view.Network,
		Records:     records,
		HasNextPage: view.HasNextPage,
		Loading:     view.Loading,
	}
}

func toRecordResponse(r entity.LogRecord) recordResponse {
	topics := make([]string, len(r.Topics))
	for i, t := range r.Topics {
		topics[i] = t.Hex()
	}
	return recordResponse{
		Key:         r.Key().String(),
		BlockNumber: r.BlockNumber,
		LogIndex:    r.LogIndex,
		BlockHash:   r.BlockHash.Hex(),
		TxHash:      r.TxHash.Hex(),
		Address:     r.Address.Hex(),
		Topics:      topics,
		Data:        hexutil.Encode(r.Data),
	}
}
