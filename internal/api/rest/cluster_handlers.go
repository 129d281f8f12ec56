package rest

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/arohanajit/ringpool/internal/cluster"
	"github.com/arohanajit/ringpool/internal/pool"
)

// ClusterHandler exposes the topology and node health of a pool
type ClusterHandler struct {
	pool *pool.Pool
}

// NewClusterHandler creates a new instance of ClusterHandler
func NewClusterHandler(p *pool.Pool) *ClusterHandler {
	return &ClusterHandler{pool: p}
}

// RegisterRoutes registers cluster management routes
func (h *ClusterHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/cluster/ring", h.handleGetRing).Methods(http.MethodGet)
	r.HandleFunc("/pool/ring/refresh", h.handleRefresh).Methods(http.MethodPost)
	r.HandleFunc("/pool/nodes", h.handleListNodes).Methods(http.MethodGet)
	r.HandleFunc("/pool/nodes", h.handleAddNode).Methods(http.MethodPost)
	r.HandleFunc("/pool/nodes/{node}", h.handleRemoveNode).Methods(http.MethodDelete)
	r.HandleFunc("/pool/blacklist/{node}", h.handleUnblacklist).Methods(http.MethodDelete)
}

// handleGetRing serves the installed ring in the format HTTPDescriber reads
func (h *ClusterHandler) handleGetRing(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, cluster.RangeOwnersToJSON(h.pool.Ring().Ranges()))
}

// handleRefresh handles POST /pool/ring/refresh requests
func (h *ClusterHandler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if err := h.pool.Refresh(r.Context()); err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"version": h.pool.Ring().Version(),
		"ranges":  len(h.pool.Ring().Ranges()),
	})
}

// handleListNodes handles GET /pool/nodes requests
func (h *ClusterHandler) handleListNodes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.pool.Status())
}

type addNodeRequest struct {
	Address string `json:"address"`
}

// handleAddNode handles POST /pool/nodes requests
func (h *ClusterHandler) handleAddNode(w http.ResponseWriter, r *http.Request) {
	var req addNodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	node, err := cluster.ParseNode(req.Address)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if !h.pool.AddNode(node) {
		http.Error(w, "node already in pool", http.StatusConflict)
		return
	}
	writeJSON(w, http.StatusCreated, node)
}

// handleRemoveNode handles DELETE /pool/nodes/{node} requests
func (h *ClusterHandler) handleRemoveNode(w http.ResponseWriter, r *http.Request) {
	node, ok := nodeFromPath(w, r)
	if !ok {
		return
	}
	if !h.pool.RemoveNode(node) {
		http.Error(w, "node not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleUnblacklist handles DELETE /pool/blacklist/{node} requests
func (h *ClusterHandler) handleUnblacklist(w http.ResponseWriter, r *http.Request) {
	node, ok := nodeFromPath(w, r)
	if !ok {
		return
	}
	h.pool.Blacklist().Remove(node)
	w.WriteHeader(http.StatusNoContent)
}

func nodeFromPath(w http.ResponseWriter, r *http.Request) (cluster.Node, bool) {
	node, err := cluster.ParseNode(mux.Vars(r)["node"])
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return cluster.Node{}, false
	}
	return node, true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
