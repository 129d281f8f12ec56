package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/arohanajit/ringpool/internal/pool"
	"github.com/arohanajit/ringpool/internal/transport"
)

const (
	maxPayloadSize = 5 * 1024 * 1024 // 5MB
)

// Runner executes an operation against a node chosen for key
type Runner interface {
	Run(ctx context.Context, key []byte, fn pool.Operation) error
}

// KeyHandler proxies key operations to the cluster through the pool
type KeyHandler struct {
	runner Runner
	logger *zap.Logger
}

// NewKeyHandler creates a new instance of KeyHandler
func NewKeyHandler(runner Runner, logger *zap.Logger) *KeyHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KeyHandler{runner: runner, logger: logger}
}

// RegisterRoutes registers the key routes
func (h *KeyHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/keys/{key}", h.Get).Methods(http.MethodGet)
	r.HandleFunc("/keys/{key}", h.Put).Methods(http.MethodPut)
	r.HandleFunc("/keys/{key}", h.Delete).Methods(http.MethodDelete)
}

// Put handles PUT requests to store a value
func (h *KeyHandler) Put(w http.ResponseWriter, r *http.Request) {
	// Validate key
	key := mux.Vars(r)["key"]
	if key == "" {
		http.Error(w, "Key cannot be empty", http.StatusBadRequest)
		return
	}

	// Check Content-Length
	if r.ContentLength > maxPayloadSize {
		writePayloadTooLarge(w)
		return
	}

	// Read body with size limit, chunked uploads included
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxPayloadSize))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writePayloadTooLarge(w)
			return
		}
		http.Error(w, "Error reading request body", http.StatusInternalServerError)
		return
	}
	defer r.Body.Close()

	// Get content type from header
	contentType := r.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	// Validate JSON if content type is application/json
	if strings.HasPrefix(contentType, "application/json") && !json.Valid(body) {
		http.Error(w, "Invalid JSON format", http.StatusBadRequest)
		return
	}

	// Store the value on an owner of the key
	resp, err := h.call(r.Context(), &transport.Request{
		Method:      http.MethodPut,
		Key:         []byte(key),
		Value:       body,
		ContentType: contentType,
	})
	if err != nil {
		h.writeError(w, key, err)
		return
	}
	w.WriteHeader(resp.Status)
}

// Get handles GET requests to retrieve a value
func (h *KeyHandler) Get(w http.ResponseWriter, r *http.Request) {
	// Validate key
	key := mux.Vars(r)["key"]
	if key == "" {
		http.Error(w, "Key cannot be empty", http.StatusBadRequest)
		return
	}

	// Retrieve the value from an owner of the key
	resp, err := h.call(r.Context(), &transport.Request{Method: http.MethodGet, Key: []byte(key)})
	if err != nil {
		h.writeError(w, key, err)
		return
	}
	if resp.Status == http.StatusNotFound {
		http.Error(w, "Key not found", http.StatusNotFound)
		return
	}

	if resp.ContentType != "" {
		w.Header().Set("Content-Type", resp.ContentType)
	}
	w.WriteHeader(resp.Status)
	w.Write(resp.Value)
}

// Delete handles DELETE requests to remove a value
func (h *KeyHandler) Delete(w http.ResponseWriter, r *http.Request) {
	// Validate key
	key := mux.Vars(r)["key"]
	if key == "" {
		http.Error(w, "Key cannot be empty", http.StatusBadRequest)
		return
	}

	resp, err := h.call(r.Context(), &transport.Request{Method: http.MethodDelete, Key: []byte(key)})
	if err != nil {
		h.writeError(w, key, err)
		return
	}
	if resp.Status == http.StatusNotFound {
		http.Error(w, "Key not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writePayloadTooLarge(w http.ResponseWriter) {
	http.Error(w, fmt.Sprintf("Payload too large. Maximum size is %d bytes", maxPayloadSize), http.StatusRequestEntityTooLarge)
}

func (h *KeyHandler) call(ctx context.Context, req *transport.Request) (*transport.Response, error) {
	var resp *transport.Response
	err := h.runner.Run(ctx, req.Key, func(ctx context.Context, conn transport.Conn) error {
		r, err := conn.Call(ctx, req)
		if err != nil {
			return err
		}
		resp = r
		return nil
	})
	return resp, err
}

// writeError maps a pool failure to a status code
func (h *KeyHandler) writeError(w http.ResponseWriter, key string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Warn("Key operation failed", zap.String("key", key), zap.Error(err))
	}
	http.Error(w, err.Error(), status)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, pool.ErrNoNodes), errors.Is(err, pool.ErrPoolClosed), pool.IsRetriesExhausted(err):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}

	switch transport.KindOf(err) {
	case transport.KindMalformed:
		return http.StatusBadRequest
	case transport.KindAuthorization:
		return http.StatusForbidden
	case transport.KindApplication:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
