package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/fundora/apiserver/internal/services"
	"github.com/fundora/apiserver/internal/storage"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// UploadsHandler serves stored receipts and profile pictures by key.
// Objects are public to anyone holding the URL.
type UploadsHandler struct {
	store  services.ObjectStore
	logger *zap.Logger
}

func NewUploadsHandler(store services.ObjectStore, logger *zap.Logger) *UploadsHandler {
	return &UploadsHandler{store: store, logger: logger}
}

// UploadsRouter registers the public object route on the given router.
func UploadsRouter(r chi.Router, store services.ObjectStore, logger *zap.Logger) {
	handler := NewUploadsHandler(store, logger)
	r.Get("/*", handler.Serve)
}

func (h *UploadsHandler) Serve(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "*")
	body, err := h.store.Get(r.Context(), key)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) || errors.Is(err, storage.ErrInvalidKey) {
			writeError(w, http.StatusNotFound, "file not found")
			return
		}
		h.logger.Error("failed to open upload", zap.String("key", key), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to open file")
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", services.ContentType(key, nil))
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		h.logger.Warn("upload download interrupted", zap.String("key", key), zap.Error(err))
	}
}
