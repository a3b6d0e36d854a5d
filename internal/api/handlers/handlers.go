// Package handlers holds the shared plumbing of the protocol gateways: the
// base handler with its dispatcher wiring and the error translation every
// endpoint uses.
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/zeroai-dev/zeroai/internal/config"
	"github.com/zeroai-dev/zeroai/internal/dispatch"
	"github.com/zeroai-dev/zeroai/internal/provider"
	"github.com/zeroai-dev/zeroai/internal/registry"
	"github.com/zeroai-dev/zeroai/internal/usage"
)

// BaseHandler carries the shared dependencies of all endpoint handlers.
type BaseHandler struct {
	Dispatcher *dispatch.Dispatcher
	Store      *config.Store
	Catalog    *registry.Catalog
	Usage      *usage.Store
}

// NewBaseHandler bundles the gateway dependencies. usageStore may be nil.
func NewBaseHandler(d *dispatch.Dispatcher, store *config.Store, catalog *registry.Catalog, usageStore *usage.Store) *BaseHandler {
	return &BaseHandler{
		Dispatcher: d,
		Store:      store,
		Catalog:    catalog,
		Usage:      usageStore,
	}
}

// EnabledModels resolves the enabled full model ids to their definitions,
// skipping ids the catalog no longer knows.
func (h *BaseHandler) EnabledModels() ([]string, []*registry.ModelDef, error) {
	ids, err := h.Store.EnabledModels()
	if err != nil {
		return nil, nil, err
	}
	var kept []string
	var defs []*registry.ModelDef
	for _, id := range ids {
		if def := h.Catalog.Lookup(id); def != nil {
			kept = append(kept, id)
			defs = append(defs, def)
		}
	}
	return kept, defs, nil
}

// StatusFromError maps dispatch errors onto HTTP status codes, passing
// upstream statuses through.
func StatusFromError(err error) int {
	if errors.Is(err, dispatch.ErrModelNotFound) {
		return http.StatusNotFound
	}
	if errors.Is(err, provider.ErrAuthRequired) {
		return http.StatusUnauthorized
	}
	var pErr *provider.Error
	if errors.As(err, &pErr) && pErr.StatusCode != 0 {
		return pErr.StatusCode
	}
	return http.StatusInternalServerError
}

// ErrorJSON writes an OpenAI style error envelope.
func ErrorJSON(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{
		"error": gin.H{
			"message": message,
			"type":    "api_error",
		},
	})
}
