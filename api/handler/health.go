package handler

import (
	"net/http"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/fastygo/recordlog/api/transport"
	"github.com/fastygo/recordlog/internal/infrastructure/monitor"
	"github.com/fastygo/recordlog/pkg/httpcontext"
)

// StatusSource reports backend health.
type StatusSource interface {
	GetStatus() monitor.Status
}

type HealthHandler struct {
	baseHandler
	monitor StatusSource
}

func NewHealthHandler(mon StatusSource, adapter *httpcontext.Adapter, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		baseHandler: newBaseHandler(adapter, logger),
		monitor:     mon,
	}
}

// @Summary Health check
// @Tags health
// @Router /health [get]
func (h *HealthHandler) Check(ctx *fasthttp.RequestCtx) {
	status := h.monitor.GetStatus()
	payload := map[string]interface{}{
		"timestamp":  time.Now().UTC(),
		"last_check": status.LastCheck,
		"services": map[string]interface{}{
			"event_log": map[string]interface{}{
				"driver": status.StoreDriver,
				"online": status.EventLog,
			},
			"snapshot_cache": map[string]interface{}{
				"driver": status.CacheDriver,
				"online": status.Cache,
			},
		},
	}

	if status.EventLog {
		h.respondSuccess(ctx, http.StatusOK, payload)
		return
	}
	h.respondJSON(ctx, http.StatusServiceUnavailable, transport.NewError("DEGRADED", "event log unreachable", payload))
}
