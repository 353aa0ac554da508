package http

import (
	"net/http"

	"livesignal/internal/infrastructure/monitoring"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ConnectionCounter reports how many signaling connections are being served.
type ConnectionCounter interface {
	ActiveConnections() int64
}

type HealthHandler struct {
	checker     *monitoring.HealthChecker
	gatherer    prometheus.Gatherer
	connections ConnectionCounter
}

// NewHealthHandler serves liveness, readiness and metrics. A nil gatherer
// disables /metrics.
func NewHealthHandler(checker *monitoring.HealthChecker, gatherer prometheus.Gatherer, connections ConnectionCounter) *HealthHandler {
	return &HealthHandler{
		checker:     checker,
		gatherer:    gatherer,
		connections: connections,
	}
}

func (h *HealthHandler) SetupRoutes(router gin.IRouter, metricsPath string) {
	router.GET("/health", h.Health)
	router.GET("/ready", h.Ready)
	if h.gatherer != nil {
		router.GET(metricsPath, gin.WrapH(promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{})))
	}
}

func (h *HealthHandler) Health(c *gin.Context) {
	status := h.checker.Liveness()
	body := gin.H{
		"status":    status.Status,
		"timestamp": status.Timestamp,
		"uptime":    status.Uptime,
	}
	if h.connections != nil {
		body["connections"] = h.connections.ActiveConnections()
	}
	c.JSON(http.StatusOK, body)
}

func (h *HealthHandler) Ready(c *gin.Context) {
	status := h.checker.CheckAll(c.Request.Context())
	code := http.StatusOK
	if status.Status != monitoring.StatusHealthy {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, status)
}
