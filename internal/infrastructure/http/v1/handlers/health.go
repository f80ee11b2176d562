package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Pinger is satisfied by the database pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler provides health check endpoints.
type HealthHandler struct {
	db      Pinger
	storage string
}

// NewHealthHandler creates a health handler. db is nil when the ledger runs in memory.
func NewHealthHandler(db Pinger) *HealthHandler {
	h := &HealthHandler{db: db, storage: "postgres"}
	if db == nil {
		h.storage = "memory"
	}
	return h
}

// Live handles the liveness check.
// GET /health/live
func (h *HealthHandler) Live(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Ready reports whether the ledger store is reachable.
// GET /health, GET /health/ready
func (h *HealthHandler) Ready(c *gin.Context) {
	if h.db != nil {
		if err := h.db.Ping(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":  "error",
				"storage": h.storage,
				"checks":  map[string]string{"database": "unhealthy: " + err.Error()},
			})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"storage": h.storage,
	})
}
