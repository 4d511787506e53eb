package api

import (
	"time"

	"github.com/gofiber/fiber/v2"
)

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping() error
}

// HealthHandler reports whether the process is configured to serve mail. It
// never returns configuration values.
type HealthHandler struct {
	store       Pinger
	vaultLoaded bool
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(store Pinger, vaultLoaded bool) *HealthHandler {
	return &HealthHandler{store: store, vaultLoaded: vaultLoaded}
}

// Check returns 200 when every check passes and 503 otherwise.
func (h *HealthHandler) Check(c *fiber.Ctx) error {
	storageOK := h.store != nil && h.store.Ping() == nil
	ok := storageOK && h.vaultLoaded

	status := "ok"
	code := fiber.StatusOK
	if !ok {
		status = "degraded"
		code = fiber.StatusServiceUnavailable
	}
	return c.Status(code).JSON(fiber.Map{
		"status": status,
		"checks": fiber.Map{
			"vault":   h.vaultLoaded,
			"storage": storageOK,
		},
		"time": time.Now().Format(time.RFC3339),
	})
}
