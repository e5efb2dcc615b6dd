package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"github.com/lyanjo/fila-service/internal/observability"
	"github.com/lyanjo/fila-service/internal/service"
)

// Syncer runs journal drains and reconciliation passes on demand.
type Syncer interface {
	Drain(ctx context.Context) (service.DrainReport, error)
	Resync(ctx context.Context, reason string)
}

// SyncStatus reports connectivity and the sync strategy in use.
type SyncStatus interface {
	Online() bool
}

// SyncHandler exposes manual sync controls.
type SyncHandler struct {
	syncer  Syncer
	status  SyncStatus
	queues  *service.QueueService
	metrics *observability.Metrics
	mode    func() string
}

// NewSyncHandler constructs handler. mode may be nil.
func NewSyncHandler(syncer Syncer, status SyncStatus, queues *service.QueueService, metrics *observability.Metrics, mode func() string) *SyncHandler {
	return &SyncHandler{syncer: syncer, status: status, queues: queues, metrics: metrics, mode: mode}
}

// Drain POST /sync/drain.
func (h *SyncHandler) Drain(c *fiber.Ctx) error {
	report, err := h.syncer.Drain(c.UserContext())
	resp := fiber.Map{"data": report}
	if err != nil {
		resp["warning"] = err.Error()
	}
	if err == nil && !report.Skipped {
		h.syncer.Resync(c.UserContext(), "manual")
	}
	return c.JSON(resp)
}

// Status GET /sync.
func (h *SyncHandler) Status(c *fiber.Ctx) error {
	mode := "poll"
	if h.mode != nil {
		mode = h.mode()
	}
	return c.JSON(fiber.Map{"data": fiber.Map{
		"online":       h.status.Online(),
		"mode":         mode,
		"pending_sync": h.queues.Overview().PendingSync,
		"metrics":      h.metrics.Snapshot(),
	}})
}
