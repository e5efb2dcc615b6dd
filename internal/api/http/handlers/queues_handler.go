package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/lyanjo/fila-service/internal/api/dto"
	"github.com/lyanjo/fila-service/internal/domain"
	"github.com/lyanjo/fila-service/internal/reconcile"
	"github.com/lyanjo/fila-service/internal/service"
)

// QueuesHandler serves operator queue commands and the department poll
// controller.
type QueuesHandler struct {
	queues   *service.QueueService
	registry *domain.Registry
	polls    *reconcile.DeptPoller
}

// NewQueuesHandler constructs handler.
func NewQueuesHandler(queues *service.QueueService, registry *domain.Registry, polls *reconcile.DeptPoller) *QueuesHandler {
	return &QueuesHandler{queues: queues, registry: registry, polls: polls}
}

// Overview GET /queues.
func (h *QueuesHandler) Overview(c *fiber.Ctx) error {
	ov := h.queues.Overview()
	resp := dto.OverviewResponse{
		Queues:      make([]dto.QueueResponse, 0, len(ov.Queues)),
		History:     make([]dto.HistoryResponse, 0, len(ov.History)),
		DailyCount:  ov.DailyCount,
		PendingSync: ov.PendingSync,
		Online:      ov.Online,
	}
	for _, q := range ov.Queues {
		resp.Queues = append(resp.Queues, queueResponse(q))
	}
	for i := len(ov.History) - 1; i >= 0; i-- {
		resp.History = append(resp.History, historyResponse(ov.History[i]))
	}
	return c.JSON(fiber.Map{"data": resp})
}

// Get GET /queues/:dept.
func (h *QueuesHandler) Get(c *fiber.Ctx) error {
	view, err := h.queues.Queue(c.Params("dept"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": queueResponse(*view)})
}

// ServeNext POST /queues/:dept/serve-next.
func (h *QueuesHandler) ServeNext(c *fiber.Ctx) error {
	result, err := h.queues.ServeNext(c.UserContext(), c.Params("dept"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.ServeResponse{
		Closed:  optionalTicket(result.Closed),
		Serving: optionalTicket(result.Serving),
		Pending: result.Pending,
	}})
}

// Close POST /queues/:dept/close.
func (h *QueuesHandler) Close(c *fiber.Ctx) error {
	closed, err := h.queues.CloseTicket(c.UserContext(), c.Params("dept"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": ticketResponse(*closed)})
}

// Recall POST /queues/:dept/recall.
func (h *QueuesHandler) Recall(c *fiber.Ctx) error {
	cur, err := h.queues.Recall(c.UserContext(), c.Params("dept"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": ticketResponse(*cur)})
}

// PollOpen POST /queues/:dept/poll/open.
func (h *QueuesHandler) PollOpen(c *fiber.Ctx) error {
	return h.poll(c, h.polls.Open)
}

// PollClose POST /queues/:dept/poll/close.
func (h *QueuesHandler) PollClose(c *fiber.Ctx) error {
	return h.poll(c, h.polls.Close)
}

// PollPause POST /queues/:dept/poll/pause.
func (h *QueuesHandler) PollPause(c *fiber.Ctx) error {
	return h.poll(c, h.polls.Pause)
}

// PollResume POST /queues/:dept/poll/resume.
func (h *QueuesHandler) PollResume(c *fiber.Ctx) error {
	return h.poll(c, func(dept string) { h.polls.Resume(dept) })
}

func (h *QueuesHandler) poll(c *fiber.Ctx, action func(string)) error {
	dept, ok := h.registry.Resolve(c.Params("dept"))
	if !ok {
		return service.ErrUnknownDepartment
	}
	action(dept.Code)
	return c.JSON(fiber.Map{"data": dto.PollStateResponse{
		Department: dept.Code,
		Active:     h.polls.Active(),
		Paused:     h.polls.Paused(dept.Code),
	}})
}
