package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/lyanjo/fila-service/internal/api/dto"
	"github.com/lyanjo/fila-service/internal/service"
)

// DisplayHandler serves the public waiting-room panel.
type DisplayHandler struct {
	queues  *service.QueueService
	display *service.DisplayService
}

// NewDisplayHandler constructs handler.
func NewDisplayHandler(queues *service.QueueService, display *service.DisplayService) *DisplayHandler {
	return &DisplayHandler{queues: queues, display: display}
}

// Panel GET /display.
func (h *DisplayHandler) Panel(c *fiber.Ctx) error {
	resp := dto.DisplayResponse{Serving: []dto.DisplayServing{}, Recent: []dto.DisplayCall{}}
	for _, q := range h.queues.Overview().Queues {
		if q.Serving == nil {
			continue
		}
		resp.Serving = append(resp.Serving, dto.DisplayServing{
			Department: q.Department.Code,
			Name:       q.Department.Name,
			Room:       q.Department.Room,
			TicketCode: q.Serving.Code,
		})
	}
	for _, e := range h.display.Recent() {
		resp.Recent = append(resp.Recent, dto.DisplayCall{
			Type:       string(e.Type),
			Department: e.Department,
			Room:       e.Room,
			TicketCode: e.TicketCode,
			At:         e.Timestamp,
		})
	}
	return c.JSON(fiber.Map{"data": resp})
}
