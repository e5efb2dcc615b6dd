package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/lyanjo/fila-service/internal/api/dto"
	"github.com/lyanjo/fila-service/internal/service"
	apperrors "github.com/lyanjo/fila-service/pkg/util/errorutil"
)

// TicketsHandler handles reception ticket issuing.
type TicketsHandler struct {
	queues *service.QueueService
}

// NewTicketsHandler constructs handler.
func NewTicketsHandler(queues *service.QueueService) *TicketsHandler {
	return &TicketsHandler{queues: queues}
}

// Issue POST /tickets.
func (h *TicketsHandler) Issue(c *fiber.Ctx) error {
	var req dto.IssueTicketRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if req.Department == "" {
		return apperrors.NewValidationError("department required", nil)
	}

	result, err := h.queues.IssueTicket(c.UserContext(), service.IssueTicketInput{
		Department:      req.Department,
		CitizenName:     req.CitizenName,
		CitizenDocument: req.CitizenDocument,
		Preferential:    req.Preferential,
	})
	if err != nil {
		return err
	}
	status := http.StatusCreated
	if result.Pending {
		status = http.StatusAccepted
	}
	return c.Status(status).JSON(fiber.Map{"data": dto.IssueTicketResponse{
		Ticket:     ticketResponse(result.Ticket),
		Pending:    result.Pending,
		DailyCount: h.queues.DailyCount(),
	}})
}
