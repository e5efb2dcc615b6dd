package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/lyanjo/fila-service/internal/api/dto"
	"github.com/lyanjo/fila-service/internal/service"
	apperrors "github.com/lyanjo/fila-service/pkg/util/errorutil"
)

// CitizensHandler manages citizen registration and lookup.
type CitizensHandler struct {
	citizens *service.CitizenService
}

// NewCitizensHandler constructs handler.
func NewCitizensHandler(citizens *service.CitizenService) *CitizensHandler {
	return &CitizensHandler{citizens: citizens}
}

// Create POST /citizens.
func (h *CitizensHandler) Create(c *fiber.Ctx) error {
	var req dto.CitizenRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	return h.register(c, req, http.StatusCreated)
}

// Update PUT /citizens/:document.
func (h *CitizensHandler) Update(c *fiber.Ctx) error {
	var req dto.CitizenRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	req.Document = c.Params("document")
	return h.register(c, req, http.StatusOK)
}

func (h *CitizensHandler) register(c *fiber.Ctx, req dto.CitizenRequest, status int) error {
	citizen, pending, err := h.citizens.Register(c.UserContext(), service.CitizenInput{
		Name:         req.Name,
		Document:     req.Document,
		Preferential: req.Preferential,
		Phone:        req.Phone,
		PostalCode:   req.PostalCode,
		Street:       req.Street,
		Number:       req.Number,
		District:     req.District,
		City:         req.City,
	})
	if err != nil {
		return err
	}
	if pending {
		status = http.StatusAccepted
	}
	return c.Status(status).JSON(fiber.Map{"data": citizenResponse(*citizen), "pending": pending})
}

// Get GET /citizens/:document.
func (h *CitizensHandler) Get(c *fiber.Ctx) error {
	citizen, err := h.citizens.Get(c.UserContext(), c.Params("document"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": citizenResponse(*citizen)})
}

// Search GET /citizens?q=.
func (h *CitizensHandler) Search(c *fiber.Ctx) error {
	found, err := h.citizens.Search(c.UserContext(), c.Query("q"))
	if err != nil {
		return err
	}
	items := make([]dto.CitizenResponse, 0, len(found))
	for _, citizen := range found {
		items = append(items, citizenResponse(citizen))
	}
	return c.JSON(fiber.Map{"data": items})
}

