package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/lyanjo/fila-service/internal/api/dto"
	"github.com/lyanjo/fila-service/internal/service"
	apperrors "github.com/lyanjo/fila-service/pkg/util/errorutil"
)

// UsersHandler manages operator accounts.
type UsersHandler struct {
	users *service.UserService
}

// NewUsersHandler constructs handler.
func NewUsersHandler(users *service.UserService) *UsersHandler {
	return &UsersHandler{users: users}
}

// Create POST /users.
func (h *UsersHandler) Create(c *fiber.Ctx) error {
	var req dto.CreateUserRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if req.Email == "" || req.Password == "" || req.Role == "" {
		return apperrors.NewValidationError("email, password and role required", nil)
	}
	active := true
	if req.Active != nil {
		active = *req.Active
	}
	user, pending, err := h.users.CreateUser(c.UserContext(), service.CreateUserInput{
		Email:    req.Email,
		Password: req.Password,
		Role:     req.Role,
		Active:   active,
	})
	if err != nil {
		return err
	}
	status := http.StatusCreated
	if pending {
		status = http.StatusAccepted
	}
	return c.Status(status).JSON(fiber.Map{"data": userResponse(*user), "pending": pending})
}

// Update PATCH /users/:email.
func (h *UsersHandler) Update(c *fiber.Ctx) error {
	var req dto.UpdateUserRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	user, pending, err := h.users.UpdateUser(c.UserContext(), c.Params("email"), service.UpdateUserInput{
		Email:    req.Email,
		Password: req.Password,
		Role:     req.Role,
		Active:   req.Active,
	})
	if err != nil {
		return err
	}
	status := http.StatusOK
	if pending {
		status = http.StatusAccepted
	}
	return c.Status(status).JSON(fiber.Map{"data": userResponse(*user), "pending": pending})
}

// List GET /users.
func (h *UsersHandler) List(c *fiber.Ctx) error {
	users, err := h.users.List(c.UserContext())
	if err != nil {
		return err
	}
	items := make([]dto.UserResponse, 0, len(users))
	for _, u := range users {
		items = append(items, userResponse(u))
	}
	return c.JSON(fiber.Map{"data": items})
}
