package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/lyanjo/fila-service/internal/api/http/handlers"
	"github.com/lyanjo/fila-service/internal/auth"
	"github.com/lyanjo/fila-service/internal/domain"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Auth           *handlers.AuthHandler
	Tickets        *handlers.TicketsHandler
	Queues         *handlers.QueuesHandler
	Citizens       *handlers.CitizensHandler
	Users          *handlers.UsersHandler
	Sync           *handlers.SyncHandler
	Display        *handlers.DisplayHandler
	AuthMiddleware *auth.AuthMiddleware
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)
	app.Get("/display", cfg.Display.Panel)

	app.Post("/auth/login", cfg.Auth.Login)

	protected := app.Group("", cfg.AuthMiddleware.Handle)
	adminOnly := auth.RequireRole(domain.RoleAdmin)

	protected.Post("/tickets", auth.RequireIssuer(), cfg.Tickets.Issue)

	protected.Get("/queues", cfg.Queues.Overview)
	protected.Get("/queues/:dept", cfg.Queues.Get)
	operator := auth.RequireDepartment("dept")
	protected.Post("/queues/:dept/serve-next", operator, cfg.Queues.ServeNext)
	protected.Post("/queues/:dept/close", operator, cfg.Queues.Close)
	protected.Post("/queues/:dept/recall", operator, cfg.Queues.Recall)
	protected.Post("/queues/:dept/poll/open", operator, cfg.Queues.PollOpen)
	protected.Post("/queues/:dept/poll/close", operator, cfg.Queues.PollClose)
	protected.Post("/queues/:dept/poll/pause", operator, cfg.Queues.PollPause)
	protected.Post("/queues/:dept/poll/resume", operator, cfg.Queues.PollResume)

	protected.Post("/citizens", auth.RequireIssuer(), cfg.Citizens.Create)
	protected.Put("/citizens/:document", cfg.Citizens.Update)
	protected.Get("/citizens", cfg.Citizens.Search)
	protected.Get("/citizens/:document", cfg.Citizens.Get)

	protected.Post("/users", adminOnly, cfg.Users.Create)
	protected.Patch("/users/:email", adminOnly, cfg.Users.Update)
	protected.Get("/users", adminOnly, cfg.Users.List)

	protected.Get("/sync", cfg.Sync.Status)
	protected.Post("/sync/drain", adminOnly, cfg.Sync.Drain)
}
