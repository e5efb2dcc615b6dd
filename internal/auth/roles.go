package auth

import (
	"github.com/gofiber/fiber/v2"

	"github.com/lyanjo/fila-service/internal/domain"
	apperrors "github.com/lyanjo/fila-service/pkg/util/errorutil"
)

// RequireRole ensures the principal has one of the allowed roles.
func RequireRole(allowed ...domain.Role) fiber.Handler {
	allowedSet := make(map[domain.Role]struct{}, len(allowed))
	for _, role := range allowed {
		allowedSet[role] = struct{}{}
	}

	return func(c *fiber.Ctx) error {
		principal, ok := PrincipalFromContext(c)
		if !ok {
			return apperrors.NewUnauthorized("authentication required")
		}
		if len(allowedSet) == 0 {
			return c.Next()
		}
		if _, exists := allowedSet[principal.Role]; !exists {
			return apperrors.NewForbidden("insufficient role")
		}
		return c.Next()
	}
}

// RequireIssuer ensures the principal may issue tickets.
func RequireIssuer() fiber.Handler {
	return func(c *fiber.Ctx) error {
		principal, ok := PrincipalFromContext(c)
		if !ok {
			return apperrors.NewUnauthorized("authentication required")
		}
		if !principal.Role.CanIssue() {
			return apperrors.NewForbidden("reception role required")
		}
		return c.Next()
	}
}

// RequireDepartment ensures the principal operates the department named by
// the route parameter param.
func RequireDepartment(param string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		principal, ok := PrincipalFromContext(c)
		if !ok {
			return apperrors.NewUnauthorized("authentication required")
		}
		if !principal.Role.CanOperate(c.Params(param)) {
			return apperrors.NewForbidden("department not assigned to user")
		}
		return c.Next()
	}
}
