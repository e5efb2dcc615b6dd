package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/lyanjo/fila-service/internal/domain"
	apperrors "github.com/lyanjo/fila-service/pkg/util/errorutil"
)

type staticUsers map[string]domain.User

func (s staticUsers) User(email string) (domain.User, bool) {
	u, ok := s[email]
	return u, ok
}

func TestTokenRoundTrip(t *testing.T) {
	tm := NewTokenManager("secret", time.Hour)
	token, exp, err := tm.GenerateToken(domain.User{ID: "u1", Email: "ana@fila.local", Role: domain.Role("6")})
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	if time.Until(exp) <= 0 {
		t.Fatalf("expiry %v is in the past", exp)
	}
	claims, err := tm.ParseToken(token)
	if err != nil {
		t.Fatalf("ParseToken: %v", err)
	}
	if claims.Email != "ana@fila.local" || claims.Role != "6" || claims.Subject != "u1" {
		t.Fatalf("unexpected claims %+v", claims)
	}
	if _, err := NewTokenManager("other", time.Hour).ParseToken(token); err == nil {
		t.Fatal("token signed with another secret should fail")
	}
}

func TestPasswordHash(t *testing.T) {
	hash, err := HashPassword("s3nha", 4)
	if err != nil {
		t.Fatal(err)
	}
	if ComparePassword(hash, "s3nha") != nil {
		t.Fatal("matching password rejected")
	}
	if ComparePassword(hash, "wrong") == nil {
		t.Fatal("wrong password accepted")
	}
}

func TestRequireDepartment(t *testing.T) {
	tm := NewTokenManager("secret", time.Hour)
	users := staticUsers{
		"op6@fila.local": {Email: "op6@fila.local", Role: "6", Active: true},
		"off@fila.local": {Email: "off@fila.local", Role: "6", Active: false},
		"adm@fila.local": {Email: "adm@fila.local", Role: domain.RoleAdmin, Active: true},
	}
	mw := NewAuthMiddleware(tm, users)

	app := fiber.New(fiber.Config{ErrorHandler: func(c *fiber.Ctx, err error) error {
		return c.SendStatus(apperrors.ToDomainError(err).HTTPStatus)
	}})
	app.Post("/queues/:department/serve-next", mw.Handle, RequireDepartment("department"), func(c *fiber.Ctx) error {
		return c.SendStatus(http.StatusOK)
	})

	tests := []struct {
		email string
		dept  string
		want  int
	}{
		{"op6@fila.local", "6", http.StatusOK},
		{"op6@fila.local", "60", http.StatusForbidden},
		{"adm@fila.local", "60", http.StatusOK},
		{"off@fila.local", "6", http.StatusForbidden},
		{"", "6", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodPost, "/queues/"+tt.dept+"/serve-next", nil)
		if tt.email != "" {
			token, _, err := tm.GenerateToken(users[tt.email])
			if err != nil {
				t.Fatal(err)
			}
			req.Header.Set("Authorization", "Bearer "+token)
		}
		resp, err := app.Test(req)
		if err != nil {
			t.Fatalf("app.Test: %v", err)
		}
		if resp.StatusCode != tt.want {
			t.Fatalf("%s on %s: status=%d, want %d", tt.email, tt.dept, resp.StatusCode, tt.want)
		}
	}
}
