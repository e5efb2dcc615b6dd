package service

import (
	"errors"
	"net/http"

	apperrors "github.com/lyanjo/fila-service/pkg/util/errorutil"
)

var (
	// ErrOnlineOnly is returned by operations that refuse to run offline.
	ErrOnlineOnly = apperrors.NewOnlineOnly("operation requires a connection to the ledger")
	// ErrUnknownDepartment is returned for department codes missing from the registry.
	ErrUnknownDepartment = apperrors.NewDomainError("UNKNOWN_DEPARTMENT", "unknown department", http.StatusNotFound, nil)
	// ErrEmptyQueue is returned when serve-next finds nobody waiting.
	ErrEmptyQueue = apperrors.NewEmptyQueue("no ticket waiting")
	// ErrNoServing is returned when a department has no ticket in service.
	ErrNoServing = apperrors.NewDomainError("NOT_SERVING", "no ticket in service", http.StatusConflict, nil)
	// ErrInvalidCredentials is returned for failed logins.
	ErrInvalidCredentials = apperrors.NewDomainError("INVALID_CREDENTIALS", "invalid email or password", http.StatusUnauthorized, nil)
	// ErrInactiveUser is returned when a disabled account tries to log in.
	ErrInactiveUser = apperrors.NewDomainError("USER_INACTIVE", "user is inactive", http.StatusForbidden, nil)
)

// errCodeTaken means a ticket code and day already belong to another visit.
var errCodeTaken = errors.New("ticket code already issued")

// Connectivity reports whether the ledger is currently reachable.
type Connectivity interface {
	Online() bool
}

type alwaysOnline struct{}

func (alwaysOnline) Online() bool { return true }
