package repository

import (
	"context"
	"errors"
	"net"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrLedgerUnavailable is returned by repositories built without a pool.
var ErrLedgerUnavailable = errors.New("ledger not configured")

// ErrorKind groups ledger failures by how callers should react.
type ErrorKind int

const (
	KindOther ErrorKind = iota
	KindConnectivity
	KindConflict
	KindConstraint
	KindNotFound
)

func (k ErrorKind) String() string {
	switch k {
	case KindConnectivity:
		return "connectivity"
	case KindConflict:
		return "conflict"
	case KindConstraint:
		return "constraint"
	case KindNotFound:
		return "not_found"
	}
	return "other"
}

const (
	sqlStateUniqueViolation  = "23505"
	sqlStateNotNullViolation = "23502"
	sqlStateNoConflictTarget = "42P10"
)

// Classification describes a ledger error.
type Classification struct {
	Kind ErrorKind
	// Code is the SQLSTATE when the server answered.
	Code string
	// Column is the offending column of a constraint violation.
	Column string
}

// Classify maps a ledger error onto a kind.
func Classify(err error) Classification {
	if err == nil {
		return Classification{Kind: KindOther}
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return Classification{Kind: KindNotFound}
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case sqlStateUniqueViolation, sqlStateNoConflictTarget:
			return Classification{Kind: KindConflict, Code: pgErr.Code}
		case sqlStateNotNullViolation:
			return Classification{Kind: KindConstraint, Code: pgErr.Code, Column: pgErr.ColumnName}
		}
		if len(pgErr.Code) == 5 && pgErr.Code[:2] == "08" {
			return Classification{Kind: KindConnectivity, Code: pgErr.Code}
		}
		return Classification{Kind: KindOther, Code: pgErr.Code}
	}
	if errors.Is(err, ErrLedgerUnavailable) || errors.Is(err, context.DeadlineExceeded) || pgconn.Timeout(err) {
		return Classification{Kind: KindConnectivity}
	}
	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return Classification{Kind: KindConnectivity}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return Classification{Kind: KindConnectivity}
	}
	if pgconn.SafeToRetry(err) {
		return Classification{Kind: KindConnectivity}
	}
	return Classification{Kind: KindOther}
}

// IsConnectivity reports whether err means the ledger could not be reached.
func IsConnectivity(err error) bool {
	return err != nil && Classify(err).Kind == KindConnectivity
}

// IsNotFound reports whether err means no row matched.
func IsNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
