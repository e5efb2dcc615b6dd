package repository

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		kind   ErrorKind
		column string
	}{
		{"unique", &pgconn.PgError{Code: "23505"}, KindConflict, ""},
		{"no conflict target", &pgconn.PgError{Code: "42P10"}, KindConflict, ""},
		{"not null", fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23502", ColumnName: "password_hash"}), KindConstraint, "password_hash"},
		{"connection exception", &pgconn.PgError{Code: "08006"}, KindConnectivity, ""},
		{"no rows", pgx.ErrNoRows, KindNotFound, ""},
		{"unconfigured", ErrLedgerUnavailable, KindConnectivity, ""},
		{"deadline", context.DeadlineExceeded, KindConnectivity, ""},
		{"syntax", &pgconn.PgError{Code: "42601"}, KindOther, ""},
		{"plain", errors.New("boom"), KindOther, ""},
	}
	for _, tt := range tests {
		got := Classify(tt.err)
		if got.Kind != tt.kind || got.Column != tt.column {
			t.Fatalf("%s: Classify=%s/%q, want %s/%q", tt.name, got.Kind, got.Column, tt.kind, tt.column)
		}
	}
}
