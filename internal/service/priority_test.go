package service

import (
	"testing"

	"github.com/lyanjo/fila-service/internal/domain"
)

func queueOf(labels ...string) []domain.Ticket {
	out := make([]domain.Ticket, 0, len(labels))
	for _, s := range labels {
		out = append(out, domain.Ticket{Code: s, Preferential: s[0] == 'P'})
	}
	return out
}

func TestSelectNextRules(t *testing.T) {
	tests := []struct {
		name       string
		waiting    []domain.Ticket
		streak     int
		wantCode   string
		wantStreak int
	}{
		{"empty", nil, 1, "", 1},
		{"regular only", queueOf("N1", "N2"), 2, "N1", 0},
		{"preferential first under burst", queueOf("N1", "P1"), 0, "P1", 1},
		{"second preferential", queueOf("N1", "P1"), 1, "P1", 2},
		{"burst reached serves regular", queueOf("P1", "N1"), 2, "N1", 0},
		{"burst reached without regular", queueOf("P1", "P2"), 2, "P1", 2},
	}
	for _, tt := range tests {
		idx, next := SelectNext(tt.waiting, tt.streak)
		got := ""
		if idx >= 0 {
			got = tt.waiting[idx].Code
		}
		if got != tt.wantCode || next != tt.wantStreak {
			t.Fatalf("%s: SelectNext=%q,%d, want %q,%d", tt.name, got, next, tt.wantCode, tt.wantStreak)
		}
	}
}

func TestPriorityDispatcherSequence(t *testing.T) {
	d := NewPriorityDispatcher()
	waiting := queueOf("P1", "P2", "P3", "N1")
	var order []string
	for len(waiting) > 0 {
		idx, next := d.Pick("6", waiting)
		order = append(order, waiting[idx].Code)
		d.Commit("6", next)
		waiting = append(waiting[:idx:idx], waiting[idx+1:]...)
	}
	want := []string{"P1", "P2", "N1", "P3"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order=%v, want %v", order, want)
		}
	}
	if d.Streak("6") != 1 {
		t.Fatalf("streak=%d, want 1", d.Streak("6"))
	}
	if d.Streak("60") != 0 {
		t.Fatal("streaks must be tracked per department")
	}
}
