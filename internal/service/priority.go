package service

import (
	"sync"

	"github.com/lyanjo/fila-service/internal/domain"
)

// PreferentialBurst is how many preferential tickets may be called in a row
// while regular tickets are waiting.
const PreferentialBurst = 2

// SelectNext picks the next ticket to call from waiting, given how many
// preferential tickets were called in a row so far. It returns the index of
// the chosen ticket, or -1 for an empty queue, and the updated streak.
func SelectNext(waiting []domain.Ticket, streak int) (int, int) {
	firstPref, firstRegular := -1, -1
	for i, t := range waiting {
		if t.Preferential {
			if firstPref < 0 {
				firstPref = i
			}
		} else if firstRegular < 0 {
			firstRegular = i
		}
		if firstPref >= 0 && firstRegular >= 0 {
			break
		}
	}
	switch {
	case firstPref < 0 && firstRegular < 0:
		return -1, streak
	case firstPref < 0:
		return firstRegular, 0
	case streak < PreferentialBurst:
		return firstPref, streak + 1
	case firstRegular >= 0:
		return firstRegular, 0
	default:
		return firstPref, streak
	}
}

// PriorityDispatcher remembers the preferential streak of each department.
type PriorityDispatcher struct {
	mu      sync.Mutex
	streaks map[string]int
}

// NewPriorityDispatcher returns a dispatcher with every streak at zero.
func NewPriorityDispatcher() *PriorityDispatcher {
	return &PriorityDispatcher{streaks: map[string]int{}}
}

// Pick chooses from waiting for department without committing the streak.
func (d *PriorityDispatcher) Pick(department string, waiting []domain.Ticket) (int, int) {
	d.mu.Lock()
	streak := d.streaks[department]
	d.mu.Unlock()
	idx, next := SelectNext(waiting, streak)
	if idx < 0 && len(waiting) > 0 {
		idx = 0
	}
	return idx, next
}

// Commit records the streak after a ticket was called.
func (d *PriorityDispatcher) Commit(department string, streak int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.streaks[department] = streak
}

// Streak returns the current streak for department.
func (d *PriorityDispatcher) Streak(department string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.streaks[department]
}
