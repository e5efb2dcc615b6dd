package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestStartRunsImmediatelyAndRepeats(t *testing.T) {
	s := New(context.Background(), zap.NewNop())
	defer s.StopAll()
	var n atomic.Int32
	if !s.Start("poll", 10*time.Millisecond, func(context.Context) { n.Add(1) }) {
		t.Fatal("Start returned false")
	}
	if s.Start("poll", 10*time.Millisecond, func(context.Context) {}) {
		t.Fatal("second Start should be refused")
	}
	waitFor(t, func() bool { return n.Load() >= 3 })
}

func TestPauseResume(t *testing.T) {
	s := New(context.Background(), zap.NewNop())
	defer s.StopAll()
	var n atomic.Int32
	s.Start("dept:6", 5*time.Millisecond, func(context.Context) { n.Add(1) })
	waitFor(t, func() bool { return n.Load() >= 1 })

	if !s.Pause("dept:6") || !s.Paused("dept:6") || s.Running("dept:6") {
		t.Fatal("pause state not reported")
	}
	time.Sleep(5 * time.Millisecond)
	frozen := n.Load()
	time.Sleep(30 * time.Millisecond)
	if n.Load() != frozen {
		t.Fatal("paused task kept running")
	}
	if s.Pause("dept:6") {
		t.Fatal("pausing twice should report false")
	}
	if !s.Resume("dept:6") || !s.Running("dept:6") {
		t.Fatal("resume failed")
	}
	waitFor(t, func() bool { return n.Load() > frozen })
	if s.Resume("dept:6") {
		t.Fatal("resuming a running task should report false")
	}
}

func TestStopLetsRunningTickFinish(t *testing.T) {
	s := New(context.Background(), zap.NewNop())
	defer s.StopAll()
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	finished := make(chan error, 1)
	var ticks atomic.Int32
	s.Start("slow", 5*time.Millisecond, func(ctx context.Context) {
		ticks.Add(1)
		started <- struct{}{}
		<-release
		finished <- ctx.Err()
	})
	<-started
	if !s.Stop("slow") {
		t.Fatal("Stop returned false")
	}
	if s.Stop("slow") || s.Running("slow") {
		t.Fatal("stopped task still known")
	}
	close(release)
	if err := <-finished; err != nil {
		t.Fatalf("running tick saw cancelled context: %v", err)
	}
	time.Sleep(25 * time.Millisecond)
	if ticks.Load() != 1 {
		t.Fatalf("ticks after Stop = %d, want 1", ticks.Load())
	}
}

func TestResumeWaitsForRunningTick(t *testing.T) {
	s := New(context.Background(), zap.NewNop())
	defer s.StopAll()
	var active, overlaps, ticks atomic.Int32
	release := make(chan struct{})
	var once atomic.Bool
	s.Start("dept:2", time.Millisecond, func(context.Context) {
		if active.Add(1) > 1 {
			overlaps.Add(1)
		}
		ticks.Add(1)
		if once.CompareAndSwap(false, true) {
			<-release
		}
		active.Add(-1)
	})
	waitFor(t, func() bool { return active.Load() == 1 })
	s.Pause("dept:2")
	s.Resume("dept:2")
	time.Sleep(20 * time.Millisecond)
	if ticks.Load() != 1 {
		t.Fatalf("resumed task ticked while the paused tick was running: %d", ticks.Load())
	}
	close(release)
	waitFor(t, func() bool { return ticks.Load() >= 3 })
	if overlaps.Load() != 0 {
		t.Fatalf("ticks overlapped %d times", overlaps.Load())
	}
}

func TestConcurrentPauseResume(t *testing.T) {
	s := New(context.Background(), zap.NewNop())
	defer s.StopAll()
	var active, overlaps, ticks atomic.Int32
	s.Start("dept:6", time.Millisecond, func(context.Context) {
		if active.Add(1) > 1 {
			overlaps.Add(1)
		}
		ticks.Add(1)
		time.Sleep(200 * time.Microsecond)
		active.Add(-1)
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				s.Pause("dept:6")
				s.Resume("dept:6")
			}
		}()
	}
	wg.Wait()

	s.Resume("dept:6")
	if !s.Running("dept:6") || s.Paused("dept:6") {
		t.Fatal("task not running after the last Resume")
	}
	before := ticks.Load()
	waitFor(t, func() bool { return ticks.Load() > before+2 })
	if overlaps.Load() != 0 {
		t.Fatalf("ticks overlapped %d times", overlaps.Load())
	}

	s.Pause("dept:6")
	time.Sleep(5 * time.Millisecond)
	frozen := ticks.Load()
	time.Sleep(20 * time.Millisecond)
	if ticks.Load() != frozen {
		t.Fatal("paused task kept running")
	}
}
