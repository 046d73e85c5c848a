package fsm

import "testing"

func TestInitialStateIsIdle(t *testing.T) {
	m := New(0)
	if m.State() != Idle {
		t.Fatalf("expected Idle, got %s", m.State())
	}
}

func TestLegalLifecycleTransitions(t *testing.T) {
	m := New(0)
	steps := []State{Starting, Listening, Processing, Listening, Stopping, Idle}
	for _, to := range steps {
		if err := m.Transition(to, "test"); err != nil {
			t.Fatalf("transition to %s: %v", to, err)
		}
	}
	if m.State() != Idle {
		t.Fatalf("expected Idle at end, got %s", m.State())
	}
}

func TestIllegalTransitionRejected(t *testing.T) {
	m := New(0)
	if err := m.Transition(Listening, "skip-starting"); err == nil {
		t.Fatal("expected error transitioning idle->listening directly")
	}
	if m.State() != Idle {
		t.Fatalf("state must not change on rejected transition, got %s", m.State())
	}
}

func TestPauseOnlyLegalFromListening(t *testing.T) {
	m := New(0)
	if err := m.Pause("too-early"); err == nil {
		t.Fatal("expected error pausing from idle")
	}

	_ = m.Transition(Starting, "x")
	_ = m.Transition(Listening, "x")
	if err := m.Pause("ok"); err != nil {
		t.Fatalf("pause from listening: %v", err)
	}
	if m.State() != Paused {
		t.Fatalf("expected Paused, got %s", m.State())
	}
}

func TestResumeReturnsToListening(t *testing.T) {
	m := New(0)
	_ = m.Transition(Starting, "x")
	_ = m.Transition(Listening, "x")
	_ = m.Pause("x")

	if err := m.Resume("x"); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if m.State() != Listening {
		t.Fatalf("expected Listening after resume, got %s", m.State())
	}
}

func TestResumeWithoutPauseRejected(t *testing.T) {
	m := New(0)
	if err := m.Resume("x"); err == nil {
		t.Fatal("expected error resuming without a prior pause")
	}
}

func TestHistoryRingBufferBounded(t *testing.T) {
	m := New(2)
	_ = m.Transition(Starting, "1")
	_ = m.Transition(Listening, "2")
	_ = m.Transition(Processing, "3")

	h := m.History()
	if len(h) != 2 {
		t.Fatalf("expected history capped at 2, got %d", len(h))
	}
	if h[len(h)-1].To != Processing {
		t.Fatalf("expected most recent transition last, got %+v", h)
	}
}

func TestErrorRecoversOnlyToIdle(t *testing.T) {
	m := New(0)
	_ = m.Transition(Starting, "x")
	if err := m.Transition(Error, "boom"); err != nil {
		t.Fatalf("starting->error: %v", err)
	}
	if err := m.Transition(Listening, "nope"); err == nil {
		t.Fatal("expected error->listening to be rejected")
	}
	if err := m.Transition(Idle, "recover"); err != nil {
		t.Fatalf("error->idle: %v", err)
	}
}
