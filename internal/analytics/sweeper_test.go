package analytics

import (
	"context"
	"testing"
	"time"

	"github.com/netmedic/netmedic/pkg/models"
)

func TestNewSweeperRejectsBadSchedule(t *testing.T) {
	r, _ := newTestRecorder(t)
	if _, err := NewSweeper(r, WithSchedule("every now and then")); err == nil {
		t.Error("bad schedule accepted")
	}
}

func TestSweeperAbandonsIdleSessionOnTick(t *testing.T) {
	r, st := newTestRecorder(t)
	ctx := context.Background()

	beginSession(t, r, "idle")
	r.mu.Lock()
	r.live["idle"].lastActivity = time.Now().Add(-time.Hour)
	r.mu.Unlock()

	s, err := NewSweeper(r, WithSchedule("@every 1s"), WithIdleTimeout(30*time.Minute))
	if err != nil {
		t.Fatalf("NewSweeper: %v", err)
	}
	s.Start()
	s.Start() // second Start must not spawn a second loop
	defer s.Stop()

	deadline := time.Now().Add(3 * time.Second)
	for {
		session, err := st.GetSession(ctx, "idle")
		if err != nil {
			t.Fatalf("GetSession: %v", err)
		}
		if session.Outcome == models.OutcomeAbandoned {
			if session.EndedAt == nil {
				t.Error("abandoned session has no end time")
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("session still %q after waiting for a sweep", session.Outcome)
		}
		time.Sleep(50 * time.Millisecond)
	}

	s.Stop()
	s.Stop() // idempotent
}
