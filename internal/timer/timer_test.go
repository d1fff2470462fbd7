package timer_test

import (
	"VaultLedger/internal/timer"
	"context"
	"testing"
	"time"
)

func TestManual_FiresOnPeriod(t *testing.T) {
	start := time.Unix(0, 0)
	clock := timer.NewManual(start)
	sub := clock.Subscribe(time.Hour)

	clock.Advance(30 * time.Minute)
	select {
	case <-sub.C():
		t.Fatal("should not fire before the period elapses")
	default:
	}

	clock.Advance(45 * time.Minute)
	select {
	case ts := <-sub.C():
		if !ts.Equal(start.Add(75 * time.Minute)) {
			t.Errorf("tick at %v, want %v", ts, start.Add(75*time.Minute))
		}
	default:
		t.Fatal("expected a tick after the period")
	}
}

func TestManual_StopSilences(t *testing.T) {
	clock := timer.NewManual(time.Unix(0, 0))
	sub := clock.Subscribe(time.Second)
	sub.Stop()

	clock.Advance(time.Minute)
	select {
	case <-sub.C():
		t.Fatal("stopped subscription fired")
	default:
	}
}

func TestStepper_WaitsForAdvance(t *testing.T) {
	clock := timer.NewManual(time.Unix(0, 0))
	stepper := timer.NewStepper(clock, time.Second)

	done := make(chan error, 1)
	go func() { done <- stepper.WaitStep(context.Background()) }()

	deadline := time.After(2 * time.Second)
	for {
		clock.Advance(time.Second)
		select {
		case err := <-done:
			if err != nil {
				t.Fatal(err)
			}
			return
		case <-deadline:
			t.Fatal("stepper never woke")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestStepper_Cancelled(t *testing.T) {
	clock := timer.NewManual(time.Unix(0, 0))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := timer.NewStepper(clock, time.Second).WaitStep(ctx); err == nil {
		t.Fatal("expected context error")
	}
}
