package simulator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/w1xm/quadpilot/pwm"
)

func TestWatchdogExpires(t *testing.T) {
	s := New()
	sub, err := s.Subscribe(6)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.SetWatchdog(6, 100*time.Millisecond); err != nil {
		t.Fatal(err)
	}
	if err := s.SetPulse(6, 1000); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 40; i++ {
		s.Step(5 * time.Millisecond)
	}
	select {
	case ev := <-sub.C:
		t.Fatalf("driven pin timed out: %+v", ev)
	default:
	}

	s.Stall(6, true)
	for i := 0; i < 20; i++ {
		s.Step(5 * time.Millisecond)
	}
	select {
	case ev := <-sub.C:
		if diff := cmp.Diff(ev, pwm.Event{Pin: 6, Level: pwm.Timeout, Tick: 300000}); diff != "" {
			t.Errorf("unexpected event: got(-)/want(+):\n%s", diff)
		}
	default:
		t.Fatal("stalled pin did not time out")
	}
	if got := s.Status().Channels[6].Timeouts; got != 1 {
		t.Errorf("Timeouts = %d, want 1", got)
	}
}

func TestDisarmedWatchdogIsQuiet(t *testing.T) {
	s := New()
	sub, _ := s.Subscribe(2)
	s.SetWatchdog(2, 10*time.Millisecond)
	s.SetWatchdog(2, 0)
	for i := 0; i < 10; i++ {
		s.Step(5 * time.Millisecond)
	}
	if len(sub.C) != 0 {
		t.Errorf("got %d events from a disarmed watchdog", len(sub.C))
	}
}

func TestFailPin(t *testing.T) {
	s := New()
	boom := errors.New("boom")
	s.FailPin(5, boom)
	if err := s.SetPulse(5, 1500); !errors.Is(err, boom) {
		t.Errorf("SetPulse: got %v, want %v", err, boom)
	}
	if got := s.Pulse(5); got != 0 {
		t.Errorf("failed pulse was applied: %d", got)
	}
	s.FailPin(5, nil)
	if err := s.SetPulse(5, 1500); err != nil {
		t.Errorf("SetPulse after heal: %v", err)
	}
	if err := s.SetPulse(5, 3000); !errors.Is(err, pwm.ErrPulseRange) {
		t.Errorf("SetPulse(3000): got %v, want ErrPulseRange", err)
	}
	want := []Call{
		{Op: "pulse", Pin: 5, Value: 1500},
		{Op: "pulse", Pin: 5, Value: 1500},
		{Op: "pulse", Pin: 5, Value: 3000},
	}
	if diff := cmp.Diff(s.Calls(), want); diff != "" {
		t.Errorf("unexpected calls: got(-)/want(+):\n%s", diff)
	}
}

func TestRotorSpinsUp(t *testing.T) {
	s := New()
	s.SetPulse(1, 2000)
	s.Step(100 * time.Millisecond)
	if got := s.Status().Channels[1].RPM; got != maxAccel*0.1 {
		t.Errorf("RPM after 100ms = %v, want %v", got, maxAccel*0.1)
	}
	for i := 0; i < 10; i++ {
		s.Step(100 * time.Millisecond)
	}
	if got := s.Status().Channels[1].RPM; got != maxRPM {
		t.Errorf("RPM = %v, want %v", got, maxRPM)
	}
	s.SetPulse(1, 0)
	for i := 0; i < 10; i++ {
		s.Step(100 * time.Millisecond)
	}
	if got := s.Status().Channels[1].RPM; got != 0 {
		t.Errorf("RPM after stop = %v, want 0", got)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	s := New()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := s.Run(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Run: got %v, want DeadlineExceeded", err)
	}
	if s.Status().Tick == 0 {
		t.Error("simulation did not advance")
	}
}
