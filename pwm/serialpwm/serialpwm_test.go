package serialpwm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/w1xm/quadpilot/motor"
	"github.com/w1xm/quadpilot/pwm"
)

type NoopCloser struct {
	io.Reader
	write bytes.Buffer
}

func (nc *NoopCloser) Write(p []byte) (n int, err error) {
	return nc.write.Write(p)
}

func (nc *NoopCloser) Close() error {
	return nil
}

func TestParsing(t *testing.T) {
	for _, test := range []struct {
		input string
		want  []pwm.Event
	}{
		{"t6 1000\n", []pwm.Event{{Pin: 6, Level: pwm.Timeout, Tick: 1000}}},
		{"e6 1 20\ne6 0 40\n", []pwm.Event{{Pin: 6, Level: pwm.High, Tick: 20}, {Pin: 6, Level: pwm.Low, Tick: 40}}},
		{"!booted\n\nt6 5\n", []pwm.Event{{Pin: 6, Level: pwm.Timeout, Tick: 5}}},
		{"t6\nx\ne7 1 1\nt6 x\n", nil},
	} {
		t.Run(test.input, func(t *testing.T) {
			b := newBridge()
			sub, _ := b.Subscribe(6)
			b.attach(&NoopCloser{Reader: strings.NewReader(test.input)})
			b.watch(context.Background())

			var got []pwm.Event
			for len(sub.C) > 0 {
				got = append(got, <-sub.C)
			}
			if diff := cmp.Diff(got, test.want); diff != "" {
				t.Errorf("unexpected events: got(-)/want(+):\n%s", diff)
			}
		})
	}
}

func TestWrites(t *testing.T) {
	b := newBridge()
	if err := b.SetPulse(6, 1000); !errors.Is(err, pwm.ErrNotConnected) {
		t.Errorf("SetPulse while disconnected: got %v, want ErrNotConnected", err)
	}

	conn := &NoopCloser{Reader: strings.NewReader("")}
	b.attach(conn)
	if err := b.SetPulse(6, 1000); err != nil {
		t.Fatal(err)
	}
	if err := b.SetWatchdog(6, 100*time.Millisecond); err != nil {
		t.Fatal(err)
	}
	if err := b.SetPulse(6, 0); err != nil {
		t.Fatal(err)
	}
	if err := b.SetPulse(6, 9000); !errors.Is(err, pwm.ErrPulseRange) {
		t.Errorf("SetPulse(9000): got %v, want ErrPulseRange", err)
	}
	if got, want := conn.write.String(), "p6 1000\nw6 100\np6 0\n"; got != want {
		t.Errorf("wrote %q, want %q", got, want)
	}

	// A fresh connection gets the watchdog and the last pulse again.
	again := &NoopCloser{Reader: strings.NewReader("")}
	b.attach(again)
	b.resend()
	if got, want := again.write.String(), "w6 100\np6 0\n"; got != want {
		t.Errorf("resent %q, want %q", got, want)
	}

	// A disarmed watchdog is not restored.
	if err := b.SetWatchdog(6, 0); err != nil {
		t.Fatal(err)
	}
	last := &NoopCloser{Reader: strings.NewReader("")}
	b.attach(last)
	b.resend()
	if got, want := last.write.String(), "p6 0\n"; got != want {
		t.Errorf("resent %q after disarming, want %q", got, want)
	}
}

func TestReconnectRearmsRunningMotor(t *testing.T) {
	b := newBridge()
	b.attach(&NoopCloser{Reader: strings.NewReader("")})
	ch := motor.New(b, motor.Config{Pin: 6, Rotation: motor.CW, Min: 1000, Max: 2000})
	if err := ch.Start(); err != nil {
		t.Fatal(err)
	}
	if err := ch.SetThrottle(40); err != nil {
		t.Fatal(err)
	}

	rebooted := &NoopCloser{Reader: strings.NewReader("")}
	b.attach(rebooted)
	b.resend()
	want := fmt.Sprintf("n6 1\nw6 100\np6 %d\n", ch.Map()[40])
	if got := rebooted.write.String(); got != want {
		t.Errorf("resent %q, want %q", got, want)
	}
	if err := ch.Stop(); err != nil {
		t.Fatal(err)
	}
}

func TestNotifications(t *testing.T) {
	b := newBridge()
	conn := &NoopCloser{Reader: strings.NewReader("")}
	b.attach(conn)

	first, err := b.Subscribe(6)
	if err != nil {
		t.Fatal(err)
	}
	second, err := b.Subscribe(6)
	if err != nil {
		t.Fatal(err)
	}
	first.Cancel()
	first.Cancel()
	if got, want := conn.write.String(), "n6 1\n"; got != want {
		t.Errorf("wrote %q with one subscriber left, want %q", got, want)
	}
	second.Cancel()
	if got, want := conn.write.String(), "n6 1\nn6 0\n"; got != want {
		t.Errorf("wrote %q, want %q", got, want)
	}
	if _, ok := <-second.C; ok {
		t.Error("subscription channel still open after Cancel")
	}
}
