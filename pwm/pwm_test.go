package pwm

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

type recorder struct {
	pulses []uint16
}

func (r *recorder) SetPulse(pin uint8, width uint16) error {
	r.pulses = append(r.pulses, width)
	return nil
}

func (r *recorder) SetWatchdog(pin uint8, timeout time.Duration) error {
	return nil
}

func (r *recorder) Subscribe(pin uint8) (*Subscription, error) {
	return nil, ErrNotConnected
}

func TestBrokerDelivers(t *testing.T) {
	b := NewBroker()
	sub, err := b.Subscribe(6)
	if err != nil {
		t.Fatal(err)
	}
	other, err := b.Subscribe(7)
	if err != nil {
		t.Fatal(err)
	}
	b.Publish(Event{Pin: 6, Level: Timeout, Tick: 42})

	select {
	case ev := <-sub.C:
		if diff := cmp.Diff(ev, Event{Pin: 6, Level: Timeout, Tick: 42}); diff != "" {
			t.Errorf("unexpected event: got(-)/want(+):\n%s", diff)
		}
	default:
		t.Fatal("no event delivered")
	}
	select {
	case ev := <-other.C:
		t.Errorf("pin 7 received %+v", ev)
	default:
	}
	if got, want := b.Pins(), uint32(1<<6|1<<7); got != want {
		t.Errorf("Pins() = %b, want %b", got, want)
	}
}

func TestBrokerCancelAndClose(t *testing.T) {
	b := NewBroker()
	sub, _ := b.Subscribe(3)
	sub.Cancel()
	sub.Cancel()
	if _, ok := <-sub.C; ok {
		t.Error("channel still open after Cancel")
	}
	if b.Pins() != 0 {
		t.Errorf("Pins() = %b after cancel", b.Pins())
	}

	sub, _ = b.Subscribe(3)
	b.Close()
	if _, ok := <-sub.C; ok {
		t.Error("channel still open after Close")
	}
	sub.Cancel()
	if _, err := b.Subscribe(3); !errors.Is(err, ErrClosed) {
		t.Errorf("Subscribe after Close: got %v, want ErrClosed", err)
	}
}

func TestBrokerDropsWhenFull(t *testing.T) {
	b := NewBroker()
	sub, _ := b.Subscribe(1)
	for i := 0; i < subscriberBuffer+5; i++ {
		b.Publish(Event{Pin: 1, Tick: uint32(i)})
	}
	if got := b.Dropped(); got != 5 {
		t.Errorf("Dropped() = %d, want 5", got)
	}
	if got := len(sub.C); got != subscriberBuffer {
		t.Errorf("buffered %d events, want %d", got, subscriberBuffer)
	}
}

func TestTrim(t *testing.T) {
	rec := &recorder{}
	tr := NewTrim(rec, map[uint8]int{4: 12})
	tr.SetOffset(5, -30)
	for _, test := range []struct {
		pin   uint8
		width uint16
	}{
		{4, 1500},
		{4, 0},
		{5, 1000},
		{5, 510},
		{4, 2495},
		{9, 1200},
	} {
		if err := tr.SetPulse(test.pin, test.width); err != nil {
			t.Fatal(err)
		}
	}
	want := []uint16{1512, 0, 970, MinPulse, MaxPulse, 1200}
	if diff := cmp.Diff(rec.pulses, want); diff != "" {
		t.Errorf("unexpected pulses: got(-)/want(+):\n%s", diff)
	}
}

func TestCheckPulse(t *testing.T) {
	for width, ok := range map[uint16]bool{0: true, 499: false, 500: true, 1500: true, 2500: true, 2501: false} {
		if err := CheckPulse(width); (err == nil) != ok {
			t.Errorf("CheckPulse(%d) = %v", width, err)
		}
	}
}
