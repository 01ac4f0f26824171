package pwm

import "sync"

// Trim wraps a transport and shifts every non-zero pulse by a per-pin offset
// in microseconds, for ESCs whose end points sit slightly off nominal.
type Trim struct {
	Transport

	mu      sync.Mutex
	offsets map[uint8]int
}

func NewTrim(t Transport, offsets map[uint8]int) *Trim {
	tr := &Trim{Transport: t, offsets: make(map[uint8]int)}
	for pin, offset := range offsets {
		tr.offsets[pin] = offset
	}
	return tr
}

func (t *Trim) SetOffset(pin uint8, offset int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.offsets[pin] = offset
}

func (t *Trim) Offset(pin uint8) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.offsets[pin]
}

func (t *Trim) SetPulse(pin uint8, width uint16) error {
	if width == 0 {
		return t.Transport.SetPulse(pin, 0)
	}
	return t.Transport.SetPulse(pin, trimmed(width, t.Offset(pin)))
}

func trimmed(width uint16, offset int) uint16 {
	w := int(width) + offset
	if w < MinPulse {
		w = MinPulse
	} else if w > MaxPulse {
		w = MaxPulse
	}
	return uint16(w)
}

// Close closes the wrapped transport if it can be closed.
func (t *Trim) Close() error {
	if c, ok := t.Transport.(Closer); ok {
		return c.Close()
	}
	return nil
}
