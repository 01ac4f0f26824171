// Package simulator provides a deterministic IMU for tests and bench runs
// without hardware: gravity on z, seeded noise and scripted impulses.
package simulator

import (
	"math/rand/v2"
	"sync"

	"github.com/w1xm/quadpilot/imu"
)

// Impulse adds Accel and Rotation to the next Samples readings.
type Impulse struct {
	Accel    imu.Vector
	Rotation imu.Vector
	Samples  int
}

type Sensor struct {
	mu          sync.Mutex
	rng         *rand.Rand
	noise       float64
	gravity     imu.Vector
	temperature float64
	impulses    []Impulse
	err         error
	reads       int
}

func WithNoise(amplitude float64) func(s *Sensor) {
	return func(s *Sensor) {
		s.noise = amplitude
	}
}

func WithTemperature(celsius float64) func(s *Sensor) {
	return func(s *Sensor) {
		s.temperature = celsius
	}
}

// WithGravity overrides the resting acceleration, e.g. for a sensor
// mounted upside down.
func WithGravity(g imu.Vector) func(s *Sensor) {
	return func(s *Sensor) {
		s.gravity = g
	}
}

func New(seed uint64, opts ...func(s *Sensor)) *Sensor {
	s := &Sensor{
		rng:         rand.New(rand.NewPCG(seed, seed)),
		noise:       0.05,
		gravity:     imu.Vector{Z: imu.StandardGravity},
		temperature: 24.6,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Push queues an impulse after those already queued.
func (s *Sensor) Push(i Impulse) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.impulses = append(s.impulses, i)
}

// Fail makes every following read return err. A nil error heals the sensor.
func (s *Sensor) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// Reads counts successful acceleration and rotation reads.
func (s *Sensor) Reads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads
}

func (s *Sensor) jitter() imu.Vector {
	n := func() float64 { return (s.rng.Float64()*2 - 1) * s.noise }
	return imu.Vector{X: n(), Y: n(), Z: n()}
}

func (s *Sensor) Acceleration() (imu.Vector, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return imu.Vector{}, s.err
	}
	s.reads++
	v := s.gravity.Add(s.jitter())
	if len(s.impulses) > 0 {
		v = v.Add(s.impulses[0].Accel)
	}
	return v, nil
}

// Rotation also advances the impulse script, so read acceleration first.
func (s *Sensor) Rotation() (imu.Vector, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return imu.Vector{}, s.err
	}
	s.reads++
	v := s.jitter()
	if len(s.impulses) > 0 {
		v = v.Add(s.impulses[0].Rotation)
		s.impulses[0].Samples--
		if s.impulses[0].Samples <= 0 {
			s.impulses = s.impulses[1:]
		}
	}
	return v, nil
}

func (s *Sensor) Temperature() (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return 0, s.err
	}
	return s.temperature, nil
}
