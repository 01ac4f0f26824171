package imu_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/w1xm/quadpilot/imu"
	"github.com/w1xm/quadpilot/imu/simulator"
)

var fast = imu.CheckOptions{Interval: time.Microsecond}

func TestParseDirection(t *testing.T) {
	for _, test := range []struct {
		in   string
		want imu.Direction
	}{
		{"+x", imu.Direction{Axis: imu.X}},
		{"-y", imu.Direction{Axis: imu.Y, Negative: true}},
		{"+z", imu.Direction{Axis: imu.Z}},
	} {
		got, err := imu.ParseDirection(test.in)
		require.NoError(t, err, test.in)
		assert.Equal(t, test.want, got)
		assert.Equal(t, test.in, got.String())
	}
	for _, bad := range []string{"", "x", "+w", "*x", "+xy"} {
		_, err := imu.ParseDirection(bad)
		assert.Error(t, err, bad)
	}
}

func TestOrientation(t *testing.T) {
	o, err := imu.ParseOrientation("-y", "+x")
	require.NoError(t, err)
	front, left := o.Tilt(imu.Vector{X: 1, Y: 2, Z: 3})
	assert.Equal(t, -2.0, front)
	assert.Equal(t, 1.0, left)

	_, err = imu.ParseOrientation("+x", "-x")
	assert.Error(t, err)
}

func TestSelfCheckPasses(t *testing.T) {
	require.NoError(t, imu.SelfCheck(context.Background(), simulator.New(1), fast))

	upsideDown := simulator.New(1, simulator.WithGravity(imu.Vector{Z: -imu.StandardGravity}))
	require.NoError(t, imu.SelfCheck(context.Background(), upsideDown, fast))
}

func TestSelfCheckFails(t *testing.T) {
	for name, sensor := range map[string]*simulator.Sensor{
		"cold":   simulator.New(1, simulator.WithTemperature(9.4)),
		"hot":    simulator.New(1, simulator.WithTemperature(39.6)),
		"tilted": simulator.New(1, simulator.WithGravity(imu.Vector{X: 5, Z: 8.5})),
		"noisy":  simulator.New(1, simulator.WithNoise(200)),
	} {
		t.Run(name, func(t *testing.T) {
			err := imu.SelfCheck(context.Background(), sensor, fast)
			assert.ErrorIs(t, err, imu.ErrSelfCheck)
		})
	}
}

func TestSelfCheckRotating(t *testing.T) {
	sensor := simulator.New(1)
	sensor.Push(simulator.Impulse{Rotation: imu.Vector{Z: 30}, Samples: 50})
	assert.ErrorIs(t, imu.SelfCheck(context.Background(), sensor, fast), imu.ErrSelfCheck)
}

func TestSelfCheckReadError(t *testing.T) {
	sensor := simulator.New(1)
	broken := errors.New("no ack")
	sensor.Fail(broken)
	err := imu.SelfCheck(context.Background(), sensor, fast)
	assert.ErrorIs(t, err, broken)
	assert.NotErrorIs(t, err, imu.ErrSelfCheck)
}

func TestSelfCheckCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, imu.SelfCheck(ctx, simulator.New(1), fast), context.Canceled)
}
