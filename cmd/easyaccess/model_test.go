package main

import (
	"io"
	"log/slog"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/w1xm/quadpilot/internal/config"
	"github.com/w1xm/quadpilot/internal/hardware"
	"github.com/w1xm/quadpilot/pwm/simulator"
	"github.com/w1xm/quadpilot/rotor"
)

func newTestModel(t *testing.T) (Model, *simulator.Simulator) {
	t.Helper()
	sim := simulator.New()
	a, err := hardware.NewArray(sim, config.Default(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	rpm := func(pin uint8) (float64, bool) {
		ch, ok := sim.Status().Channels[pin]
		return ch.RPM, ok
	}
	return NewModel(a, rpm), sim
}

func press(t *testing.T, m Model, keys ...string) Model {
	t.Helper()
	for _, k := range keys {
		next, _ := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(k)})
		m = next.(Model)
	}
	return m
}

func throttles(a *rotor.Array) [4]int {
	return [4]int{
		a.Throttle(rotor.FrontLeft),
		a.Throttle(rotor.FrontRight),
		a.Throttle(rotor.RearLeft),
		a.Throttle(rotor.RearRight),
	}
}

func TestKeys(t *testing.T) {
	m, _ := newTestModel(t)
	assert.Contains(t, m.View(), "OFF")

	m = press(t, m, "w")
	assert.ErrorIs(t, m.lastErr, rotor.ErrNotArmed)
	assert.Contains(t, m.View(), "motors not started")

	m = press(t, m, "I")
	require.NoError(t, m.lastErr)
	assert.True(t, m.array.Armed())

	m = press(t, m, "+", "+", "+", "+", "+")
	require.NoError(t, m.lastErr)
	assert.Equal(t, [4]int{50, 50, 50, 50}, throttles(m.array))
	m = press(t, m, "-")
	assert.Equal(t, [4]int{40, 40, 40, 40}, throttles(m.array))

	// Front down: front motors slow, rear motors speed up.
	m = press(t, m, "w")
	assert.Equal(t, [4]int{36, 36, 44, 44}, throttles(m.array))

	m = press(t, m, "e")
	require.NoError(t, m.lastErr)
	assert.Equal(t, 160, m.array.TotalThrottle())

	view := m.View()
	assert.Contains(t, view, "ON")
	assert.Contains(t, view, "160")
	assert.Contains(t, view, `"e"`)

	m = press(t, m, "O")
	assert.False(t, m.array.Armed())
	assert.Contains(t, m.View(), "NA")
}

func TestRestartedMotorReportsError(t *testing.T) {
	m, _ := newTestModel(t)
	m = press(t, m, "I", "I")
	assert.Error(t, m.lastErr)
}

func TestQuitDisarms(t *testing.T) {
	m, sim := newTestModel(t)
	m = press(t, m, "I", "+")
	require.True(t, m.array.Armed())

	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEsc})
	m = next.(Model)
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
	assert.False(t, m.array.Armed())
	assert.Equal(t, uint16(0), sim.Pulse(4))
	assert.Contains(t, m.View(), "motors stopped")
}

func TestRPM(t *testing.T) {
	m, sim := newTestModel(t)
	m = press(t, m, "I")
	for i := 0; i < 5; i++ {
		m = press(t, m, "+")
	}
	sim.Step(5e9)
	assert.Greater(t, sim.Status().Channels[4].RPM, 0.0)
	assert.Contains(t, m.View(), "krpm")
}
