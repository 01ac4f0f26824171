package main

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/w1xm/quadpilot/rotor"
)

const (
	throttleStep = 10
	refresh      = 200 * time.Millisecond
	legend       = "I: ignite | O: off | w: front | a: left | s: rear | d: right | q: ccw | e: cw | +: up | -: down | esc: quit"
)

var (
	titleStyle    = lipgloss.NewStyle().Bold(true)
	legendStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("15")).Background(lipgloss.Color("#aa0066"))
	throttleStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("0")).Background(lipgloss.Color("11")).Width(10).Align(lipgloss.Center)
	inputStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("0")).Background(lipgloss.Color("15"))
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

type tickMsg time.Time

func tick() tea.Cmd {
	return tea.Tick(refresh, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// Model drives the rotor array from single key presses.
type Model struct {
	array *rotor.Array
	// rpm reports a motor's speed when the transport can tell.
	rpm func(pin uint8) (float64, bool)

	lastKey  string
	lastAt   time.Time
	lastErr  error
	quitting bool
}

func NewModel(array *rotor.Array, rpm func(pin uint8) (float64, bool)) Model {
	return Model{array: array, rpm: rpm}
}

func (m Model) Init() tea.Cmd {
	return tick()
}

// handle runs the maneuver bound to key.
func (m Model) handle(key string) error {
	a := m.array
	switch key {
	case "I":
		return a.TurnOn()
	case "O":
		return a.TurnOff()
	case "w":
		return a.Tilt(rotor.Front, throttleStep)
	case "s":
		return a.Tilt(rotor.Front, -throttleStep)
	case "a":
		return a.Tilt(rotor.Left, throttleStep)
	case "d":
		return a.Tilt(rotor.Left, -throttleStep)
	case "q":
		return a.Yaw(-throttleStep)
	case "e":
		return a.Yaw(throttleStep)
	case "+":
		return a.OverallThrottle(a.TotalThrottle()/4 + throttleStep)
	case "-":
		return a.OverallThrottle(a.TotalThrottle()/4 - throttleStep)
	}
	return nil
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tickMsg:
		return m, tick()
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			m.lastErr = m.array.TurnOff()
			m.quitting = true
			return m, tea.Quit
		}
		m.lastKey = msg.String()
		m.lastAt = time.Now()
		m.lastErr = m.handle(m.lastKey)
	}
	return m, nil
}

func (m Model) motor(p rotor.Position, armed bool) string {
	if !armed {
		return throttleStyle.Render("NA")
	}
	s := fmt.Sprintf("%d", m.array.Throttle(p))
	if m.rpm != nil {
		if rpm, ok := m.rpm(m.array.Channel(p).Pin()); ok {
			s += "\n" + humanize.SIWithDigits(rpm, 1, "rpm")
		}
	}
	return throttleStyle.Render(s)
}

func (m Model) View() string {
	armed := m.array.Armed()
	state, total := "OFF", "NA"
	if armed {
		state, total = "ON", fmt.Sprintf("%d", m.array.TotalThrottle())
	}
	input := "Input: "
	if m.lastKey != "" {
		input += fmt.Sprintf("%q %s", m.lastKey, humanize.Time(m.lastAt))
	}

	top := lipgloss.JoinHorizontal(lipgloss.Top, m.motor(rotor.FrontLeft, armed), " ", m.motor(rotor.FrontRight, armed))
	bottom := lipgloss.JoinHorizontal(lipgloss.Top, m.motor(rotor.RearLeft, armed), " ", m.motor(rotor.RearRight, armed))
	width := lipgloss.Width(top)
	center := func(s string) string { return lipgloss.PlaceHorizontal(width, lipgloss.Center, s) }

	lines := []string{
		titleStyle.Render("Easy Access"),
		strings.Repeat("-", len(legend)),
		legendStyle.Render(legend),
		strings.Repeat("-", len(legend)),
		inputStyle.Render(input),
		center(throttleStyle.Render(state)),
		"",
		top,
		center(throttleStyle.Render(total)),
		bottom,
	}
	if m.lastErr != nil {
		lines = append(lines, "", errorStyle.Render(m.lastErr.Error()))
	}
	if m.quitting {
		lines = append(lines, "", "motors stopped")
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...) + "\n"
}
