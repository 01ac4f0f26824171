package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/w1xm/quadpilot/motor"
	"github.com/w1xm/quadpilot/pwm"
)

func TestLoadExample(t *testing.T) {
	c, err := Load(filepath.Join("..", "..", "config.example.yaml"))
	require.NoError(t, err)

	want := Default()
	want.Motors.RearRight.Trim = 4
	want.Log.Output = "quadpilot.log"
	want.Gyro.SelfCheck = true
	if diff := cmp.Diff(c, want); diff != "" {
		t.Errorf("unexpected config: got(-)/want(+):\n%s", diff)
	}
}

func TestDefaultIsValid(t *testing.T) {
	assert.NoError(t, Default().Validate())
}

func TestParseOverridesDefaults(t *testing.T) {
	c, err := Parse([]byte(`
pwm:
  transport: serial
  port: /dev/ttyUSB0
gyro:
  driver: lsm6ds3tr
  address: "0x6a"
  interval: 2ms
rotor:
  watchdog: 250ms
`))
	require.NoError(t, err)
	assert.Equal(t, TransportSerial, c.PWM.Transport)
	assert.Equal(t, 115200, c.PWM.Baud)
	assert.Equal(t, uint16(0x6a), c.Gyro.AddressValue())
	assert.Equal(t, Duration(2*time.Millisecond), c.Gyro.Interval)
	assert.Equal(t, Duration(250*time.Millisecond), c.Rotor.Watchdog)
	assert.Equal(t, 1068, c.ESC.Minimum)
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	_, err := Parse([]byte("esc:\n  minimun: 1000\n"))
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestParseRejectsBadDuration(t *testing.T) {
	_, err := Parse([]byte("rotor:\n  watchdog: soon\n"))
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestValidate(t *testing.T) {
	for _, test := range []struct {
		name   string
		modify func(c *Config)
		want   string
	}{
		{"propsize", func(c *Config) { c.Aero.PropSize = "10x0" }, "aero.propsize"},
		{"propsize decimal", func(c *Config) { c.Aero.PropSize = "010x4" }, "aero.propsize"},
		{"esc order", func(c *Config) { c.ESC.Minimum, c.ESC.Maximum = 1900, 1100 }, "must be below"},
		{"esc ceiling", func(c *Config) { c.ESC.Maximum = 3000 }, "above 2500us"},
		{"esc span", func(c *Config) { c.ESC.Minimum, c.ESC.Maximum = 1000, 1050 }, "at least 99us above"},
		{"esc zero pulse", func(c *Config) { c.ESC.Minimum, c.ESC.Maximum = 500, 2000 }, "zero-thrust pulse 485us"},
		{"esc zero is stop", func(c *Config) { c.ESC.Minimum, c.ESC.Maximum = 1, 2500 }, "zero-thrust pulse"},
		{"pin", func(c *Config) { c.Motors.FrontLeft.Pin = 0 }, "motors.front_left.pin"},
		{"pin above gpio", func(c *Config) { c.Motors.FrontLeft.Pin = 32 }, "not in 1..31"},
		{"watchdog off", func(c *Config) { c.Rotor.Watchdog = 0 }, "rotor.watchdog"},
		{"rotation", func(c *Config) { c.Motors.RearLeft.Rotation = "left" }, "motors.rear_left.rotation"},
		{"trim", func(c *Config) { c.Motors.RearRight.Trim = 150 }, "motors.rear_right.trim"},
		{"shared pin", func(c *Config) { c.Motors.FrontRight.Pin = 4 }, "share pin 4"},
		{"level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
		{"output dir", func(c *Config) { c.Log.Output = "logs/quadpilot.log" }, "must not contain a directory"},
		{"output name", func(c *Config) { c.Log.Output = ".hidden" }, "not a file name"},
		{"transport", func(c *Config) { c.PWM.Transport = "i2c" }, "pwm.transport"},
		{"samplerate", func(c *Config) { c.PWM.SampleRate = 3 }, "pwm.samplerate"},
		{"serial port", func(c *Config) { c.PWM.Transport = TransportSerial }, "pwm.port"},
		{"modbus target", func(c *Config) { c.PWM.Transport = TransportModbus }, "pwm.port or pwm.url"},
		{"driver", func(c *Config) { c.Gyro.Driver = "bmi160" }, "gyro.driver"},
		{"address", func(c *Config) { c.Gyro.Address = "68" }, "gyro.address"},
		{"tilt axis", func(c *Config) { c.Gyro.TiltFront = "y" }, "gyro.tiltfront"},
		{"tilt same axis", func(c *Config) { c.Gyro.TiltLeft = "-y" }, "both use the y axis"},
		{"interval", func(c *Config) { c.Gyro.Interval = 0 }, "gyro.interval"},
	} {
		t.Run(test.name, func(t *testing.T) {
			c := Default()
			test.modify(c)
			err := c.Validate()
			require.ErrorIs(t, err, ErrInvalid)
			assert.Contains(t, err.Error(), test.want)
		})
	}
}

// Any end points that pass validation give a usable percent map.
func TestValidESCMapsCleanly(t *testing.T) {
	for _, esc := range []ESC{{1068, 1860}, {600, 699}, {510, 1500}, {1000, 2500}} {
		c := Default()
		c.ESC = esc
		require.NoError(t, c.Validate(), "%+v", esc)
		m := motor.NewPercentMap(uint16(esc.Minimum), uint16(esc.Maximum))
		assert.GreaterOrEqual(t, int(m[0]), pwm.MinPulse, "%+v", esc)
		for p := 1; p < len(m); p++ {
			assert.Greater(t, m[p], m[p-1], "%+v at %d%%", esc, p)
		}
	}
}

func TestValidateReportsEverything(t *testing.T) {
	c := Default()
	c.Aero.PropSize = "big"
	c.Log.Level = "loud"
	c.Gyro.Driver = "bmi160"
	err := c.Validate()
	require.ErrorIs(t, err, ErrInvalid)
	for _, want := range []string{"aero.propsize", "log.level", "gyro.driver"} {
		assert.True(t, strings.Contains(err.Error(), want), want)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestParseEmpty(t *testing.T) {
	c, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), c)
}
