// Package config loads and validates the quadpilot YAML configuration.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"time"

	"github.com/w1xm/quadpilot/pwm"
	"gopkg.in/yaml.v3"
)

var ErrInvalid = errors.New("config: invalid configuration")

const (
	TransportPigpio = "pigpio"
	TransportSerial = "serial"
	TransportModbus = "modbus"
	TransportSim    = "sim"

	DriverMPU6050   = "mpu6050"
	DriverLSM6DS3TR = "lsm6ds3tr"
	DriverSim       = "sim"
)

var (
	propSizeRe = regexp.MustCompile(`^([1-9][0-9]+|[1-9])x[1-9]+(([.][1-9])*)$`)
	rotationRe = regexp.MustCompile(`^(?i)(ccw|cw)$`)
	levelRe    = regexp.MustCompile(`^(?i)(critical|error|warning|info|debug|notset)$`)
	addressRe  = regexp.MustCompile(`^0x[0-9a-f]+$`)
	axisRe     = regexp.MustCompile(`^[+-][xyz]$`)
	outputRe   = regexp.MustCompile(`^[a-zA-Z0-9]+.*$`)

	sampleRates = map[int]struct{}{1: {}, 2: {}, 4: {}, 5: {}, 8: {}, 10: {}}
)

type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	duration, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("config.Duration: failed to parse: %s", err)
	}
	*d = Duration(duration)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

type Config struct {
	Aero   Aero   `yaml:"aero"`
	ESC    ESC    `yaml:"esc"`
	Motors Motors `yaml:"motors"`
	Log    Log    `yaml:"log"`
	PWM    PWM    `yaml:"pwm"`
	Gyro   Gyro   `yaml:"gyro"`
	HTTP   HTTP   `yaml:"http"`
	Rotor  Rotor  `yaml:"rotor"`
}

type Aero struct {
	// PropSize is diameter x pitch in inches, e.g. 11x5 or 9x4.7.
	PropSize string `yaml:"propsize"`
}

// ESC throttle end points in microseconds.
type ESC struct {
	Minimum int `yaml:"minimum"`
	Maximum int `yaml:"maximum"`
}

type Motor struct {
	Pin      int    `yaml:"pin"`
	Rotation string `yaml:"rotation"`
	// Trim is added to every non-zero pulse, in microseconds.
	Trim     int    `yaml:"trim"`
}

type Motors struct {
	FrontLeft  Motor `yaml:"front_left"`
	FrontRight Motor `yaml:"front_right"`
	RearLeft   Motor `yaml:"rear_left"`
	RearRight  Motor `yaml:"rear_right"`
}

// Each returns the motors keyed by position name.
func (m Motors) Each() map[string]Motor {
	return map[string]Motor{
		"front_left":  m.FrontLeft,
		"front_right": m.FrontRight,
		"rear_left":   m.RearLeft,
		"rear_right":  m.RearRight,
	}
}

type Log struct {
	Level  string `yaml:"level"`
	// Output is a log file name; empty logs to stderr.
	Output string `yaml:"output"`
}

type PWM struct {
	Transport string `yaml:"transport"`

	// pigpio
	Addr        string `yaml:"addr"`
	SampleRate  int    `yaml:"samplerate"`
	StartDaemon bool   `yaml:"start_daemon"`

	// serial and modbus
	Port     string `yaml:"port"`
	Baud     int    `yaml:"baud"`
	SlaveID  int    `yaml:"slave_id"`
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
}

type Gyro struct {
	Driver    string   `yaml:"driver"`
	// Bus is a device path or a bus number.
	Bus       string   `yaml:"bus"`
	Address   string   `yaml:"address"`
	TiltFront string   `yaml:"tiltfront"`
	TiltLeft  string   `yaml:"tiltleft"`
	SelfCheck bool     `yaml:"selfcheck"`
	// Interval between estimator samples.
	Interval  Duration `yaml:"interval"`
}

// AddressValue is Address as a number.
func (g Gyro) AddressValue() uint16 {
	v, _ := strconv.ParseUint(g.Address, 0, 16)
	return uint16(v)
}

type HTTP struct {
	Listen    string `yaml:"listen"`
	// Control is the address of the line-based control socket; empty
	// disables it.
	Control   string `yaml:"control"`
	JWTSecret string `yaml:"jwt_secret"`
}

type Rotor struct {
	StrictParity bool     `yaml:"strict_parity"`
	Watchdog     Duration `yaml:"watchdog"`
}

func Default() *Config {
	return &Config{
		Aero: Aero{PropSize: "10x4.5"},
		ESC:  ESC{Minimum: 1068, Maximum: 1860},
		Motors: Motors{
			FrontLeft:  Motor{Pin: 4, Rotation: "cw"},
			FrontRight: Motor{Pin: 17, Rotation: "ccw"},
			RearLeft:   Motor{Pin: 22, Rotation: "ccw"},
			RearRight:  Motor{Pin: 27, Rotation: "cw"},
		},
		Log: Log{Level: "info"},
		PWM: PWM{
			Transport:  TransportPigpio,
			Addr:       "localhost:8888",
			SampleRate: 5,
			Baud:       115200,
			SlaveID:    1,
		},
		Gyro: Gyro{
			Driver:    DriverMPU6050,
			Bus:       "/dev/i2c-1",
			Address:   "0x68",
			TiltFront: "+y",
			TiltLeft:  "+x",
			Interval:  Duration(time.Millisecond),
		},
		HTTP: HTTP{
			Listen:  ":8080",
			Control: "localhost:4533",
		},
		Rotor: Rotor{Watchdog: Duration(100 * time.Millisecond)},
	}
}

// Load reads path over the defaults and validates the result.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(b)
}

func Parse(b []byte) (*Config, error) {
	c := Default()
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks every field and reports all problems at once.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(propSizeRe.MatchString(c.Aero.PropSize), "aero.propsize %q is not <diameter>x<pitch>", c.Aero.PropSize)

	check(c.ESC.Minimum > 0, "esc.minimum must be positive, got %d", c.ESC.Minimum)
	check(c.ESC.Maximum > 0, "esc.maximum must be positive, got %d", c.ESC.Maximum)
	check(c.ESC.Minimum < c.ESC.Maximum, "esc.minimum %d must be below esc.maximum %d", c.ESC.Minimum, c.ESC.Maximum)
	check(c.ESC.Maximum <= pwm.MaxPulse, "esc.maximum %d above %dus", c.ESC.Maximum, pwm.MaxPulse)
	// The percent map needs a step of at least 1us, and its zero-thrust entry
	// one step below the minimum must still be a valid pulse.
	if span := c.ESC.Maximum - c.ESC.Minimum; span > 0 {
		check(span >= 99, "esc.maximum %d must be at least 99us above esc.minimum %d", c.ESC.Maximum, c.ESC.Minimum)
		zero := float64(c.ESC.Minimum) - float64(span)/99
		check(zero >= pwm.MinPulse, "esc.minimum %d leaves the zero-thrust pulse %.0fus below %dus", c.ESC.Minimum, zero, pwm.MinPulse)
	}

	pins := make(map[int]string)
	for name, m := range c.Motors.Each() {
		check(m.Pin >= 1 && m.Pin <= pwm.MaxPin, "motors.%s.pin %d not in 1..%d", name, m.Pin, pwm.MaxPin)
		check(rotationRe.MatchString(m.Rotation), "motors.%s.rotation %q is not cw or ccw", name, m.Rotation)
		check(m.Trim >= -100 && m.Trim <= 100, "motors.%s.trim %d not in -100..100", name, m.Trim)
		if other, ok := pins[m.Pin]; ok {
			errs = append(errs, fmt.Errorf("motors.%s and motors.%s share pin %d", name, other, m.Pin))
		}
		pins[m.Pin] = name
	}

	check(levelRe.MatchString(c.Log.Level), "log.level %q unknown", c.Log.Level)
	if c.Log.Output != "" {
		check(outputRe.MatchString(c.Log.Output), "log.output %q is not a file name", c.Log.Output)
		check(filepath.Base(c.Log.Output) == c.Log.Output, "log.output %q must not contain a directory", c.Log.Output)
	}

	switch c.PWM.Transport {
	case TransportPigpio:
		_, ok := sampleRates[c.PWM.SampleRate]
		check(ok, "pwm.samplerate %d not one of 1, 2, 4, 5, 8, 10", c.PWM.SampleRate)
		check(c.PWM.Addr != "", "pwm.addr is required for pigpio")
	case TransportSerial:
		check(c.PWM.Port != "", "pwm.port is required for serial")
		check(c.PWM.Baud > 0, "pwm.baud must be positive")
	case TransportModbus:
		check(c.PWM.Port != "" || c.PWM.URL != "", "pwm.port or pwm.url is required for modbus")
		check(c.PWM.SlaveID >= 1 && c.PWM.SlaveID <= 247, "pwm.slave_id %d not in 1..247", c.PWM.SlaveID)
	case TransportSim:
	default:
		errs = append(errs, fmt.Errorf("pwm.transport %q unknown", c.PWM.Transport))
	}

	switch c.Gyro.Driver {
	case DriverMPU6050, DriverLSM6DS3TR, DriverSim:
	default:
		errs = append(errs, fmt.Errorf("gyro.driver %q unknown", c.Gyro.Driver))
	}
	check(addressRe.MatchString(c.Gyro.Address), "gyro.address %q is not a hex address", c.Gyro.Address)
	check(axisRe.MatchString(c.Gyro.TiltFront), "gyro.tiltfront %q is not [+-][xyz]", c.Gyro.TiltFront)
	check(axisRe.MatchString(c.Gyro.TiltLeft), "gyro.tiltleft %q is not [+-][xyz]", c.Gyro.TiltLeft)
	if axisRe.MatchString(c.Gyro.TiltFront) && axisRe.MatchString(c.Gyro.TiltLeft) {
		check(c.Gyro.TiltFront[1] != c.Gyro.TiltLeft[1], "gyro.tiltfront and gyro.tiltleft both use the %c axis", c.Gyro.TiltFront[1])
	}
	check(c.Gyro.Interval > 0, "gyro.interval must be positive")

	check(c.Rotor.Watchdog > 0, "rotor.watchdog must be positive")

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
}
