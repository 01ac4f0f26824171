package lsm6ds3tr

import (
	"encoding/binary"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/w1xm/quadpilot/imu"
	"tinygo.org/x/drivers/lsm6ds3tr"
)

// fakeChip answers register reads and writes like an LSM6DS3TR.
type fakeChip struct {
	regs [128]byte
}

func (f *fakeChip) Tx(addr uint16, w, r []byte) error {
	reg := w[0]
	copy(f.regs[reg:], w[1:])
	copy(r, f.regs[reg:])
	return nil
}

func (f *fakeChip) set(reg byte, values ...int16) {
	for i, v := range values {
		binary.LittleEndian.PutUint16(f.regs[int(reg)+2*i:], uint16(v))
	}
}

func TestDevice(t *testing.T) {
	chip := &fakeChip{}
	chip.regs[lsm6ds3tr.WHO_AM_I] = 0x6A
	d, err := New(chip, 0)
	require.NoError(t, err)
	assert.Equal(t, byte(lsm6ds3tr.ACCEL_4G)|byte(lsm6ds3tr.ACCEL_SR_1666), chip.regs[lsm6ds3tr.CTRL1_XL])

	// 8197 LSB * 122 µg ≈ 1 g
	chip.set(lsm6ds3tr.OUTX_L_XL, 0, -8197, 8197)
	accel, err := d.Acceleration()
	require.NoError(t, err)
	g := 8197 * 122 * 1e-6 * imu.StandardGravity
	if diff := cmp.Diff(accel, imu.Vector{Y: -g, Z: g}, cmpopts.EquateApprox(0, 1e-9)); diff != "" {
		t.Errorf("unexpected acceleration: got(-)/want(+):\n%s", diff)
	}

	// 17.5 m°/s per LSB at ±500 °/s.
	chip.set(lsm6ds3tr.OUTX_L_G, 400, 0, -40)
	rot, err := d.Rotation()
	require.NoError(t, err)
	if diff := cmp.Diff(rot, imu.Vector{X: 7, Z: -0.7}, cmpopts.EquateApprox(0, 1e-9)); diff != "" {
		t.Errorf("unexpected rotation: got(-)/want(+):\n%s", diff)
	}

	chip.set(lsm6ds3tr.OUT_TEMP_L, 256)
	temp, err := d.Temperature()
	require.NoError(t, err)
	assert.Equal(t, 26.0, temp)
}

func TestNotConnected(t *testing.T) {
	_, err := New(&fakeChip{}, 0x6B)
	assert.Error(t, err)
}
