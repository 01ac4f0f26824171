// Package i2c is a Linux userspace I2C bus on /dev/i2c-N. A Bus satisfies
// tinygo.org/x/drivers.I2C, so the tinygo sensor drivers run on it unchanged.
package i2c

import (
	"errors"
	"fmt"
)

var ErrUnsupported = errors.New("i2c: not supported on this platform")

// Path of the character device for bus n.
func Path(n int) string {
	return fmt.Sprintf("/dev/i2c-%d", n)
}

const (
	flagRead = 0x0001
	// maxMessageLen is the largest transfer a single i2c_msg can describe.
	maxMessageLen = 0xFFFF
)

// msg mirrors struct i2c_msg from <linux/i2c.h>.
type msg struct {
	addr  uint16
	flags uint16
	len   uint16
	buf   *byte
}

// rdwr mirrors struct i2c_rdwr_ioctl_data.
type rdwr struct {
	msgs  *msg
	nmsgs uint32
}

// messages builds the combined write-then-read transaction for Tx.
func messages(addr uint16, w, r []byte) ([]msg, error) {
	if len(w) > maxMessageLen || len(r) > maxMessageLen {
		return nil, fmt.Errorf("i2c: transfer of %d/%d bytes too long", len(w), len(r))
	}
	var msgs []msg
	if len(w) > 0 {
		msgs = append(msgs, msg{addr: addr, len: uint16(len(w)), buf: &w[0]})
	}
	if len(r) > 0 {
		msgs = append(msgs, msg{addr: addr, flags: flagRead, len: uint16(len(r)), buf: &r[0]})
	}
	if len(msgs) == 0 {
		return nil, errors.New("i2c: empty transaction")
	}
	return msgs, nil
}
