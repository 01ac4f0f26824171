//go:build linux

package i2c

import (
	"fmt"
	"runtime"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

const ioctlRdwr = 0x0707

type Bus struct {
	path string

	mu sync.Mutex
	fd int
}

// Open opens the bus character device, e.g. /dev/i2c-1.
func Open(path string) (*Bus, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	return &Bus{path: path, fd: fd}, nil
}

// Tx writes w to the device at addr and then reads len(r) bytes, as one
// transaction with a repeated start.
func (b *Bus) Tx(addr uint16, w, r []byte) error {
	msgs, err := messages(addr, w, r)
	if err != nil {
		return err
	}
	data := rdwr{msgs: &msgs[0], nmsgs: uint32(len(msgs))}

	b.mu.Lock()
	defer b.mu.Unlock()
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(b.fd), ioctlRdwr, uintptr(unsafe.Pointer(&data)))
	runtime.KeepAlive(msgs)
	runtime.KeepAlive(w)
	runtime.KeepAlive(r)
	if errno != 0 {
		return fmt.Errorf("%s: transfer to 0x%02x: %w", b.path, addr, errno)
	}
	return nil
}

func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return unix.Close(b.fd)
}
