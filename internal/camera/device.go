package camera

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"golang.org/x/sys/unix"
)

// ErrBusy is returned when another client holds the sensor
var ErrBusy = errors.New("camera device is held by another client")

// ErrClosed is returned by calls on a closed Device
var ErrClosed = errors.New("camera device closed")

// Device is a connection to a camera. Exclusive control of the sensor is an
// advisory flock(2) on the device node so that cooperating processes (our
// preview path and the recorder subprocess) hand it over explicitly.
// Virtual sources ("test", "testsrc") have no node and always lock.
type Device struct {
	path string
	file *os.File

	mu     sync.Mutex
	locked bool
	closed bool
}

// IsVirtual reports whether path names a synthetic test source
func IsVirtual(path string) bool {
	switch strings.ToLower(path) {
	case "test", "testsrc":
		return true
	}
	return false
}

// Open connects to the camera at path and takes exclusive control of it
func Open(path string) (*Device, error) {
	d := &Device{path: path}

	if !IsVirtual(path) {
		f, err := os.OpenFile(path, os.O_RDONLY, 0)
		if err != nil {
			return nil, fmt.Errorf("failed to open camera %s: %w", path, err)
		}
		d.file = f
	}

	if err := d.Lock(); err != nil {
		d.Close()
		return nil, err
	}

	slog.Debug("Camera connected", "device", path)
	return d, nil
}

// Device returns the device node path
func (d *Device) Device() string {
	return d.path
}

// Lock takes exclusive control of the sensor
func (d *Device) Lock() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return ErrClosed
	}
	if d.locked {
		return nil
	}

	if d.file != nil {
		err := unix.Flock(int(d.file.Fd()), unix.LOCK_EX|unix.LOCK_NB)
		if errors.Is(err, unix.EWOULDBLOCK) {
			return fmt.Errorf("%w: %s", ErrBusy, d.path)
		}
		if err != nil {
			return fmt.Errorf("failed to lock camera %s: %w", d.path, err)
		}
	}

	d.locked = true
	return nil
}

// Unlock gives up exclusive control of the sensor
func (d *Device) Unlock() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return ErrClosed
	}
	if !d.locked {
		return nil
	}

	if d.file != nil {
		if err := unix.Flock(int(d.file.Fd()), unix.LOCK_UN); err != nil {
			return fmt.Errorf("failed to unlock camera %s: %w", d.path, err)
		}
	}

	d.locked = false
	return nil
}

// Locked reports whether this connection currently holds the sensor
func (d *Device) Locked() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.locked
}

// Close drops the connection, releasing the lock if held
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil
	}
	d.closed = true
	d.locked = false

	if d.file != nil {
		return d.file.Close()
	}
	return nil
}
