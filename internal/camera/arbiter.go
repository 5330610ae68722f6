package camera

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/audiolibrelab/camcapture/internal/hal"
)

// ErrNotConnected is returned when no camera connection exists
var ErrNotConnected = errors.New("no camera connection")

// Arbiter mediates the sensor between preview/focus use and the recorder.
// It remembers whether the sensor was handed to the recorder so release and
// reacquire pair exactly once per recording.
type Arbiter struct {
	mu       sync.Mutex
	conn     hal.CameraControl
	released bool
}

// NewArbiter creates an Arbiter over conn, which may be nil until connected
func NewArbiter(conn hal.CameraControl) *Arbiter {
	return &Arbiter{conn: conn}
}

// Connection returns the current camera connection, or nil
func (a *Arbiter) Connection() hal.CameraControl {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.conn
}

// SetConnection swaps the camera connection. It refuses while the sensor is
// handed to the recorder.
func (a *Arbiter) SetConnection(conn hal.CameraControl) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.released {
		return fmt.Errorf("camera is in use by the recorder")
	}
	a.conn = conn
	return nil
}

// ReleaseForRecording relinquishes the sensor so the recorder can bind it
func (a *Arbiter) ReleaseForRecording() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.conn == nil {
		return ErrNotConnected
	}
	if a.released {
		slog.Warn("Camera already released to the recorder")
		return nil
	}

	if err := a.conn.Unlock(); err != nil {
		return fmt.Errorf("failed to release camera for recording: %w", err)
	}
	a.released = true
	slog.Debug("Camera released for recording", "device", a.conn.Device())
	return nil
}

// ReacquireAfterRecording restores exclusive control for preview and focus.
// It is a no-op unless the sensor was released.
func (a *Arbiter) ReacquireAfterRecording() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.released {
		return nil
	}
	if a.conn == nil {
		a.released = false
		return ErrNotConnected
	}
	// Stays released on failure so the next session retries the lock
	if err := a.conn.Lock(); err != nil {
		return fmt.Errorf("failed to reacquire camera after recording: %w", err)
	}
	a.released = false
	slog.Debug("Camera reacquired after recording", "device", a.conn.Device())
	return nil
}

// Released reports whether the sensor is currently handed to the recorder
func (a *Arbiter) Released() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.released
}
