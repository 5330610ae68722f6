// Package audio captures microphone PCM and relays it into a recorder's
// audio track on a dedicated goroutine.
package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/audiolibrelab/camcapture/internal/hal"
)

var (
	// ErrUnavailable means no microphone stream could be opened; recording
	// continues without audio.
	ErrUnavailable = errors.New("microphone unavailable")

	// ErrTimeout means the microphone did not come up in time. Callers treat
	// it as fatal.
	ErrTimeout = errors.New("microphone setup timed out")
)

// Microphone is a source of interleaved s16le PCM
type Microphone interface {
	Open(ctx context.Context) error
	Read(p []byte) (int, error)
	Close() error
}

// Options tunes a Capture
type Options struct {
	SetupTimeout time.Duration
	BufferSize   int
}

const (
	defaultSetupTimeout = 5 * time.Second
	defaultBufferSize   = 4096
)

// Capture owns a microphone stream and relays it into a recorder sink.
// The relay loop starts only after Run, which callers invoke once the
// recorder signals that its consumption side is ready.
type Capture struct {
	sink hal.AudioSink
	mic  Microphone
	opts Options

	mu      sync.Mutex
	opened  bool
	started bool
	stopped bool
	stopCh  chan struct{}
	wg      conc.WaitGroup
}

// NewCapture creates a Capture relaying mic into sink
func NewCapture(sink hal.AudioSink, mic Microphone, opts Options) *Capture {
	if opts.SetupTimeout <= 0 {
		opts.SetupTimeout = defaultSetupTimeout
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = defaultBufferSize
	}
	return &Capture{
		sink:   sink,
		mic:    mic,
		opts:   opts,
		stopCh: make(chan struct{}),
	}
}

// SetupMicrophoneStream opens the microphone. It returns nil, an error
// wrapping ErrUnavailable, or an error wrapping ErrTimeout.
func (c *Capture) SetupMicrophoneStream(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.opts.SetupTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- c.mic.Open(ctx)
	}()

	select {
	case err := <-done:
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return fmt.Errorf("%w after %s: %v", ErrTimeout, c.opts.SetupTimeout, err)
			}
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	case <-ctx.Done():
		// Open may still succeed later; make sure the stream does not leak
		go func() {
			if err := <-done; err == nil {
				c.mic.Close()
			}
		}()
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w after %s", ErrTimeout, c.opts.SetupTimeout)
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, ctx.Err())
	}

	c.mu.Lock()
	c.opened = true
	c.mu.Unlock()

	slog.Debug("Microphone stream ready")
	return nil
}

// Init registers ready with the recorder; ready fires once the recorder can
// consume PCM, on whatever goroutine the recorder chooses.
func (c *Capture) Init(ready func()) {
	c.sink.SetAudioReadyCallback(ready)
}

// Run starts the read/relay loop. It is a no-op if the stream is not open,
// the loop already runs, or the capture was stopped.
func (c *Capture) Run() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.opened || c.started || c.stopped {
		return
	}
	c.started = true

	slog.Debug("Starting microphone reader/writer loop")
	c.wg.Go(c.relay)
}

func (c *Capture) relay() {
	buf := make([]byte, c.opts.BufferSize)
	for {
		select {
		case <-c.stopCh:
			return
		default:
		}

		n, err := c.mic.Read(buf)
		if n > 0 {
			if _, werr := c.sink.WriteAudio(buf[:n]); werr != nil {
				if !c.isStopping() {
					slog.Warn("Recorder rejected audio, stopping capture loop", "error", werr)
				}
				return
			}
		}
		if err != nil {
			if !c.isStopping() && !errors.Is(err, io.EOF) {
				slog.Warn("Microphone read failed, stopping capture loop", "error", err)
			}
			return
		}
	}
}

func (c *Capture) isStopping() bool {
	select {
	case <-c.stopCh:
		return true
	default:
		return false
	}
}

// StopCapture stops the loop and closes the microphone. It is safe to call
// before Run or more than once, and returns only after the loop has exited.
func (c *Capture) StopCapture() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		c.wg.Wait()
		return
	}
	c.stopped = true
	close(c.stopCh)
	opened := c.opened
	c.mu.Unlock()

	if opened {
		// Closing unblocks a pending Read
		if err := c.mic.Close(); err != nil {
			slog.Debug("Failed to close microphone", "error", err)
		}
	}

	c.wg.Wait()
	slog.Debug("Microphone reader/writer loop stopped")
}

// Running reports whether the relay loop was started and not yet stopped
func (c *Capture) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.started && !c.stopped
}
