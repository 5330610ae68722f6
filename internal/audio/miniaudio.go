package audio

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/gen2brain/malgo"
)

// miniaudioMicrophone captures from the default input device through miniaudio
type miniaudioMicrophone struct {
	sampleRate int
	channels   int

	ctx    *malgo.AllocatedContext
	device *malgo.Device

	chunks  chan []byte
	pending []byte
	done    chan struct{}
	once    sync.Once
}

// NewMiniaudioMicrophone creates a microphone backed by miniaudio
func NewMiniaudioMicrophone(sampleRate, channels int) Microphone {
	return &miniaudioMicrophone{
		sampleRate: sampleRate,
		channels:   channels,
		chunks:     make(chan []byte, 64),
		done:       make(chan struct{}),
	}
}

func (m *miniaudioMicrophone) Open(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		slog.Debug("miniaudio", "message", message)
	})
	if err != nil {
		return fmt.Errorf("failed to initialize audio context: %w", err)
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatS16
	cfg.Capture.Channels = uint32(m.channels)
	cfg.SampleRate = uint32(m.sampleRate)

	device, err := malgo.InitDevice(mctx.Context, cfg, malgo.DeviceCallbacks{
		Data: m.onData,
	})
	if err != nil {
		mctx.Uninit()
		mctx.Free()
		return fmt.Errorf("failed to initialize capture device: %w", err)
	}

	if err := device.Start(); err != nil {
		device.Uninit()
		mctx.Uninit()
		mctx.Free()
		return fmt.Errorf("failed to start capture device: %w", err)
	}

	m.ctx = mctx
	m.device = device
	return nil
}

// onData runs on the miniaudio thread; input is only valid during the call
func (m *miniaudioMicrophone) onData(_, input []byte, _ uint32) {
	chunk := make([]byte, len(input))
	copy(chunk, input)

	select {
	case m.chunks <- chunk:
	default:
		slog.Debug("Dropping microphone frames, reader is behind")
	}
}

func (m *miniaudioMicrophone) Read(p []byte) (int, error) {
	if len(m.pending) == 0 {
		select {
		case chunk := <-m.chunks:
			m.pending = chunk
		case <-m.done:
			return 0, io.EOF
		}
	}

	n := copy(p, m.pending)
	m.pending = m.pending[n:]
	return n, nil
}

func (m *miniaudioMicrophone) Close() error {
	var err error
	m.once.Do(func() {
		close(m.done)
		if m.device != nil {
			err = m.device.Stop()
			m.device.Uninit()
		}
		if m.ctx != nil {
			if uerr := m.ctx.Uninit(); uerr != nil && err == nil {
				err = uerr
			}
			m.ctx.Free()
		}
	})
	return err
}
