package audio

import (
	"context"
	"encoding/binary"
	"io"
	"math"
	"sync"
	"time"
)

const toneChunkFrames = 480

// toneMicrophone generates a continuous sine wave in real time
type toneMicrophone struct {
	sampleRate int
	channels   int
	frequency  float64

	phase   float64
	pending []byte
	ticker  *time.Ticker

	done chan struct{}
	once sync.Once
}

// NewToneMicrophone creates a synthetic microphone producing a sine tone
func NewToneMicrophone(sampleRate, channels int, frequency float64) Microphone {
	return &toneMicrophone{
		sampleRate: sampleRate,
		channels:   channels,
		frequency:  frequency,
		done:       make(chan struct{}),
	}
}

func (m *toneMicrophone) Open(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	interval := time.Duration(toneChunkFrames) * time.Second / time.Duration(m.sampleRate)
	m.ticker = time.NewTicker(interval)
	return nil
}

func (m *toneMicrophone) Read(p []byte) (int, error) {
	if len(m.pending) == 0 {
		select {
		case <-m.done:
			return 0, io.EOF
		case <-m.ticker.C:
		}
		m.pending = m.generate(toneChunkFrames)
	}

	n := copy(p, m.pending)
	m.pending = m.pending[n:]
	return n, nil
}

func (m *toneMicrophone) generate(frames int) []byte {
	out := make([]byte, frames*m.channels*2)
	step := 2 * math.Pi * m.frequency / float64(m.sampleRate)
	for i := 0; i < frames; i++ {
		sample := int16(math.Sin(m.phase) * 0.25 * math.MaxInt16)
		for ch := 0; ch < m.channels; ch++ {
			binary.LittleEndian.PutUint16(out[(i*m.channels+ch)*2:], uint16(sample))
		}
		m.phase += step
		if m.phase > 2*math.Pi {
			m.phase -= 2 * math.Pi
		}
	}
	return out
}

func (m *toneMicrophone) Close() error {
	m.once.Do(func() {
		close(m.done)
		if m.ticker != nil {
			m.ticker.Stop()
		}
	})
	return nil
}
