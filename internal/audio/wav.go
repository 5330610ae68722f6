package audio

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const wavChunkFrames = 1024

// wavMicrophone replays a WAV file in real time, looping at the end
type wavMicrophone struct {
	path       string
	sampleRate int
	channels   int

	file    *os.File
	decoder *wav.Decoder
	shift   uint
	buf     *audio.IntBuffer
	pending []byte
	ticker  *time.Ticker

	mu   sync.Mutex
	done chan struct{}
	once sync.Once
}

// NewWAVMicrophone creates a microphone replaying the WAV file at path. The
// file must match the configured sample rate and channel count.
func NewWAVMicrophone(path string, sampleRate, channels int) Microphone {
	return &wavMicrophone{
		path:       path,
		sampleRate: sampleRate,
		channels:   channels,
		done:       make(chan struct{}),
	}
}

func (m *wavMicrophone) Open(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := m.openDecoder(); err != nil {
		return err
	}

	m.buf = &audio.IntBuffer{
		Format: &audio.Format{NumChannels: m.channels, SampleRate: m.sampleRate},
		Data:   make([]int, wavChunkFrames*m.channels),
	}
	interval := time.Duration(wavChunkFrames) * time.Second / time.Duration(m.sampleRate)
	m.ticker = time.NewTicker(interval)
	return nil
}

func (m *wavMicrophone) openDecoder() error {
	f, err := os.Open(m.path)
	if err != nil {
		return fmt.Errorf("failed to open audio file: %w", err)
	}

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		f.Close()
		return fmt.Errorf("not a valid WAV file: %s", m.path)
	}
	if int(dec.SampleRate) != m.sampleRate || int(dec.NumChans) != m.channels {
		f.Close()
		return fmt.Errorf("WAV file is %d Hz/%d ch, expected %d Hz/%d ch",
			dec.SampleRate, dec.NumChans, m.sampleRate, m.channels)
	}
	if dec.BitDepth < 16 {
		f.Close()
		return fmt.Errorf("unsupported WAV bit depth: %d", dec.BitDepth)
	}
	if err := dec.FwdToPCM(); err != nil {
		f.Close()
		return fmt.Errorf("failed to locate PCM data: %w", err)
	}

	if m.file != nil {
		m.file.Close()
	}
	m.file = f
	m.decoder = dec
	m.shift = uint(dec.BitDepth - 16)
	return nil
}

func (m *wavMicrophone) Read(p []byte) (int, error) {
	if len(m.pending) == 0 {
		select {
		case <-m.done:
			return 0, io.EOF
		case <-m.ticker.C:
		}
		m.mu.Lock()
		err := m.fill()
		m.mu.Unlock()
		if err != nil {
			return 0, err
		}
	}

	n := copy(p, m.pending)
	m.pending = m.pending[n:]
	return n, nil
}

// fill decodes the next chunk into pending as s16le, rewinding at EOF.
// Callers hold mu.
func (m *wavMicrophone) fill() error {
	if m.file == nil {
		return io.EOF
	}
	for attempt := 0; attempt < 2; attempt++ {
		n, err := m.decoder.PCMBuffer(m.buf)
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("failed to decode audio: %w", err)
		}
		if n > 0 {
			out := make([]byte, n*2)
			for i, sample := range m.buf.Data[:n] {
				binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(sample>>m.shift)))
			}
			m.pending = out
			return nil
		}
		if err := m.openDecoder(); err != nil {
			return err
		}
	}
	return io.EOF
}

func (m *wavMicrophone) Close() error {
	var err error
	m.once.Do(func() {
		close(m.done)
		if m.ticker != nil {
			m.ticker.Stop()
		}
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.file != nil {
			err = m.file.Close()
			m.file = nil
		}
	})
	return err
}
