package audio

import (
	"fmt"
	"strings"

	"github.com/audiolibrelab/camcapture/internal/config"
)

// BackendType represents the type of microphone backend
type BackendType string

const (
	BackendTypePipeWire  BackendType = config.AudioBackendPipeWire
	BackendTypeMiniaudio BackendType = config.AudioBackendMiniaudio
	BackendTypeWAV       BackendType = config.AudioBackendWAV
	BackendTypeTone      BackendType = config.AudioBackendTone
	BackendTypeDisabled  BackendType = config.AudioBackendDisabled
)

// NewMicrophone creates a microphone using the backend named in cfg
func NewMicrophone(cfg config.AudioConfig) (Microphone, error) {
	switch determineBackend(cfg) {
	case BackendTypePipeWire:
		return NewPipeWireMicrophone(cfg.Source, cfg.SampleRate, cfg.Channels), nil
	case BackendTypeMiniaudio:
		return NewMiniaudioMicrophone(cfg.SampleRate, cfg.Channels), nil
	case BackendTypeWAV:
		return NewWAVMicrophone(cfg.File, cfg.SampleRate, cfg.Channels), nil
	case BackendTypeTone:
		return NewToneMicrophone(cfg.SampleRate, cfg.Channels, 440), nil
	case BackendTypeDisabled:
		return nil, fmt.Errorf("%w: audio disabled by configuration", ErrUnavailable)
	default:
		return nil, fmt.Errorf("%w: unknown backend %q", ErrUnavailable, cfg.Backend)
	}
}

// determineBackend determines which backend to use based on configuration
func determineBackend(cfg config.AudioConfig) BackendType {
	if cfg.Backend == "" {
		return BackendTypePipeWire
	}
	return BackendType(strings.ToLower(cfg.Backend))
}

// GetAvailableBackends returns the backends compiled into this binary
func GetAvailableBackends() []BackendType {
	return []BackendType{
		BackendTypePipeWire,
		BackendTypeMiniaudio,
		BackendTypeWAV,
		BackendTypeTone,
		BackendTypeDisabled,
	}
}
