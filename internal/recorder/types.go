// Package recorder implements the recording session controller: it sequences
// recorder acquisition, audio capture, output files and camera arbitration,
// and reports progress to a Listener.
package recorder

import (
	"context"
	"fmt"
	"time"

	"github.com/audiolibrelab/camcapture/internal/hal"
	"github.com/audiolibrelab/camcapture/internal/storage"
)

// State is the client-visible recording mode
type State int

const (
	StateStopped State = iota
	StateRecording
	StatePaused
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateRecording:
		return "recording"
	case StatePaused:
		return "paused"
	default:
		return "unknown"
	}
}

// Status is the fine-grained lifecycle phase of a session
type Status int

const (
	StatusUnloaded Status = iota
	StatusLoading
	StatusLoaded
	StatusStarting
	StatusRecording
	StatusFinalizing
)

func (s Status) String() string {
	switch s {
	case StatusUnloaded:
		return "unloaded"
	case StatusLoading:
		return "loading"
	case StatusLoaded:
		return "loaded"
	case StatusStarting:
		return "starting"
	case StatusRecording:
		return "recording"
	case StatusFinalizing:
		return "finalizing"
	default:
		return "unknown"
	}
}

// ErrorCode classifies errors reported to listeners
type ErrorCode int

const (
	GeneralError ErrorCode = iota
	NotAvailableError
	InitializationError
)

func (c ErrorCode) String() string {
	switch c {
	case GeneralError:
		return "general"
	case NotAvailableError:
		return "not-available"
	case InitializationError:
		return "initialization"
	default:
		return "unknown"
	}
}

// Error is returned to synchronous callers alongside the listener notification
type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Listener receives session notifications on the controller goroutine.
// Implementations must not call back into the Controller synchronously.
type Listener interface {
	StateChanged(state State)
	StatusChanged(status Status)
	DurationChanged(ms int64)
	ActualLocationChanged(location string)
	Error(code ErrorCode, message string)
}

// AudioWorker captures microphone audio into a recorder
type AudioWorker interface {
	SetupMicrophoneStream(ctx context.Context) error
	Init(ready func())
	Run()
	StopCapture()
}

// AudioWorkerFactory creates an AudioWorker feeding sink
type AudioWorkerFactory func(sink hal.AudioSink) (AudioWorker, error)

// CameraArbiter hands the camera sensor to the recorder and back
type CameraArbiter interface {
	Connection() hal.CameraControl
	ReleaseForRecording() error
	ReacquireAfterRecording() error
}

// Storage names new recordings
type Storage interface {
	NextVideoFileName(directory string) (string, error)
}

// Metadata supplies per-recording metadata that is consumed once
type Metadata interface {
	Orientation() int
	Location() (storage.Location, bool)
	ClearAllMetaData()
}

// VideoSettings are the encoder settings applied to the next recording
type VideoSettings struct {
	Width     int
	Height    int
	FrameRate int
	Bitrate   int
}

// AudioSettings are the audio encoder parameters handed to the recorder
type AudioSettings struct {
	Bitrate    int
	Channels   int
	SampleRate int
}

// Ticker delivers duration ticks
type Ticker interface {
	Chan() <-chan time.Time
	Stop()
}

type timeTicker struct {
	*time.Ticker
}

func (t timeTicker) Chan() <-chan time.Time {
	return t.C
}

func newTimeTicker(d time.Duration) Ticker {
	return timeTicker{time.NewTicker(d)}
}

// nopListener drops every notification
type nopListener struct{}

func (nopListener) StateChanged(State)           {}
func (nopListener) StatusChanged(Status)         {}
func (nopListener) DurationChanged(int64)        {}
func (nopListener) ActualLocationChanged(string) {}
func (nopListener) Error(ErrorCode, string)      {}
