// Package hal defines the contracts between the recording session and the
// device-level encoder/muxer, camera and audio plumbing.
package hal

import (
	"errors"
	"fmt"
	"os"
)

// ErrInvalidState is returned when a Recorder call arrives out of protocol order
var ErrInvalidState = errors.New("recorder call out of order")

// ErrReleased is returned by any call on a released Recorder
var ErrReleased = errors.New("recorder already released")

// AudioSource selects where the recorder pulls audio from
type AudioSource int

const (
	AudioSourceDefault AudioSource = iota
	AudioSourceMic
	AudioSourceCamcorder
)

// VideoSource selects where the recorder pulls video from
type VideoSource int

const (
	VideoSourceDefault VideoSource = iota
	VideoSourceCamera
)

// OutputFormat is the container written by the recorder
type OutputFormat int

const (
	OutputFormatDefault OutputFormat = iota
	OutputFormatMPEG4
)

// AudioEncoder is the codec used for the audio track
type AudioEncoder int

const (
	AudioEncoderDefault AudioEncoder = iota
	AudioEncoderAAC
)

// VideoEncoder is the codec used for the video track
type VideoEncoder int

const (
	VideoEncoderDefault VideoEncoder = iota
	VideoEncoderH264
)

// CameraControl is the connection to a camera device shared between the
// preview path and the recorder.
type CameraControl interface {
	// Device returns the device node or source name the recorder should bind
	Device() string

	// Lock takes exclusive control of the sensor
	Lock() error

	// Unlock gives up exclusive control so another client can bind the sensor
	Unlock() error
}

// AudioSink is the consumption side of a recorder's audio track.
type AudioSink interface {
	// SetAudioReadyCallback registers cb to be invoked once the recorder is
	// ready to consume PCM. cb may run on any goroutine.
	SetAudioReadyCallback(cb func())

	// WriteAudio feeds interleaved little-endian s16 PCM to the recorder
	WriteAudio(p []byte) (int, error)
}

// Recorder is a device-level video+audio encoder/muxer session. Calls must
// follow the configure-then-start order:
//
//	SetCamera, SetAudioSource, SetVideoSource, SetOutputFormat,
//	SetAudioEncoder, SetVideoEncoder, SetOutputFile, SetVideoSize,
//	SetVideoFrameRate, SetParameters, Prepare, Start, Stop, Reset, Release
type Recorder interface {
	AudioSink

	SetCamera(cam CameraControl) error
	SetAudioSource(src AudioSource) error
	SetVideoSource(src VideoSource) error
	SetOutputFormat(format OutputFormat) error
	SetAudioEncoder(enc AudioEncoder) error
	SetVideoEncoder(enc VideoEncoder) error
	SetOutputFile(f *os.File) error
	SetVideoSize(width, height int) error
	SetVideoFrameRate(fps int) error
	SetParameters(kv string) error
	Prepare() error
	Start() error
	Stop() error
	Reset() error
	Release()

	// SetErrorCallback registers cb to be invoked when the recorder fails
	// asynchronously. cb may run on any goroutine.
	SetErrorCallback(cb func())
}

// RecorderFactory creates a new Recorder handle
type RecorderFactory func() (Recorder, error)

// Parameter keys understood by recorders
const (
	ParamVideoBitrate  = "video-param-encoding-bitrate"
	ParamAudioBitrate  = "audio-param-encoding-bitrate"
	ParamAudioChannels = "audio-param-number-of-channels"
	ParamAudioSampling = "audio-param-sampling-rate"
	ParamLatitude      = "param-geotag-latitude"
	ParamLongitude     = "param-geotag-longitude"
	ParamOrientation   = "video-param-rotation-angle-degrees"
)

// FormatParameter renders a key/value pair the way SetParameters expects it
func FormatParameter(key string, value interface{}) string {
	return fmt.Sprintf("%s=%v", key, value)
}
