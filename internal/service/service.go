// Package service composes the camera, storage, audio and recording
// controller into the camera service used by the CLI and the HTTP server.
package service

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/audiolibrelab/camcapture/internal/audio"
	"github.com/audiolibrelab/camcapture/internal/camera"
	"github.com/audiolibrelab/camcapture/internal/config"
	"github.com/audiolibrelab/camcapture/internal/hal"
	"github.com/audiolibrelab/camcapture/internal/hal/softrec"
	"github.com/audiolibrelab/camcapture/internal/recorder"
	"github.com/audiolibrelab/camcapture/internal/storage"
)

// Service is the camera service interface
type Service interface {
	// Recording operations
	StartRecording(req StartRequest) (*RecordingSession, error)
	StopRecording() (*RecordingSession, error)
	GetRecordingStatus() StatusInfo
	SetOutputLocation(location string) error
	SetVideoSettings(settings recorder.VideoSettings) error

	// Configuration operations
	ApplyConfig(cfg *config.Config) error
	GetConfig() *config.Config

	// Information operations
	ListDevices() ([]camera.DeviceInfo, error)
	ListRecordings() ([]RecordingInfo, error)
	AnalyzeRecording(filename string) (*RecordingAnalysis, error)
	GetLastError() string

	// Notifications
	Subscribe() (string, <-chan Event)
	Unsubscribe(id string)

	Close() error
}

// StartRequest carries optional per-recording metadata
type StartRequest struct {
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
}

// RecordingSession describes the current or last recording
type RecordingSession struct {
	ID         string    `json:"id"`
	StartTime  time.Time `json:"start_time"`
	OutputFile string    `json:"output_file"`
	DurationMs int64     `json:"duration_ms"`
	Audio      bool      `json:"audio"`
}

// StatusInfo is a snapshot of the recording controller
type StatusInfo struct {
	State          string            `json:"state"`
	Status         string            `json:"status"`
	DurationMs     int64             `json:"duration_ms"`
	OutputLocation string            `json:"output_location"`
	ActualLocation string            `json:"actual_location"`
	Device         string            `json:"device"`
	Session        *RecordingSession `json:"session,omitempty"`
	LastError      string            `json:"last_error,omitempty"`
}

// Options overrides the hardware used by the service
type Options struct {
	Recorders hal.RecorderFactory
	Audio     recorder.AudioWorkerFactory
	Camera    hal.CameraControl
	Discovery *camera.Discovery
	NewTicker func(d time.Duration) recorder.Ticker

	// FFmpegLogLevel is passed to ffmpeg when Recorders is nil
	FFmpegLogLevel string
}

// CameraService is the main service implementation
type CameraService struct {
	cfgMutex sync.RWMutex
	cfg      *config.Config

	deviceMutex sync.Mutex
	device      *camera.Device

	arbiter    *camera.Arbiter
	discovery  *camera.Discovery
	storage    *storage.Manager
	metadata   *storage.Metadata
	controller *recorder.Controller
	hub        *hub

	// startMutex serializes starts with each other and with reloads
	startMutex sync.Mutex

	sessionMutex sync.RWMutex
	session      *RecordingSession
	hasAudio     bool

	// Error tracking
	lastError      string
	lastErrorMutex sync.RWMutex
}

// New creates a camera service. Zero Options use ffmpeg, the configured
// microphone backend and the configured camera device.
func New(cfg *config.Config, opts Options) (*CameraService, error) {
	s := &CameraService{
		cfg:       cfg,
		discovery: opts.Discovery,
		storage:   storage.NewManager(cfg.Output.Directory, cfg.Output.Prefix, cfg.Output.Extension),
		metadata:  storage.NewMetadata(cfg.Metadata.Orientation),
		hub:       newHub(),
	}
	if s.discovery == nil {
		s.discovery = camera.NewDiscovery(cfg.Camera.Codename)
	}

	conn := opts.Camera
	if conn == nil {
		device, err := camera.Open(cfg.Camera.Device)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to camera: %w", err)
		}
		s.device = device
		conn = device
	}
	s.arbiter = camera.NewArbiter(conn)

	recorders := opts.Recorders
	if recorders == nil {
		recorders = softrec.Factory(softrec.Options{
			FFmpeg:      cfg.Recorder.FFmpeg,
			LogLevel:    opts.FFmpegLogLevel,
			StopTimeout: cfg.Recorder.StopTimeout,
		})
	}

	audioFactory := opts.Audio
	if audioFactory == nil {
		audioFactory = s.newAudioWorker
	}

	s.controller = recorder.New(recorder.Options{
		Recorders: recorders,
		Audio:     s.trackAudio(audioFactory),
		Camera:    s.arbiter,
		Storage:   s.storage,
		Metadata:  s.metadata,
		Listener:  s,
		Video:     videoSettings(cfg),
		Sound:     audioSettings(cfg),
		DurationInterval:           cfg.Recorder.DurationInterval,
		ForceTeardownOnStopFailure: cfg.Recorder.ForceTeardown(),
		NewTicker:                  opts.NewTicker,
	})

	slog.Debug("Camera service ready", "device", conn.Device(), "audio_backend", cfg.Audio.Backend)
	return s, nil
}

func audioSettings(cfg *config.Config) recorder.AudioSettings {
	return recorder.AudioSettings{
		Bitrate:    cfg.Audio.Bitrate,
		Channels:   cfg.Audio.Channels,
		SampleRate: cfg.Audio.SampleRate,
	}
}

func videoSettings(cfg *config.Config) recorder.VideoSettings {
	return recorder.VideoSettings{
		Width:     cfg.Video.Width,
		Height:    cfg.Video.Height,
		FrameRate: cfg.Video.FrameRate,
		Bitrate:   cfg.Video.Bitrate,
	}
}

// newAudioWorker builds a capture worker for the configured microphone
func (s *CameraService) newAudioWorker(sink hal.AudioSink) (recorder.AudioWorker, error) {
	cfg := s.GetConfig()

	mic, err := audio.NewMicrophone(cfg.Audio)
	if err != nil {
		return nil, err
	}
	return audio.NewCapture(sink, mic, audio.Options{SetupTimeout: cfg.Audio.SetupTimeout}), nil
}

// trackAudio records whether the session got a working microphone
func (s *CameraService) trackAudio(factory recorder.AudioWorkerFactory) recorder.AudioWorkerFactory {
	return func(sink hal.AudioSink) (recorder.AudioWorker, error) {
		s.sessionMutex.Lock()
		s.hasAudio = false
		s.sessionMutex.Unlock()

		worker, err := factory(sink)
		if err != nil {
			return nil, err
		}
		return &trackedWorker{AudioWorker: worker, service: s}, nil
	}
}

type trackedWorker struct {
	recorder.AudioWorker
	service *CameraService
}

func (w *trackedWorker) Init(ready func()) {
	w.service.sessionMutex.Lock()
	w.service.hasAudio = true
	w.service.sessionMutex.Unlock()
	w.AudioWorker.Init(ready)
}

// StartRecording starts a new recording session
func (s *CameraService) StartRecording(req StartRequest) (*RecordingSession, error) {
	slog.Debug("Service.StartRecording called")
	s.clearLastError()

	s.startMutex.Lock()
	defer s.startMutex.Unlock()

	cfg := s.GetConfig()
	s.metadata.SetOrientation(cfg.Metadata.Orientation)
	if lat, lon := pick(req.Latitude, cfg.Metadata.Latitude), pick(req.Longitude, cfg.Metadata.Longitude); lat != nil && lon != nil {
		s.metadata.SetLocation(storage.Location{Latitude: *lat, Longitude: *lon})
	}

	s.sessionMutex.Lock()
	previous := s.session
	s.session = &RecordingSession{ID: uuid.NewString()}
	s.sessionMutex.Unlock()

	if err := s.controller.StartRecording(); err != nil {
		// Pending metadata must not outlive a refused start
		s.metadata.ClearAllMetaData()
		s.sessionMutex.Lock()
		s.session = previous
		s.sessionMutex.Unlock()
		return nil, fmt.Errorf("failed to start recording: %w", err)
	}

	session := s.currentSession()
	slog.Info("Recording session started", "id", session.ID, "file", session.OutputFile)
	return session, nil
}

func pick(override, fallback *float64) *float64 {
	if override != nil {
		return override
	}
	return fallback
}

// StopRecording stops the current recording session
func (s *CameraService) StopRecording() (*RecordingSession, error) {
	if s.controller.State() != recorder.StateRecording {
		return nil, fmt.Errorf("no recording in progress")
	}

	duration := s.controller.Duration()
	if err := s.controller.StopRecording(); err != nil {
		return nil, fmt.Errorf("failed to stop recording: %w", err)
	}
	s.clearLastError()

	s.sessionMutex.Lock()
	if s.session != nil {
		s.session.DurationMs = duration
	}
	s.sessionMutex.Unlock()

	return s.currentSession(), nil
}

func (s *CameraService) currentSession() *RecordingSession {
	s.sessionMutex.RLock()
	defer s.sessionMutex.RUnlock()
	if s.session == nil {
		return nil
	}
	session := *s.session
	session.Audio = s.hasAudio
	return &session
}

// GetRecordingStatus returns a snapshot of the controller
func (s *CameraService) GetRecordingStatus() StatusInfo {
	info := StatusInfo{
		State:          s.controller.State().String(),
		Status:         s.controller.Status().String(),
		DurationMs:     s.controller.Duration(),
		OutputLocation: s.controller.OutputLocation(),
		ActualLocation: s.controller.ActualLocation(),
		Device:         s.arbiter.Connection().Device(),
		Session:        s.currentSession(),
		LastError:      s.GetLastError(),
	}
	if info.Session != nil && s.controller.State() == recorder.StateRecording {
		info.Session.DurationMs = info.DurationMs
	}
	return info
}

// SetOutputLocation sets the location used by the next recording
func (s *CameraService) SetOutputLocation(location string) error {
	return s.controller.SetOutputLocation(location)
}

// SetVideoSettings changes encoder settings for the next recording
func (s *CameraService) SetVideoSettings(settings recorder.VideoSettings) error {
	if settings.Width <= 0 || settings.Height <= 0 {
		return fmt.Errorf("invalid video size %dx%d", settings.Width, settings.Height)
	}
	if settings.FrameRate <= 0 {
		return fmt.Errorf("invalid frame rate %d", settings.FrameRate)
	}
	if settings.Bitrate <= 0 {
		return fmt.Errorf("invalid bitrate %d", settings.Bitrate)
	}
	return s.controller.SetVideoSettings(settings)
}

// ApplyConfig takes a reloaded configuration. Video, audio and metadata
// settings apply to the next recording; the camera device is not reopened.
func (s *CameraService) ApplyConfig(cfg *config.Config) error {
	if err := config.Validate(cfg); err != nil {
		return err
	}

	s.startMutex.Lock()
	defer s.startMutex.Unlock()

	s.cfgMutex.Lock()
	old := s.cfg
	s.cfg = cfg
	s.cfgMutex.Unlock()

	if old.Camera.Device != cfg.Camera.Device {
		if err := s.switchCamera(cfg.Camera.Device); err != nil {
			slog.Warn("Keeping current camera", "configured", cfg.Camera.Device, "error", err)
		}
	}
	s.storage.Configure(cfg.Output.Directory, cfg.Output.Prefix, cfg.Output.Extension)

	if err := s.controller.SetVideoSettings(videoSettings(cfg)); err != nil {
		return err
	}
	if err := s.controller.SetAudioSettings(audioSettings(cfg)); err != nil {
		return err
	}
	if err := s.controller.SetDurationInterval(cfg.Recorder.DurationInterval); err != nil {
		return err
	}
	return s.controller.SetForceTeardownOnStopFailure(cfg.Recorder.ForceTeardown())
}

// switchCamera connects to path and hands it to the arbiter. Only a camera
// the service opened itself is replaced, and never during a recording.
func (s *CameraService) switchCamera(path string) error {
	s.deviceMutex.Lock()
	defer s.deviceMutex.Unlock()

	if s.device == nil {
		return fmt.Errorf("camera connection is managed by the caller")
	}
	if s.controller.Status() != recorder.StatusUnloaded {
		return fmt.Errorf("recording in progress")
	}

	// The old device holds the flock, so drop it before opening the new one
	// in case both names refer to the same node.
	old := s.device
	if err := old.Close(); err != nil && !errors.Is(err, camera.ErrClosed) {
		return fmt.Errorf("failed to close camera: %w", err)
	}

	device, err := camera.Open(path)
	if err != nil {
		if reopened, reopenErr := camera.Open(old.Device()); reopenErr == nil {
			s.device = reopened
			s.arbiter.SetConnection(reopened)
		}
		return err
	}
	if err := s.arbiter.SetConnection(device); err != nil {
		device.Close()
		return err
	}
	s.device = device
	slog.Info("Camera switched", "device", path)
	return nil
}

// GetConfig returns the current configuration
func (s *CameraService) GetConfig() *config.Config {
	s.cfgMutex.RLock()
	defer s.cfgMutex.RUnlock()
	return s.cfg
}

// ListDevices enumerates camera devices
func (s *CameraService) ListDevices() ([]camera.DeviceInfo, error) {
	return s.discovery.ListDevices()
}

// Subscribe registers a notification subscriber
func (s *CameraService) Subscribe() (string, <-chan Event) {
	return s.hub.subscribe()
}

// Unsubscribe removes a notification subscriber
func (s *CameraService) Unsubscribe(id string) {
	s.hub.unsubscribe(id)
}

// Close stops any recording and releases the camera
func (s *CameraService) Close() error {
	s.controller.Close()
	s.hub.close()

	s.deviceMutex.Lock()
	defer s.deviceMutex.Unlock()
	if s.device != nil {
		if err := s.device.Close(); err != nil && !errors.Is(err, camera.ErrClosed) {
			return fmt.Errorf("failed to close camera: %w", err)
		}
	}
	return nil
}

// GetLastError returns the last error message (thread-safe)
func (s *CameraService) GetLastError() string {
	s.lastErrorMutex.RLock()
	defer s.lastErrorMutex.RUnlock()
	return s.lastError
}

// setLastError sets the last error message (thread-safe)
func (s *CameraService) setLastError(err string) {
	s.lastErrorMutex.Lock()
	defer s.lastErrorMutex.Unlock()
	s.lastError = err
}

// clearLastError clears the last error message (thread-safe)
func (s *CameraService) clearLastError() {
	s.lastErrorMutex.Lock()
	defer s.lastErrorMutex.Unlock()
	s.lastError = ""
}
