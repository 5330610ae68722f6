package recorder

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/audiolibrelab/camcapture/internal/hal"
)

// ErrClosed is returned by calls made after Close
var ErrClosed = errors.New("recording controller closed")

const defaultDurationInterval = time.Second

// Options wires a Controller to its collaborators
type Options struct {
	Recorders hal.RecorderFactory
	Audio     AudioWorkerFactory
	Camera    CameraArbiter
	Storage   Storage
	Metadata  Metadata
	Listener  Listener

	Video VideoSettings
	Sound AudioSettings

	DurationInterval time.Duration

	// ForceTeardownOnStopFailure releases the recorder, the audio worker and
	// the output file even when the hardware stop fails.
	ForceTeardownOnStopFailure bool

	NewTicker func(d time.Duration) Ticker
}

// Controller runs every session transition on a single goroutine. Public
// methods queue work onto it; hardware callbacks are queued the same way.
type Controller struct {
	opts     Options
	listener Listener

	ctx    context.Context
	cancel context.CancelFunc
	tasks  chan func()
	quit   chan struct{}
	done   chan struct{}
	once   sync.Once

	// Owned by the controller goroutine
	state         State
	status        Status
	durationMs    int64
	location      string
	actual        string
	video         VideoSettings
	sound         AudioSettings
	interval      time.Duration
	forceTeardown bool
	output        *os.File
	rec           hal.Recorder
	audio         AudioWorker
	ticker        Ticker
	tickStep      time.Duration
	generation    uint64

	mu   sync.RWMutex
	snap snapshot
}

type snapshot struct {
	state      State
	status     Status
	durationMs int64
	location   string
	actual     string
	video      VideoSettings
}

// New creates a Controller and starts its goroutine
func New(opts Options) *Controller {
	if opts.DurationInterval <= 0 {
		opts.DurationInterval = defaultDurationInterval
	}
	if opts.NewTicker == nil {
		opts.NewTicker = newTimeTicker
	}
	listener := opts.Listener
	if listener == nil {
		listener = nopListener{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		opts:     opts,
		listener: listener,
		ctx:      ctx,
		cancel:   cancel,
		tasks:    make(chan func(), 16),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
		video:    opts.Video,
		sound:    opts.Sound,
		interval: opts.DurationInterval,

		forceTeardown: opts.ForceTeardownOnStopFailure,
	}
	c.publish()

	go c.loop()
	return c
}

func (c *Controller) loop() {
	defer close(c.done)

	for {
		var tick <-chan time.Time
		if c.ticker != nil {
			tick = c.ticker.Chan()
		}

		select {
		case task := <-c.tasks:
			task()
		case <-tick:
			c.onTick()
		case <-c.quit:
			c.shutdown()
			return
		}
		c.publish()
	}
}

// do runs fn on the controller goroutine and waits for it
func (c *Controller) do(fn func()) error {
	finished := make(chan struct{})
	task := func() {
		defer close(finished)
		fn()
	}

	select {
	case c.tasks <- task:
	case <-c.done:
		return ErrClosed
	}

	select {
	case <-finished:
		return nil
	case <-c.done:
		return ErrClosed
	}
}

// post queues fn without waiting. Safe to call from any goroutine.
func (c *Controller) post(fn func()) {
	select {
	case c.tasks <- fn:
	default:
		go func() {
			select {
			case c.tasks <- fn:
			case <-c.done:
			}
		}()
	}
}

func (c *Controller) publish() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snap = snapshot{
		state:      c.state,
		status:     c.status,
		durationMs: c.durationMs,
		location:   c.location,
		actual:     c.actual,
		video:      c.video,
	}
}

// SetState moves the session to target. Setting the current state is a
// no-op; StatePaused is not supported and ignored.
func (c *Controller) SetState(target State) error {
	var err error
	if derr := c.do(func() { err = c.setState(target) }); derr != nil {
		return derr
	}
	return err
}

func (c *Controller) setState(target State) error {
	if target == c.state {
		return nil
	}

	switch target {
	case StateRecording:
		return c.startRecording()
	case StateStopped:
		return c.stopRecording()
	default:
		slog.Warn("Requested recording state is not supported", "state", target)
		return nil
	}
}

// StartRecording runs the start sequence regardless of the current state,
// reporting NotAvailableError if a session is already active.
func (c *Controller) StartRecording() error {
	var err error
	if derr := c.do(func() { err = c.startRecording() }); derr != nil {
		return derr
	}
	return err
}

// StopRecording runs the stop sequence; it is a no-op unless recording
func (c *Controller) StopRecording() error {
	var err error
	if derr := c.do(func() { err = c.stopRecording() }); derr != nil {
		return derr
	}
	return err
}

// State returns the current recording state
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap.state
}

// Status returns the current lifecycle phase
func (c *Controller) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap.status
}

// Duration returns the milliseconds accumulated since the last start
func (c *Controller) Duration() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap.durationMs
}

// OutputLocation returns the requested output location
func (c *Controller) OutputLocation() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap.location
}

// ActualLocation returns the location of the current or last recording
func (c *Controller) ActualLocation() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap.actual
}

// VideoSettings returns the settings used for the next recording
func (c *Controller) VideoSettings() VideoSettings {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap.video
}

// SetOutputLocation sets where the next recording goes: a file path, a
// directory, or empty for the storage default.
func (c *Controller) SetOutputLocation(location string) error {
	return c.do(func() {
		if location == c.location {
			return
		}
		c.location = location
	})
}

// SetVideoSettings replaces the encoder settings for the next recording
func (c *Controller) SetVideoSettings(settings VideoSettings) error {
	return c.do(func() {
		c.video = settings
	})
}

// SetAudioSettings replaces the audio encoder settings for the next recording
func (c *Controller) SetAudioSettings(settings AudioSettings) error {
	return c.do(func() {
		c.sound = settings
	})
}

// SetDurationInterval changes the duration tick period. A live recording
// keeps ticking at the period it started with.
func (c *Controller) SetDurationInterval(d time.Duration) error {
	if d <= 0 {
		d = defaultDurationInterval
	}
	return c.do(func() {
		c.interval = d
	})
}

// SetForceTeardownOnStopFailure decides whether a failed hardware stop still
// releases the session.
func (c *Controller) SetForceTeardownOnStopFailure(force bool) error {
	return c.do(func() {
		c.forceTeardown = force
	})
}

// Close tears down any live session and stops the controller goroutine
func (c *Controller) Close() error {
	c.once.Do(func() {
		close(c.quit)
		<-c.done
		c.cancel()
	})
	return nil
}

func (c *Controller) onTick() {
	if c.state != StateRecording {
		return
	}
	c.setDuration(c.durationMs + c.tickStep.Milliseconds())
}

// handleError reports an asynchronous recorder failure. State is left for
// the client to resolve with a stop.
func (c *Controller) handleError(generation uint64) {
	if generation != c.generation || c.rec == nil {
		slog.Debug("Ignoring error from a finished recording")
		return
	}
	c.reportError(GeneralError, "Error on recording video", nil)
}

// onAudioReady starts the audio relay once the recorder can take PCM
func (c *Controller) onAudioReady(generation uint64) {
	if generation != c.generation || c.audio == nil {
		slog.Debug("Ignoring audio readiness from a finished recording")
		return
	}
	slog.Debug("Recorder ready for audio, starting microphone capture")
	c.audio.Run()
}

func (c *Controller) shutdown() {
	c.stopTicker()
	if c.rec == nil {
		c.closeOutput()
		return
	}

	slog.Info("Closing active recording session", "location", c.actual)
	if c.status == StatusRecording || c.status == StatusFinalizing {
		if err := c.rec.Stop(); err != nil {
			slog.Warn("Failed to stop recorder during shutdown", "error", err)
		}
	}
	if c.audio != nil {
		c.audio.StopCapture()
	}
	if err := c.rec.Reset(); err != nil {
		slog.Debug("Failed to reset recorder during shutdown", "error", err)
	}
	c.closeOutput()
	c.state = StateStopped
	c.deleteRecorder()
}

func (c *Controller) setStatus(status Status) {
	if c.status == status {
		return
	}
	c.status = status
	c.publish()
	c.listener.StatusChanged(status)
}

func (c *Controller) setRecordingState(state State) {
	if c.state == state {
		return
	}
	c.state = state
	c.publish()
	c.listener.StateChanged(state)
}

func (c *Controller) setDuration(ms int64) {
	c.durationMs = ms
	c.publish()
	c.listener.DurationChanged(ms)
}

// reportError logs, notifies the listener and builds the synchronous error
func (c *Controller) reportError(code ErrorCode, message string, cause error) *Error {
	slog.Error(message, "code", code, "error", cause)
	c.listener.Error(code, message)
	return &Error{Code: code, Message: message, Err: cause}
}
