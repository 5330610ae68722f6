package recorder

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/audiolibrelab/camcapture/internal/hal"
	"github.com/audiolibrelab/camcapture/internal/storage"
)

// callLog records calls across fakes so tests can check ordering
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(call string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, call)
}

func (l *callLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

func (l *callLog) index(call string) int {
	for i, c := range l.all() {
		if c == call {
			return i
		}
	}
	return -1
}

func (l *callLog) count(prefix string) int {
	n := 0
	for _, c := range l.all() {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

type fakeRecorder struct {
	log    *callLog
	failOn map[string]error

	mu       sync.Mutex
	ready    func()
	onError  func()
	output   *os.File
	width    int
	height   int
	params   []string
	released bool
}

func (r *fakeRecorder) call(name string) error {
	r.log.add("rec." + name)
	return r.failOn[name]
}

func (r *fakeRecorder) SetCamera(hal.CameraControl) error      { return r.call("SetCamera") }
func (r *fakeRecorder) SetAudioSource(hal.AudioSource) error   { return r.call("SetAudioSource") }
func (r *fakeRecorder) SetVideoSource(hal.VideoSource) error   { return r.call("SetVideoSource") }
func (r *fakeRecorder) SetOutputFormat(hal.OutputFormat) error { return r.call("SetOutputFormat") }
func (r *fakeRecorder) SetAudioEncoder(hal.AudioEncoder) error { return r.call("SetAudioEncoder") }
func (r *fakeRecorder) SetVideoEncoder(hal.VideoEncoder) error { return r.call("SetVideoEncoder") }
func (r *fakeRecorder) SetVideoFrameRate(int) error            { return r.call("SetVideoFrameRate") }
func (r *fakeRecorder) Prepare() error                         { return r.call("Prepare") }
func (r *fakeRecorder) Start() error                           { return r.call("Start") }
func (r *fakeRecorder) Stop() error                            { return r.call("Stop") }
func (r *fakeRecorder) Reset() error                           { return r.call("Reset") }
func (r *fakeRecorder) WriteAudio(p []byte) (int, error)       { return len(p), nil }

func (r *fakeRecorder) SetOutputFile(f *os.File) error {
	r.mu.Lock()
	r.output = f
	r.mu.Unlock()
	return r.call("SetOutputFile")
}

func (r *fakeRecorder) SetVideoSize(w, h int) error {
	r.mu.Lock()
	r.width, r.height = w, h
	r.mu.Unlock()
	return r.call("SetVideoSize")
}

func (r *fakeRecorder) SetParameters(kv string) error {
	r.mu.Lock()
	r.params = append(r.params, kv)
	r.mu.Unlock()
	return r.call("SetParameters")
}

func (r *fakeRecorder) Release() {
	r.log.add("rec.Release")
	r.mu.Lock()
	r.released = true
	r.mu.Unlock()
}

func (r *fakeRecorder) SetAudioReadyCallback(cb func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ready = cb
}

func (r *fakeRecorder) SetErrorCallback(cb func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onError = cb
}

func (r *fakeRecorder) fireReady() {
	r.mu.Lock()
	cb := r.ready
	r.mu.Unlock()
	cb()
}

func (r *fakeRecorder) fireError() {
	r.mu.Lock()
	cb := r.onError
	r.mu.Unlock()
	cb()
}

func (r *fakeRecorder) isReleased() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.released
}

type fakeWorker struct {
	log      *callLog
	sink     hal.AudioSink
	setupErr error

	mu    sync.Mutex
	runs  int
	stops int
}

func (w *fakeWorker) SetupMicrophoneStream(ctx context.Context) error {
	w.log.add("audio.Setup")
	return w.setupErr
}

func (w *fakeWorker) Init(ready func()) {
	w.log.add("audio.Init")
	w.sink.SetAudioReadyCallback(ready)
}

func (w *fakeWorker) Run() {
	w.log.add("audio.Run")
	w.mu.Lock()
	defer w.mu.Unlock()
	w.runs++
}

func (w *fakeWorker) StopCapture() {
	w.log.add("audio.StopCapture")
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stops++
}

func (w *fakeWorker) runCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.runs
}

type fakeCamera struct{}

func (fakeCamera) Device() string { return "test" }
func (fakeCamera) Lock() error    { return nil }
func (fakeCamera) Unlock() error  { return nil }

type fakeArbiter struct {
	log        *callLog
	conn       hal.CameraControl
	releaseErr error
	released   bool
}

func (a *fakeArbiter) Connection() hal.CameraControl { return a.conn }

func (a *fakeArbiter) ReleaseForRecording() error {
	a.log.add("camera.Release")
	if a.releaseErr != nil {
		return a.releaseErr
	}
	a.released = true
	return nil
}

func (a *fakeArbiter) ReacquireAfterRecording() error {
	if !a.released {
		return nil
	}
	a.log.add("camera.Reacquire")
	a.released = false
	return nil
}

type fakeStorage struct {
	dir  string
	err  error
	dirs []string
}

func (s *fakeStorage) NextVideoFileName(dir string) (string, error) {
	s.dirs = append(s.dirs, dir)
	if s.err != nil {
		return "", s.err
	}
	if dir == "" {
		dir = s.dir
	}
	return filepath.Join(dir, fmt.Sprintf("video_%d.mp4", len(s.dirs))), nil
}

type fakeMetadata struct {
	orientation int
	location    *storage.Location
	clears      int
}

func (m *fakeMetadata) Orientation() int { return m.orientation }

func (m *fakeMetadata) Location() (storage.Location, bool) {
	if m.location == nil {
		return storage.Location{}, false
	}
	return *m.location, true
}

func (m *fakeMetadata) ClearAllMetaData() {
	m.clears++
	m.location = nil
}

type fakeTicker struct {
	ch      chan time.Time
	period  time.Duration
	stopped bool
}

func (t *fakeTicker) Chan() <-chan time.Time { return t.ch }
func (t *fakeTicker) Stop()                  { t.stopped = true }

// recordingListener captures notifications as "kind:value" strings
type recordingListener struct {
	log *callLog

	mu       sync.Mutex
	events   []string
	errors   []ErrorCode
	messages []string
}

func (l *recordingListener) add(event string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
}

func (l *recordingListener) StateChanged(s State)     { l.add("state:" + s.String()) }
func (l *recordingListener) StatusChanged(s Status)   { l.add("status:" + s.String()) }
func (l *recordingListener) DurationChanged(ms int64) { l.add(fmt.Sprintf("duration:%d", ms)) }

func (l *recordingListener) ActualLocationChanged(location string) {
	l.log.add("listener.ActualLocationChanged")
	l.add("location:" + location)
}

func (l *recordingListener) Error(code ErrorCode, message string) {
	l.add("error:" + code.String())
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errors = append(l.errors, code)
	l.messages = append(l.messages, message)
}

func (l *recordingListener) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

func (l *recordingListener) errorCodes() []ErrorCode {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]ErrorCode(nil), l.errors...)
}

func (l *recordingListener) errorMessages() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.messages...)
}

func (l *recordingListener) reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = nil
	l.errors = nil
	l.messages = nil
}

// harness wires a Controller to fakes
type harness struct {
	c        *Controller
	log      *callLog
	recs     []*fakeRecorder
	workers  []*fakeWorker
	arbiter  *fakeArbiter
	storage  *fakeStorage
	meta     *fakeMetadata
	listener *recordingListener
	tickers  []*fakeTicker

	recFail   map[string]error
	recErr    error
	audioErr  error
	noAudio   bool
	setupErr  error
	forceStop bool
}

func newHarness(t *testing.T, configure ...func(h *harness)) *harness {
	t.Helper()

	log := &callLog{}
	h := &harness{
		log:       log,
		arbiter:   &fakeArbiter{log: log, conn: fakeCamera{}},
		storage:   &fakeStorage{dir: t.TempDir()},
		meta:      &fakeMetadata{orientation: 90},
		listener:  &recordingListener{log: log},
		recFail:   map[string]error{},
		forceStop: true,
	}
	for _, fn := range configure {
		fn(h)
	}

	opts := Options{
		Recorders: func() (hal.Recorder, error) {
			if h.recErr != nil {
				return nil, h.recErr
			}
			rec := &fakeRecorder{log: log, failOn: h.recFail}
			h.recs = append(h.recs, rec)
			return rec, nil
		},
		Camera:   h.arbiter,
		Storage:  h.storage,
		Metadata: h.meta,
		Listener: h.listener,
		Video:    VideoSettings{Width: 1280, Height: 720, FrameRate: 30, Bitrate: 5000000},
		Sound:    AudioSettings{Bitrate: 48000, Channels: 2, SampleRate: 96000},

		DurationInterval:           time.Second,
		ForceTeardownOnStopFailure: h.forceStop,
		NewTicker: func(d time.Duration) Ticker {
			ticker := &fakeTicker{ch: make(chan time.Time), period: d}
			h.tickers = append(h.tickers, ticker)
			return ticker
		},
	}
	if !h.noAudio {
		opts.Audio = func(sink hal.AudioSink) (AudioWorker, error) {
			if h.audioErr != nil {
				return nil, h.audioErr
			}
			w := &fakeWorker{log: log, sink: sink, setupErr: h.setupErr}
			h.workers = append(h.workers, w)
			return w, nil
		}
	}

	h.c = New(opts)
	t.Cleanup(func() { h.c.Close() })
	return h
}

// sync waits until the controller has processed everything queued so far
func (h *harness) sync(t *testing.T) {
	t.Helper()
	if err := h.c.do(func() {}); err != nil {
		t.Fatalf("controller closed: %v", err)
	}
}

func (h *harness) rec() *fakeRecorder {
	return h.recs[len(h.recs)-1]
}

func (h *harness) worker() *fakeWorker {
	return h.workers[len(h.workers)-1]
}

func (h *harness) ticker() *fakeTicker {
	return h.tickers[len(h.tickers)-1]
}

func (h *harness) tick(t *testing.T) {
	t.Helper()
	h.ticker().ch <- time.Now()
	h.sync(t)
}

func asError(t *testing.T, err error) *Error {
	t.Helper()
	var e *Error
	if !errors.As(err, &e) {
		t.Fatalf("Expected *Error, got %T: %v", err, err)
	}
	return e
}
