// Package softrec implements hal.Recorder on top of an ffmpeg subprocess.
// Video comes from a V4L2 node (or ffmpeg's test source), audio arrives as
// raw PCM on ffmpeg's stdin and the fragmented MP4 goes to the output file.
package softrec

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/audiolibrelab/camcapture/internal/hal"
)

type state int

const (
	stateInitial state = iota
	stateInitialized
	stateDataSourceConfigured
	statePrepared
	stateRecording
	stateReleased
)

func (s state) String() string {
	switch s {
	case stateInitial:
		return "initial"
	case stateInitialized:
		return "initialized"
	case stateDataSourceConfigured:
		return "data-source-configured"
	case statePrepared:
		return "prepared"
	case stateRecording:
		return "recording"
	case stateReleased:
		return "released"
	default:
		return "unknown"
	}
}

// CommandFunc builds the process used to run ffmpeg
type CommandFunc func(name string, args ...string) *exec.Cmd

// Options configures a Recorder
type Options struct {
	FFmpeg      string
	LogLevel    string // ffmpeg -loglevel, "error" when empty
	StopTimeout time.Duration
	Command     CommandFunc
}

// Recorder drives one ffmpeg process per recording
type Recorder struct {
	opts Options

	mu    sync.Mutex
	state state

	camera       hal.CameraControl
	audioSource  hal.AudioSource
	hasAudio     bool
	videoSource  hal.VideoSource
	outputFormat hal.OutputFormat
	audioEncoder hal.AudioEncoder
	videoEncoder hal.VideoEncoder
	output       *os.File
	width        int
	height       int
	frameRate    int
	params       map[string]string

	audioReady func()
	onError    func()

	cmd      *exec.Cmd
	stdin    io.WriteCloser
	stderr   strings.Builder
	exited   chan struct{}
	waitErr  error
	stopping bool
	monitors conc.WaitGroup
}

// New creates a Recorder in its initial state
func New(opts Options) *Recorder {
	if opts.FFmpeg == "" {
		opts.FFmpeg = "ffmpeg"
	}
	if opts.LogLevel == "" {
		opts.LogLevel = "error"
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = 5 * time.Second
	}
	if opts.Command == nil {
		opts.Command = exec.Command
	}
	return &Recorder{
		opts:   opts,
		params: make(map[string]string),
	}
}

// Factory returns a hal.RecorderFactory producing Recorders with opts
func Factory(opts Options) hal.RecorderFactory {
	return func() (hal.Recorder, error) {
		if opts.Command == nil {
			if _, err := exec.LookPath(opts.FFmpeg); err != nil {
				return nil, fmt.Errorf("ffmpeg not available: %w", err)
			}
		}
		return New(opts), nil
	}
}

// expect checks the protocol state; callers hold mu
func (r *Recorder) expect(call string, allowed ...state) error {
	if r.state == stateReleased {
		return hal.ErrReleased
	}
	for _, s := range allowed {
		if r.state == s {
			return nil
		}
	}
	return fmt.Errorf("%w: %s called in %s state", hal.ErrInvalidState, call, r.state)
}

func (r *Recorder) SetCamera(cam hal.CameraControl) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.expect("SetCamera", stateInitial, stateInitialized); err != nil {
		return err
	}
	if cam == nil || cam.Device() == "" {
		return fmt.Errorf("camera has no device")
	}
	r.camera = cam
	return nil
}

func (r *Recorder) SetAudioSource(src hal.AudioSource) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.expect("SetAudioSource", stateInitial, stateInitialized); err != nil {
		return err
	}
	r.audioSource = src
	r.hasAudio = true
	r.state = stateInitialized
	return nil
}

func (r *Recorder) SetVideoSource(src hal.VideoSource) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.expect("SetVideoSource", stateInitial, stateInitialized); err != nil {
		return err
	}
	if r.camera == nil {
		return fmt.Errorf("%w: video source requires a camera", hal.ErrInvalidState)
	}
	r.videoSource = src
	r.state = stateInitialized
	return nil
}

func (r *Recorder) SetOutputFormat(format hal.OutputFormat) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.expect("SetOutputFormat", stateInitialized); err != nil {
		return err
	}
	r.outputFormat = format
	r.state = stateDataSourceConfigured
	return nil
}

func (r *Recorder) SetAudioEncoder(enc hal.AudioEncoder) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.expect("SetAudioEncoder", stateDataSourceConfigured); err != nil {
		return err
	}
	if !r.hasAudio {
		return fmt.Errorf("%w: audio encoder set without audio source", hal.ErrInvalidState)
	}
	r.audioEncoder = enc
	return nil
}

func (r *Recorder) SetVideoEncoder(enc hal.VideoEncoder) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.expect("SetVideoEncoder", stateDataSourceConfigured); err != nil {
		return err
	}
	r.videoEncoder = enc
	return nil
}

// SetOutputFile binds f as the recording target. The Recorder does not take
// ownership; callers close f after Reset.
func (r *Recorder) SetOutputFile(f *os.File) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.expect("SetOutputFile", stateDataSourceConfigured); err != nil {
		return err
	}
	if f == nil {
		return fmt.Errorf("output file is nil")
	}
	r.output = f
	return nil
}

func (r *Recorder) SetVideoSize(width, height int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.expect("SetVideoSize", stateDataSourceConfigured); err != nil {
		return err
	}
	if width <= 0 || height <= 0 {
		return fmt.Errorf("invalid video size %dx%d", width, height)
	}
	r.width, r.height = width, height
	return nil
}

func (r *Recorder) SetVideoFrameRate(fps int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.expect("SetVideoFrameRate", stateDataSourceConfigured); err != nil {
		return err
	}
	if fps <= 0 {
		return fmt.Errorf("invalid frame rate %d", fps)
	}
	r.frameRate = fps
	return nil
}

// SetParameters merges "key=value;..." pairs into the parameter set
func (r *Recorder) SetParameters(kv string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.expect("SetParameters", stateDataSourceConfigured); err != nil {
		return err
	}
	params, err := hal.ParseParameters(kv)
	if err != nil {
		return err
	}
	for k, v := range params {
		r.params[k] = v
	}
	return nil
}

func (r *Recorder) Prepare() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.expect("Prepare", stateDataSourceConfigured); err != nil {
		return err
	}
	if r.output == nil {
		return fmt.Errorf("%w: no output file", hal.ErrInvalidState)
	}
	if r.width == 0 || r.height == 0 || r.frameRate == 0 {
		return fmt.Errorf("%w: video size and frame rate required", hal.ErrInvalidState)
	}
	if _, err := r.buildArgs(); err != nil {
		return err
	}
	r.state = statePrepared
	return nil
}

// Start launches ffmpeg and, once it runs, signals audio readiness from a
// separate goroutine.
func (r *Recorder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.expect("Start", statePrepared); err != nil {
		return err
	}

	args, err := r.buildArgs()
	if err != nil {
		return err
	}

	cmd := r.opts.Command(r.opts.FFmpeg, args...)
	cmd.Stdout = r.output

	var stdin io.WriteCloser
	if r.hasAudio {
		stdin, err = cmd.StdinPipe()
		if err != nil {
			return fmt.Errorf("failed to create audio pipe: %w", err)
		}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	slog.Debug("Starting FFmpeg", "cmd", strings.Join(cmd.Args, " "))
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start FFmpeg: %w", err)
	}

	r.cmd = cmd
	r.stdin = stdin
	r.stderr.Reset()
	r.exited = make(chan struct{})
	r.waitErr = nil
	r.stopping = false
	r.state = stateRecording

	exited := r.exited
	r.monitors.Go(func() { r.monitor(cmd, stderr, exited) })

	if r.hasAudio && r.audioReady != nil {
		go r.audioReady()
	}
	return nil
}

// monitor collects stderr, reaps the process and reports unexpected exits
func (r *Recorder) monitor(cmd *exec.Cmd, stderr io.Reader, exited chan struct{}) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		line := scanner.Text()
		r.mu.Lock()
		r.stderr.WriteString(line + "\n")
		r.mu.Unlock()
		slog.Debug("FFmpeg", "output", line)
	}

	err := cmd.Wait()

	r.mu.Lock()
	r.waitErr = err
	unexpected := !r.stopping
	onError := r.onError
	output := r.stderr.String()
	r.mu.Unlock()
	close(exited)

	if unexpected {
		slog.Error("FFmpeg exited during recording", "error", err, "output", output)
		if onError != nil {
			onError()
		}
	}
}

// Stop interrupts ffmpeg so it finalizes the file, killing it after the
// stop timeout.
func (r *Recorder) Stop() error {
	r.mu.Lock()
	if err := r.expect("Stop", stateRecording); err != nil {
		r.mu.Unlock()
		return err
	}
	r.stopping = true
	cmd, stdin, exited := r.cmd, r.stdin, r.exited
	r.mu.Unlock()

	select {
	case <-exited:
		r.finishStop()
		return r.exitError()
	default:
	}

	slog.Debug("Sending SIGINT to FFmpeg process")
	if err := cmd.Process.Signal(os.Interrupt); err != nil {
		slog.Debug("Failed to send interrupt to FFmpeg, killing", "error", err)
		cmd.Process.Kill()
	}
	if stdin != nil {
		stdin.Close()
	}

	select {
	case <-exited:
	case <-time.After(r.opts.StopTimeout):
		slog.Warn("FFmpeg did not exit within timeout, force killing")
		cmd.Process.Kill()
		<-exited
	}

	r.finishStop()
	return r.exitError()
}

func (r *Recorder) finishStop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cmd = nil
	r.stdin = nil
	r.state = stateInitial
}

// exitError maps ffmpeg's exit status after an interrupt to an error
func (r *Recorder) exitError() error {
	r.mu.Lock()
	err := r.waitErr
	output := r.stderr.String()
	r.mu.Unlock()

	if err == nil {
		return nil
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		// 255 is ffmpeg's exit code after a handled interrupt
		if exitErr.ExitCode() == 255 {
			return nil
		}
		if exitErr.ProcessState != nil {
			stateStr := exitErr.ProcessState.String()
			if stateStr == "signal: interrupt" || stateStr == "signal: killed" {
				return nil
			}
		}
	}
	slog.Debug("FFmpeg stderr", "output", output)
	return fmt.Errorf("FFmpeg process failed: %w", err)
}

// Reset returns the Recorder to its initial state, dropping configuration
func (r *Recorder) Reset() error {
	r.mu.Lock()
	if r.state == stateReleased {
		r.mu.Unlock()
		return hal.ErrReleased
	}
	recording := r.state == stateRecording
	r.mu.Unlock()

	if recording {
		if err := r.Stop(); err != nil {
			slog.Debug("Stop during reset failed", "error", err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.clearConfig()
	r.state = stateInitial
	return nil
}

func (r *Recorder) clearConfig() {
	r.camera = nil
	r.hasAudio = false
	r.audioSource = hal.AudioSourceDefault
	r.videoSource = hal.VideoSourceDefault
	r.outputFormat = hal.OutputFormatDefault
	r.audioEncoder = hal.AudioEncoderDefault
	r.videoEncoder = hal.VideoEncoderDefault
	r.output = nil
	r.width, r.height, r.frameRate = 0, 0, 0
	r.params = make(map[string]string)
}

// Release frees the Recorder; any further call fails with hal.ErrReleased
func (r *Recorder) Release() {
	r.mu.Lock()
	if r.state == stateReleased {
		r.mu.Unlock()
		return
	}
	recording := r.state == stateRecording
	r.mu.Unlock()

	if recording {
		if err := r.Stop(); err != nil {
			slog.Debug("Stop during release failed", "error", err)
		}
	}

	r.monitors.Wait()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.clearConfig()
	r.audioReady = nil
	r.onError = nil
	r.state = stateReleased
}

func (r *Recorder) SetAudioReadyCallback(cb func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.audioReady = cb
}

func (r *Recorder) SetErrorCallback(cb func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onError = cb
}

// WriteAudio feeds PCM to ffmpeg's audio input while recording
func (r *Recorder) WriteAudio(p []byte) (int, error) {
	r.mu.Lock()
	if r.state != stateRecording || r.stopping || r.stdin == nil {
		r.mu.Unlock()
		return 0, fmt.Errorf("%w: not accepting audio", hal.ErrInvalidState)
	}
	stdin := r.stdin
	r.mu.Unlock()

	return stdin.Write(p)
}
