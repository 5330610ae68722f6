package recorder

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"

	"github.com/audiolibrelab/camcapture/internal/audio"
	"github.com/audiolibrelab/camcapture/internal/hal"
	"github.com/audiolibrelab/camcapture/internal/storage"
)

const (
	defaultAudioBitrate  = 48000
	defaultAudioChannels = 2
	defaultAudioSampling = 96000
)

type configStep struct {
	name string
	run  func() error
}

func (c *Controller) startRecording() error {
	if c.opts.Camera == nil || c.opts.Camera.Connection() == nil {
		return c.reportError(InitializationError, "No camera connection", nil)
	}
	if c.status != StatusUnloaded {
		return c.reportError(NotAvailableError, "Recording already in progress", nil)
	}
	// Pending metadata belongs to this attempt only
	if c.opts.Metadata != nil {
		defer c.opts.Metadata.ClearAllMetaData()
	}

	c.setStatus(StatusLoading)
	c.setDuration(0)

	rec, err := c.opts.Recorders()
	if err != nil {
		c.setStatus(StatusUnloaded)
		return c.reportError(InitializationError, "Unable to create new media recorder", err)
	}
	c.rec = rec
	c.generation++
	generation := c.generation

	if err := c.setupAudio(generation); err != nil {
		c.deleteRecorder()
		return c.reportError(InitializationError, "Microphone setup timed out", err)
	}
	hasAudio := c.audio != nil

	rec.SetErrorCallback(func() {
		c.post(func() { c.handleError(generation) })
	})

	if err := c.opts.Camera.ReleaseForRecording(); err != nil {
		c.deleteRecorder()
		return c.reportError(InitializationError, "Unable to hand camera to recorder", err)
	}

	for _, step := range c.configSteps(rec, hasAudio) {
		if err := step.run(); err != nil {
			slog.Debug("Recorder configuration failed", "step", step.name, "error", err)
			c.abortStart()
			return c.reportError(InitializationError, step.name+" failed", err)
		}
	}

	c.setStatus(StatusLoaded)
	c.setStatus(StatusStarting)

	if err := rec.Start(); err != nil {
		c.abortStart()
		return c.reportError(InitializationError, "Cannot start video recording", err)
	}

	c.setRecordingState(StateRecording)
	c.setStatus(StatusRecording)
	c.tickStep = c.interval
	c.ticker = c.opts.NewTicker(c.tickStep)

	slog.Info("Recording started", "location", c.actual, "audio", hasAudio)
	return nil
}

// setupAudio creates the audio worker. Only a setup timeout is returned;
// any other failure leaves the session video-only.
func (c *Controller) setupAudio(generation uint64) error {
	if c.opts.Audio == nil {
		return nil
	}

	worker, err := c.opts.Audio(c.rec)
	if err != nil {
		slog.Warn("Audio capture unavailable, recording video only", "error", err)
		return nil
	}

	err = worker.SetupMicrophoneStream(c.ctx)
	switch {
	case err == nil:
		c.audio = worker
		worker.Init(func() {
			c.post(func() { c.onAudioReady(generation) })
		})
		return nil
	case errors.Is(err, audio.ErrTimeout):
		worker.StopCapture()
		return err
	default:
		worker.StopCapture()
		slog.Warn("Failed to set up microphone stream, recording video only", "error", err)
		return nil
	}
}

// configSteps lists the recorder configuration in protocol order
func (c *Controller) configSteps(rec hal.Recorder, hasAudio bool) []configStep {
	var path string

	steps := []configStep{
		{"Binding camera", func() error {
			return rec.SetCamera(c.opts.Camera.Connection())
		}},
	}
	if hasAudio {
		steps = append(steps, configStep{"Setting audio source", func() error {
			return rec.SetAudioSource(hal.AudioSourceCamcorder)
		}})
	}
	steps = append(steps,
		configStep{"Setting video source", func() error {
			return rec.SetVideoSource(hal.VideoSourceCamera)
		}},
		configStep{"Setting output format", func() error {
			return rec.SetOutputFormat(hal.OutputFormatMPEG4)
		}},
	)
	if hasAudio {
		steps = append(steps, configStep{"Setting audio encoder", func() error {
			return rec.SetAudioEncoder(hal.AudioEncoderAAC)
		}})
	}
	steps = append(steps,
		configStep{"Setting video encoder", func() error {
			return rec.SetVideoEncoder(hal.VideoEncoderH264)
		}},
		configStep{"Resolving output location", func() error {
			resolved, err := c.resolveOutputPath()
			if err != nil {
				return err
			}
			path = resolved
			c.actual = fileURI(path)
			c.publish()
			c.listener.ActualLocationChanged(c.actual)
			return nil
		}},
		configStep{"Opening output file", func() error {
			f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
			if err != nil {
				return err
			}
			c.output = f
			return nil
		}},
		configStep{"Setting output file", func() error {
			return rec.SetOutputFile(c.output)
		}},
		configStep{"Setting video size", func() error {
			return rec.SetVideoSize(c.video.Width, c.video.Height)
		}},
		configStep{"Setting video frame rate", func() error {
			return rec.SetVideoFrameRate(c.video.FrameRate)
		}},
		configStep{"Setting recorder parameters", func() error {
			return c.applyParameters(rec)
		}},
		configStep{"Preparing recorder", rec.Prepare},
	)
	return steps
}

// resolveOutputPath turns the requested location into a file path
func (c *Controller) resolveOutputPath() (string, error) {
	location := strings.TrimPrefix(c.location, "file://")

	if location == "" || storage.IsDir(location) {
		if c.opts.Storage == nil {
			return "", fmt.Errorf("no storage configured for default file names")
		}
		return c.opts.Storage.NextVideoFileName(location)
	}
	return location, nil
}

func (c *Controller) applyParameters(rec hal.Recorder) error {
	sound := c.sound
	if sound.Bitrate == 0 {
		sound.Bitrate = defaultAudioBitrate
	}
	if sound.Channels == 0 {
		sound.Channels = defaultAudioChannels
	}
	if sound.SampleRate == 0 {
		sound.SampleRate = defaultAudioSampling
	}

	params := []string{
		hal.FormatParameter(hal.ParamVideoBitrate, c.video.Bitrate),
		hal.FormatParameter(hal.ParamAudioBitrate, sound.Bitrate),
		hal.FormatParameter(hal.ParamAudioChannels, sound.Channels),
		hal.FormatParameter(hal.ParamAudioSampling, sound.SampleRate),
	}

	if c.opts.Metadata != nil {
		if loc, ok := c.opts.Metadata.Location(); ok {
			params = append(params,
				hal.FormatParameter(hal.ParamLatitude, loc.Latitude),
				hal.FormatParameter(hal.ParamLongitude, loc.Longitude))
		}
		params = append(params, hal.FormatParameter(hal.ParamOrientation, c.opts.Metadata.Orientation()))
	}

	for _, p := range params {
		if err := rec.SetParameters(p); err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
	}
	return nil
}

// abortStart undoes a partially configured start
func (c *Controller) abortStart() {
	c.closeOutput()
	c.deleteRecorder()
}

func (c *Controller) stopRecording() error {
	if c.rec == nil {
		slog.Warn("Cannot stop video recording, no recorder")
		return nil
	}
	if c.status != StatusRecording {
		slog.Warn("Cannot stop video recording, not recording", "status", c.status)
		return nil
	}

	c.setStatus(StatusFinalizing)
	c.stopTicker()

	var stopErr *Error
	if err := c.rec.Stop(); err != nil {
		stopErr = c.reportError(GeneralError, "Cannot stop video recording", err)
		if !c.forceTeardown {
			return stopErr
		}
		slog.Warn("Tearing down recording after failed stop")
	}

	// The recorder must be stopped before the audio worker is joined
	if c.audio != nil {
		c.audio.StopCapture()
	}

	if err := c.rec.Reset(); err != nil {
		slog.Warn("Failed to reset recorder", "error", err)
	}
	c.closeOutput()
	c.setRecordingState(StateStopped)
	c.deleteRecorder()

	slog.Info("Recording stopped", "location", c.actual, "duration_ms", c.durationMs)
	if stopErr != nil {
		return stopErr
	}
	return nil
}

// deleteRecorder releases the recorder and audio worker, restores the camera
// lock and returns the session to Unloaded.
func (c *Controller) deleteRecorder() {
	if c.audio != nil {
		c.audio.StopCapture()
		c.audio = nil
	}
	if c.rec != nil {
		c.rec.Release()
		c.rec = nil
	}
	c.generation++

	if c.opts.Camera != nil {
		if err := c.opts.Camera.ReacquireAfterRecording(); err != nil {
			slog.Warn("Failed to reacquire camera lock", "error", err)
		}
	}
	c.setStatus(StatusUnloaded)
}

func (c *Controller) closeOutput() {
	if c.output == nil {
		return
	}
	if err := c.output.Close(); err != nil {
		slog.Warn("Failed to close output file", "error", err)
	}
	c.output = nil
}

func (c *Controller) stopTicker() {
	if c.ticker != nil {
		c.ticker.Stop()
		c.ticker = nil
	}
}

func fileURI(path string) string {
	return (&url.URL{Scheme: "file", Path: path}).String()
}
