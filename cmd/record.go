package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/audiolibrelab/camcapture/internal/recorder"
	"github.com/audiolibrelab/camcapture/internal/service"

	"github.com/spf13/cobra"
)

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record video and microphone audio",
	Long: `Record video from the configured camera, with audio from the configured
microphone when one is available, into a new MP4 file.

Recording runs until Ctrl+C, until --duration elapses, or until the
recorder reports an error.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		duration, _ := cmd.Flags().GetDuration("duration")
		output, _ := cmd.Flags().GetString("output")

		req, err := startRequestFromFlags(cmd)
		if err != nil {
			return err
		}

		slog.Debug("Creating service instance")
		svc, err := service.New(cfg, serviceOptions())
		if err != nil {
			return fmt.Errorf("failed to create camera service: %w", err)
		}
		defer svc.Close()

		if output != "" {
			if err := svc.SetOutputLocation(output); err != nil {
				return fmt.Errorf("failed to set output location: %w", err)
			}
		}

		id, events := svc.Subscribe()
		defer svc.Unsubscribe(id)

		session, err := svc.StartRecording(req)
		if err != nil {
			return err
		}
		slog.Info("Recording... Press Ctrl+C to stop", "file", session.OutputFile, "audio", session.Audio)

		// Handle interruption
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(sigChan)

		var timeout <-chan time.Time
		if duration > 0 {
			timer := time.NewTimer(duration)
			defer timer.Stop()
			timeout = timer.C
		}

		if err := waitForStop(events, sigChan, timeout); err != nil {
			return err
		}

		slog.Info("Stopping recording...")
		session, err = svc.StopRecording()
		if err != nil {
			return err
		}

		fmt.Printf("Recorded %s (%s)\n", session.OutputFile, time.Duration(session.DurationMs)*time.Millisecond)
		return nil
	},
}

// waitForStop blocks until the user interrupts, the timeout fires or the
// recording fails on its own. The last case is reported as an error.
func waitForStop(events <-chan service.Event, sig <-chan os.Signal, timeout <-chan time.Time) error {
	for {
		select {
		case <-sig:
			return nil
		case <-timeout:
			return nil
		case event, ok := <-events:
			if !ok {
				return fmt.Errorf("camera service closed")
			}
			switch event.Type {
			case service.EventError:
				return fmt.Errorf("recording failed: %s", event.Message)
			case service.EventDurationChanged:
				slog.Debug("Recording", "duration", time.Duration(event.DurationMs)*time.Millisecond)
			case service.EventStateChanged:
				if event.State == recorder.StateStopped.String() {
					return fmt.Errorf("recording stopped unexpectedly")
				}
			}
		}
	}
}

func startRequestFromFlags(cmd *cobra.Command) (service.StartRequest, error) {
	var req service.StartRequest
	latSet := cmd.Flags().Changed("latitude")
	lonSet := cmd.Flags().Changed("longitude")
	if latSet != lonSet {
		return req, fmt.Errorf("--latitude and --longitude must be given together")
	}
	if latSet {
		lat, _ := cmd.Flags().GetFloat64("latitude")
		lon, _ := cmd.Flags().GetFloat64("longitude")
		req.Latitude = &lat
		req.Longitude = &lon
	}
	return req, nil
}

// serviceOptions maps the verbose level onto ffmpeg's own log level
func serviceOptions() service.Options {
	var opts service.Options
	switch {
	case verboseLevel >= 3:
		opts.FFmpegLogLevel = "debug"
	case verboseLevel == 2:
		opts.FFmpegLogLevel = "info"
	}
	return opts
}

func init() {
	recordCmd.Flags().StringP("output", "o", "", "output file or directory (overrides config)")
	recordCmd.Flags().DurationP("duration", "d", 0, "stop automatically after this long (0 = until Ctrl+C)")
	recordCmd.Flags().Float64("latitude", 0, "geotag latitude")
	recordCmd.Flags().Float64("longitude", 0, "geotag longitude")
}
