package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/audiolibrelab/camcapture/internal/config"

	"github.com/spf13/cobra"
)

var (
	cfg          *config.Config
	cfgFile      string
	profile      string
	verboseLevel int

	// cfgLoaded is true when cfg came from a file that can be watched
	cfgLoaded bool
)

var rootCmd = &cobra.Command{
	Use:   "camcapture",
	Short: "Camera recording session controller",
	Long: `CamCapture records video with optional microphone audio from a camera
device into MP4 files.

It drives an ffmpeg encoder/muxer session, hands the camera over to it for the
duration of a recording and reports progress, either from the command line or
through a small HTTP control server.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Configure slog based on verbose level
		setupLogging(verboseLevel)

		// For sources command, only load config if explicitly provided
		if cmd.Name() == "sources" && cfgFile == "" {
			return nil
		}

		return loadConfig()
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/camcapture.yaml)")
	rootCmd.PersistentFlags().StringVar(&profile, "profile", "", "configuration profile to use (overrides active_config from file)")
	rootCmd.PersistentFlags().IntVarP(&verboseLevel, "verbose", "v", 0, "verbose level: 0=info, 1=debug, 2=ffmpeg output, 3=max tracing")

	// Add subcommands
	rootCmd.AddCommand(recordCmd)
	rootCmd.AddCommand(playCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(devicesCmd)
	rootCmd.AddCommand(sourcesCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(infoCmd)
}

// loadConfig resolves cfg from --config/--profile. Without --config the
// default file is optional and built-in defaults apply when it is missing.
func loadConfig() error {
	explicit := cfgFile != ""
	if !explicit {
		cfgFile = os.ExpandEnv("$HOME/.config/camcapture.yaml")
	}

	if !explicit {
		if _, err := os.Stat(cfgFile); errors.Is(err, os.ErrNotExist) {
			if profile != "" {
				return fmt.Errorf("profile %q requested but %s does not exist", profile, cfgFile)
			}
			slog.Debug("No config file found, using built-in defaults", "path", cfgFile)
			cfg = config.Default()
			cfgLoaded = false
			return nil
		}
	}

	var err error
	cfg, err = config.LoadWithProfile(cfgFile, profile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	cfgLoaded = true

	slog.Debug("Configuration loaded", "path", cfgFile, "profile", profile, "device", cfg.Camera.Device)
	return nil
}

// setupLogging configures slog based on the verbose level
func setupLogging(level int) {
	var slogLevel slog.Level
	switch level {
	case 0:
		slogLevel = slog.LevelInfo
	case 1:
		slogLevel = slog.LevelDebug
	case 2, 3:
		// Level 2 and 3 both use Debug level for slog
		// Level 3 will additionally set environment variables
		slogLevel = slog.LevelDebug
	default:
		slogLevel = slog.LevelInfo
	}

	// Configure text handler for clean terminal output
	opts := &slog.HandlerOptions{
		Level: slogLevel,
	}
	handler := slog.NewTextHandler(os.Stderr, opts)
	logger := slog.New(handler)
	slog.SetDefault(logger)

	// Set environment variables for maximum tracing (level 3)
	if level >= 3 {
		os.Setenv("PIPEWIRE_DEBUG", "3")
		os.Setenv("FFMPEG_LOGLEVEL", "debug")
	}
}
