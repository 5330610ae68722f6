package cmd

import (
	"fmt"
	"strconv"

	"github.com/audiolibrelab/camcapture/internal/camera"
	"github.com/audiolibrelab/camcapture/internal/config"

	"github.com/spf13/cobra"
)

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show resolved configuration and the next recording path",
	Long:  `Display the resolved configuration with inheritance indicators, the configured camera and the file name pattern of the next recording. Shows which values are inherited from default vs profile-specific.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Printf("=== CAMERA ===\n")
		if camera.IsVirtual(cfg.Camera.Device) {
			fmt.Printf("device: %s (virtual test source)\n", cfg.Camera.Device)
		} else {
			info, err := camera.NewDiscovery(cfg.Camera.Codename).Describe(cfg.Camera.Device)
			if err != nil {
				fmt.Printf("device: %s (%v)\n", cfg.Camera.Device, err)
			} else {
				fmt.Printf("device: %s\n", info.Path)
				fmt.Printf("description: %s\n", info.Description)
				fmt.Printf("orientation: %d\n", info.Orientation)
			}
		}

		fmt.Printf("\n=== FILE PATHS ===\n")
		fmt.Printf("config: %s\n", displayConfigFile())
		fmt.Printf("next_recording: %s/%s_<yyyyMMdd_HHmmssSSS>.%s\n", cfg.Output.Directory, cfg.Output.Prefix, cfg.Output.Extension)

		// Display resolved configuration with inheritance indicators
		fmt.Printf("\n=== RESOLVED CONFIGURATION ===\n")
		values := resolvedValues()
		for _, key := range config.InheritanceKeys() {
			fmt.Printf("%s: %s %s\n", key, values[key], getInheritanceIndicator(cfg.Inheritance[key]))
		}
		return nil
	},
}

func displayConfigFile() string {
	if !cfgLoaded {
		return "(built-in defaults)"
	}
	return cfgFile
}

// resolvedValues renders every tracked setting of cfg
func resolvedValues() map[string]string {
	location := "none"
	if cfg.Metadata.Latitude != nil && cfg.Metadata.Longitude != nil {
		location = fmt.Sprintf("%.6f,%.6f", *cfg.Metadata.Latitude, *cfg.Metadata.Longitude)
	}

	return map[string]string{
		"camera.device":                           cfg.Camera.Device,
		"camera.codename":                         cfg.Camera.Codename,
		"video.width":                             strconv.Itoa(cfg.Video.Width),
		"video.height":                            strconv.Itoa(cfg.Video.Height),
		"video.frame_rate":                        strconv.Itoa(cfg.Video.FrameRate),
		"video.bitrate":                           strconv.Itoa(cfg.Video.Bitrate),
		"audio.backend":                           cfg.Audio.Backend,
		"audio.source":                            cfg.Audio.Source,
		"audio.file":                              cfg.Audio.File,
		"audio.sample_rate":                       strconv.Itoa(cfg.Audio.SampleRate),
		"audio.channels":                          strconv.Itoa(cfg.Audio.Channels),
		"audio.bitrate":                           strconv.Itoa(cfg.Audio.Bitrate),
		"audio.setup_timeout":                     cfg.Audio.SetupTimeout.String(),
		"recorder.duration_interval":              cfg.Recorder.DurationInterval.String(),
		"recorder.ffmpeg":                         cfg.Recorder.FFmpeg,
		"recorder.stop_timeout":                   cfg.Recorder.StopTimeout.String(),
		"recorder.force_teardown_on_stop_failure": strconv.FormatBool(cfg.Recorder.ForceTeardown()),
		"output.directory":                        cfg.Output.Directory,
		"output.prefix":                           cfg.Output.Prefix,
		"output.extension":                        cfg.Output.Extension,
		"metadata.orientation":                    strconv.Itoa(cfg.Metadata.Orientation),
		"metadata.location":                       location,
		"server.host":                             cfg.Server.Host,
		"server.port":                             strconv.Itoa(cfg.Server.Port),
	}
}

// getInheritanceIndicator returns a formatted indicator for inheritance status
func getInheritanceIndicator(status string) string {
	switch status {
	case "inherited":
		return "[inherited]"
	case "profile-specific":
		return "[profile-specific]"
	default:
		return "[default]"
	}
}
