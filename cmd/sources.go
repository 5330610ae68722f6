package cmd

import (
	"fmt"
	"log/slog"

	"github.com/audiolibrelab/camcapture/internal/audio"
	"github.com/audiolibrelab/camcapture/internal/config"

	"github.com/spf13/cobra"
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List available audio sources",
	Long:  `List all available PipeWire audio sources that can be used as the recording microphone.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		all, _ := cmd.Flags().GetBool("all")

		backends := audio.GetAvailableBackends()
		fmt.Printf("Audio backends: %v\n", backends)
		if cfg != nil {
			fmt.Printf("Configured backend: %s (source %q)\n", cfg.Audio.Backend, cfg.Audio.Source)
		}
		fmt.Println()

		pw := audio.NewPipeWire()
		if err := listPipeWireSources(pw, all); err != nil {
			return err
		}

		if cfg != nil && cfg.Audio.Backend == config.AudioBackendPipeWire {
			if err := pw.ValidateSource(cfg.Audio.Source); err != nil {
				fmt.Printf("\nConfigured source is not usable: %v\n", err)
			} else {
				fmt.Printf("\nConfigured source is available\n")
			}
		}
		return nil
	},
}

// listPipeWireSources lists available PipeWire/JACK sources, or every port with all
func listPipeWireSources(pw *audio.PipeWire, all bool) error {
	list := pw.ListSources
	if all {
		list = pw.ListPorts
	}

	sources, err := list()
	if err != nil {
		slog.Debug("pw-link failed", "error", err)
		return fmt.Errorf("failed to get PipeWire sources: %w", err)
	}

	fmt.Printf("PIPEWIRE SOURCES (%d found):\n", len(sources))
	for i, source := range sources {
		fmt.Printf("  %d. %s\n", i+1, source)
	}

	fmt.Printf("\nUsage:\n")
	fmt.Printf("  Set audio.backend: pipewire and audio.source to a node name, or leave it empty for the default source\n")
	return nil
}

func init() {
	sourcesCmd.Flags().BoolP("all", "a", false, "list input ports too")
}
