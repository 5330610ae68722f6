package cmd

import (
	"fmt"

	"github.com/audiolibrelab/camcapture/internal/play"

	"github.com/spf13/cobra"
)

var playCmd = &cobra.Command{
	Use:   "play [recording]",
	Short: "Play a recording",
	Long: `Play a recording from the output directory with the first available video
player (mpv, vlc or ffplay). Without an argument the most recent recording is played.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var name string
		if len(args) == 1 {
			name = args[0]
		}

		if err := play.New(cfg).Play(name); err != nil {
			return fmt.Errorf("playback failed: %w", err)
		}
		return nil
	},
}
