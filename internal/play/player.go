package play

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/audiolibrelab/camcapture/internal/config"
)

// Preferred video players in order of preference
var players = []string{"mpv", "vlc", "ffplay"}

type Player struct {
	cfg      *config.Config
	lookPath func(file string) (string, error)
	run      func(name string, args ...string) error
}

func New(cfg *config.Config) *Player {
	return &Player{
		cfg:      cfg,
		lookPath: exec.LookPath,
		run: func(name string, args ...string) error {
			cmd := exec.Command(name, args...)
			cmd.Stdout = os.Stdout
			cmd.Stderr = os.Stderr
			return cmd.Run()
		},
	}
}

// Play plays a recording from the output directory. An empty name plays
// the most recent recording.
func (p *Player) Play(name string) error {
	videoFile, err := p.Resolve(name)
	if err != nil {
		return err
	}

	player, err := p.findVideoPlayer()
	if err != nil {
		return fmt.Errorf("no suitable video player found: %w", err)
	}

	var args []string
	switch player {
	case "mpv":
		args = []string{"--keep-open=no", videoFile}
	case "vlc":
		args = []string{"--play-and-exit", videoFile}
	case "ffplay":
		args = []string{"-autoexit", videoFile}
	default:
		return fmt.Errorf("unsupported player: %s", player)
	}

	slog.Info("Playing recording", "file", videoFile, "player", player)
	if err := p.run(player, args...); err != nil {
		return fmt.Errorf("playback failed with %s: %w", player, err)
	}

	slog.Info("Playback completed", "file", videoFile)
	return nil
}

// Resolve maps a recording name to a path in the output directory
func (p *Player) Resolve(name string) (string, error) {
	if name == "" {
		return p.latest()
	}

	if name != filepath.Base(name) {
		return "", fmt.Errorf("invalid recording name: %s", name)
	}
	if filepath.Ext(name) == "" {
		name += "." + p.cfg.Output.Extension
	}

	videoFile := filepath.Join(p.cfg.Output.Directory, name)
	if _, err := os.Stat(videoFile); err != nil {
		return "", fmt.Errorf("video file not found: %s", videoFile)
	}
	return videoFile, nil
}

func (p *Player) latest() (string, error) {
	pattern := filepath.Join(p.cfg.Output.Directory, "*."+p.cfg.Output.Extension)
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return "", fmt.Errorf("failed to list recordings: %w", err)
	}

	type candidate struct {
		path    string
		modTime int64
	}
	var candidates []candidate
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil || info.IsDir() {
			continue
		}
		candidates = append(candidates, candidate{path: m, modTime: info.ModTime().UnixNano()})
	}
	if len(candidates) == 0 {
		return "", fmt.Errorf("no recordings found in %s", p.cfg.Output.Directory)
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].modTime > candidates[j].modTime
	})
	return candidates[0].path, nil
}

func (p *Player) findVideoPlayer() (string, error) {
	for _, player := range players {
		if _, err := p.lookPath(player); err == nil {
			return player, nil
		}
	}

	return "", fmt.Errorf("no video player found (tried: %s)", strings.Join(players, ", "))
}
