package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/fsnotify/fsnotify"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/audiolibrelab/camcapture/internal/config"
	"github.com/audiolibrelab/camcapture/internal/server"
	"github.com/audiolibrelab/camcapture/internal/service"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the web server for remote control",
	Long: `Start the CamCapture control server to start and stop recordings over HTTP.
Recording progress and errors are streamed to WebSocket clients on /api/events.

When a config file is in use it is watched, and video, audio and metadata
changes apply to the next recording.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		addr := cfg.ServerAddress()
		if cmd.Flags().Changed("port") {
			port, _ := cmd.Flags().GetInt("port")
			addr = net.JoinHostPort(cfg.Server.Host, strconv.Itoa(port))
		}

		if verboseLevel == 0 {
			gin.SetMode(gin.ReleaseMode)
		}

		svc, err := service.New(cfg, serviceOptions())
		if err != nil {
			return fmt.Errorf("failed to create camera service: %w", err)
		}
		defer func() {
			if err := svc.Close(); err != nil {
				slog.Error("Failed to close camera service", "error", err)
			}
		}()

		if cfgLoaded {
			watchConfig(svc)
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		srv := server.New(svc, addr)
		slog.Info("CamCapture web server starting", "addr", addr, "config", cfgFile, "device", cfg.Camera.Device)

		// Start server (this blocks)
		if err := srv.Start(ctx); err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	},
}

// watchConfig reloads the active profile whenever the config file changes
func watchConfig(svc service.Service) {
	viper.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		slog.Info("Config file changed, reloading", "file", e.Name, "op", e.Op.String())

		reloaded, err := config.LoadWithProfile(cfgFile, profile)
		if err != nil {
			slog.Error("Failed to reload config, keeping current settings", "error", err)
			return
		}
		if err := svc.ApplyConfig(reloaded); err != nil {
			slog.Error("Failed to apply reloaded config", "error", err)
			return
		}
		slog.Info("Config reloaded", "width", reloaded.Video.Width, "height", reloaded.Video.Height, "frame_rate", reloaded.Video.FrameRate)
	})
	viper.WatchConfig()
}

func init() {
	serveCmd.Flags().Int("port", 8080, "port for the web server (overrides server.port)")
}
