package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type RootConfig struct {
	ActiveConfig string             `mapstructure:"active_config" yaml:"active_config"`
	Configs      map[string]*Config `mapstructure:"configs" yaml:"configs"`
}

type Config struct {
	Camera   CameraConfig   `mapstructure:"camera" yaml:"camera"`
	Video    VideoConfig    `mapstructure:"video" yaml:"video"`
	Audio    AudioConfig    `mapstructure:"audio" yaml:"audio"`
	Recorder RecorderConfig `mapstructure:"recorder" yaml:"recorder"`
	Output   OutputConfig   `mapstructure:"output" yaml:"output"`
	Metadata MetadataConfig `mapstructure:"metadata" yaml:"metadata"`
	Server   ServerConfig   `mapstructure:"server" yaml:"server"`

	// Internal field to track inheritance information for info command
	Inheritance map[string]string `mapstructure:"-" yaml:"-"`
}

type CameraConfig struct {
	Device   string `mapstructure:"device" yaml:"device"`     // "/dev/video0" or "test"
	Codename string `mapstructure:"codename" yaml:"codename"` // product codename used for orientation overrides
}

type VideoConfig struct {
	Width     int `mapstructure:"width" yaml:"width"`
	Height    int `mapstructure:"height" yaml:"height"`
	FrameRate int `mapstructure:"frame_rate" yaml:"frame_rate"`
	Bitrate   int `mapstructure:"bitrate" yaml:"bitrate"`
}

type AudioConfig struct {
	Backend      string        `mapstructure:"backend" yaml:"backend"` // "pipewire", "miniaudio", "wav", "tone", "disabled"
	Source       string        `mapstructure:"source" yaml:"source"`   // PipeWire target node, empty for default
	File         string        `mapstructure:"file" yaml:"file"`       // input file for the wav backend
	SampleRate   int           `mapstructure:"sample_rate" yaml:"sample_rate"`
	Channels     int           `mapstructure:"channels" yaml:"channels"`
	Bitrate      int           `mapstructure:"bitrate" yaml:"bitrate"`
	SetupTimeout time.Duration `mapstructure:"setup_timeout" yaml:"setup_timeout"`
}

type RecorderConfig struct {
	DurationInterval           time.Duration `mapstructure:"duration_interval" yaml:"duration_interval"`
	ForceTeardownOnStopFailure *bool         `mapstructure:"force_teardown_on_stop_failure" yaml:"force_teardown_on_stop_failure,omitempty"`
	FFmpeg                     string        `mapstructure:"ffmpeg" yaml:"ffmpeg"`
	StopTimeout                time.Duration `mapstructure:"stop_timeout" yaml:"stop_timeout"`
}

type OutputConfig struct {
	Directory string `mapstructure:"directory" yaml:"directory"`
	Prefix    string `mapstructure:"prefix" yaml:"prefix"`
	Extension string `mapstructure:"extension" yaml:"extension"`
}

type MetadataConfig struct {
	Orientation int      `mapstructure:"orientation" yaml:"orientation"`
	Latitude    *float64 `mapstructure:"latitude" yaml:"latitude,omitempty"`
	Longitude   *float64 `mapstructure:"longitude" yaml:"longitude,omitempty"`
}

type ServerConfig struct {
	Host string `mapstructure:"host" yaml:"host"`
	Port int    `mapstructure:"port" yaml:"port"`
}

// Supported audio backends
const (
	AudioBackendPipeWire  = "pipewire"
	AudioBackendMiniaudio = "miniaudio"
	AudioBackendWAV       = "wav"
	AudioBackendTone      = "tone"
	AudioBackendDisabled  = "disabled"
)

// Default returns the built-in configuration every profile is layered on
func Default() *Config {
	return &Config{
		Camera: CameraConfig{
			Device: "/dev/video0",
		},
		Video: VideoConfig{
			Width:     1280,
			Height:    720,
			FrameRate: 30,
			Bitrate:   5000000,
		},
		Audio: AudioConfig{
			Backend:      AudioBackendPipeWire,
			SampleRate:   96000,
			Channels:     2,
			Bitrate:      48000,
			SetupTimeout: 5 * time.Second,
		},
		Recorder: RecorderConfig{
			DurationInterval: time.Second,
			FFmpeg:           "ffmpeg",
			StopTimeout:      5 * time.Second,
		},
		Output: OutputConfig{
			Directory: filepath.Join(os.Getenv("HOME"), "Videos"),
			Prefix:    "video",
			Extension: "mp4",
		},
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
	}
}

// ForceTeardown reports whether a failed hardware stop still releases every resource
func (r RecorderConfig) ForceTeardown() bool {
	if r.ForceTeardownOnStopFailure == nil {
		return true
	}
	return *r.ForceTeardownOnStopFailure
}

// ServerAddress returns host:port for the control server
func (c *Config) ServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func LoadWithProfile(configFile, profile string) (*Config, error) {
	if configFile == "" {
		return nil, fmt.Errorf("no config file specified, use --config flag")
	}

	rootConfig, err := ValidateConfigurationFormat(configFile)
	if err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	configName := profile
	if configName == "" {
		configName = rootConfig.ActiveConfig
	}
	if configName == "" {
		configName = "default"
	}

	selectedProfile, exists := rootConfig.Configs[configName]
	if !exists {
		return nil, fmt.Errorf("configuration profile '%s' not found", configName)
	}

	// Built-in defaults, then the "default" profile, then the selected one
	base := Default()
	if configName != "default" {
		if defaultProfile, exists := rootConfig.Configs["default"]; exists {
			base = mergeConfigs(base, defaultProfile)
		}
	}
	selectedConfig := mergeConfigs(base, selectedProfile)

	selectedConfig.Output.Directory = expandPath(selectedConfig.Output.Directory)
	selectedConfig.Audio.File = expandPath(selectedConfig.Audio.File)

	if err := Validate(selectedConfig); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return selectedConfig, nil
}

// UpdateActiveConfig updates the active_config field in the config file
func UpdateActiveConfig(configFile, newActiveConfig string) error {
	if configFile == "" {
		return fmt.Errorf("no config file specified")
	}

	// Create a new viper instance to avoid interfering with the global one
	v := viper.New()
	v.SetConfigFile(configFile)

	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("error reading config file %s: %w", configFile, err)
	}

	v.Set("active_config", newActiveConfig)

	if err := v.WriteConfig(); err != nil {
		return fmt.Errorf("error writing config file %s: %w", configFile, err)
	}

	return nil
}

// mergeConfigs layers profile over base. Zero values in profile mean
// "not set" and fall back to base; every field the profile sets is
// recorded as profile-specific in the result's Inheritance map.
func mergeConfigs(base, profile *Config) *Config {
	result := &Config{Inheritance: make(map[string]string)}
	if base != nil {
		copied := *base
		copied.Inheritance = nil
		*result = copied
		result.Inheritance = make(map[string]string)
	}

	for _, key := range inheritanceKeys {
		result.Inheritance[key] = "inherited"
	}

	if profile == nil {
		return result
	}

	setString := func(key string, dst *string, v string) {
		if v != "" {
			*dst = v
			result.Inheritance[key] = "profile-specific"
		}
	}
	setInt := func(key string, dst *int, v int) {
		if v != 0 {
			*dst = v
			result.Inheritance[key] = "profile-specific"
		}
	}
	setDuration := func(key string, dst *time.Duration, v time.Duration) {
		if v != 0 {
			*dst = v
			result.Inheritance[key] = "profile-specific"
		}
	}

	setString("camera.device", &result.Camera.Device, profile.Camera.Device)
	setString("camera.codename", &result.Camera.Codename, profile.Camera.Codename)

	setInt("video.width", &result.Video.Width, profile.Video.Width)
	setInt("video.height", &result.Video.Height, profile.Video.Height)
	setInt("video.frame_rate", &result.Video.FrameRate, profile.Video.FrameRate)
	setInt("video.bitrate", &result.Video.Bitrate, profile.Video.Bitrate)

	setString("audio.backend", &result.Audio.Backend, profile.Audio.Backend)
	setString("audio.source", &result.Audio.Source, profile.Audio.Source)
	setString("audio.file", &result.Audio.File, profile.Audio.File)
	setInt("audio.sample_rate", &result.Audio.SampleRate, profile.Audio.SampleRate)
	setInt("audio.channels", &result.Audio.Channels, profile.Audio.Channels)
	setInt("audio.bitrate", &result.Audio.Bitrate, profile.Audio.Bitrate)
	setDuration("audio.setup_timeout", &result.Audio.SetupTimeout, profile.Audio.SetupTimeout)

	setDuration("recorder.duration_interval", &result.Recorder.DurationInterval, profile.Recorder.DurationInterval)
	setString("recorder.ffmpeg", &result.Recorder.FFmpeg, profile.Recorder.FFmpeg)
	setDuration("recorder.stop_timeout", &result.Recorder.StopTimeout, profile.Recorder.StopTimeout)
	if profile.Recorder.ForceTeardownOnStopFailure != nil {
		v := *profile.Recorder.ForceTeardownOnStopFailure
		result.Recorder.ForceTeardownOnStopFailure = &v
		result.Inheritance["recorder.force_teardown_on_stop_failure"] = "profile-specific"
	}

	setString("output.directory", &result.Output.Directory, profile.Output.Directory)
	setString("output.prefix", &result.Output.Prefix, profile.Output.Prefix)
	setString("output.extension", &result.Output.Extension, profile.Output.Extension)

	setInt("metadata.orientation", &result.Metadata.Orientation, profile.Metadata.Orientation)
	if profile.Metadata.Latitude != nil && profile.Metadata.Longitude != nil {
		lat, lon := *profile.Metadata.Latitude, *profile.Metadata.Longitude
		result.Metadata.Latitude = &lat
		result.Metadata.Longitude = &lon
		result.Inheritance["metadata.location"] = "profile-specific"
	}

	setString("server.host", &result.Server.Host, profile.Server.Host)
	setInt("server.port", &result.Server.Port, profile.Server.Port)

	return result
}

var inheritanceKeys = []string{
	"camera.device", "camera.codename",
	"video.width", "video.height", "video.frame_rate", "video.bitrate",
	"audio.backend", "audio.source", "audio.file", "audio.sample_rate", "audio.channels", "audio.bitrate", "audio.setup_timeout",
	"recorder.duration_interval", "recorder.ffmpeg", "recorder.stop_timeout", "recorder.force_teardown_on_stop_failure",
	"output.directory", "output.prefix", "output.extension",
	"metadata.orientation", "metadata.location",
	"server.host", "server.port",
}

// InheritanceKeys returns the tracked settings in display order
func InheritanceKeys() []string {
	keys := make([]string, len(inheritanceKeys))
	copy(keys, inheritanceKeys)
	return keys
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, path[2:])
	}
	return path
}

// Validate checks a resolved configuration
func Validate(c *Config) error {
	if c.Camera.Device == "" {
		return fmt.Errorf("camera.device is required")
	}

	if c.Video.Width <= 0 || c.Video.Width > 8192 {
		return fmt.Errorf("video.width must be in 1..8192, got: %d", c.Video.Width)
	}
	if c.Video.Height <= 0 || c.Video.Height > 8192 {
		return fmt.Errorf("video.height must be in 1..8192, got: %d", c.Video.Height)
	}
	if c.Video.FrameRate <= 0 || c.Video.FrameRate > 240 {
		return fmt.Errorf("video.frame_rate must be in 1..240, got: %d", c.Video.FrameRate)
	}
	if c.Video.Bitrate <= 0 {
		return fmt.Errorf("video.bitrate must be > 0, got: %d", c.Video.Bitrate)
	}

	switch c.Audio.Backend {
	case AudioBackendPipeWire, AudioBackendMiniaudio, AudioBackendTone, AudioBackendDisabled:
	case AudioBackendWAV:
		if c.Audio.File == "" {
			return fmt.Errorf("audio.file is required for the wav backend")
		}
	default:
		return fmt.Errorf("audio.backend must be one of pipewire, miniaudio, wav, tone, disabled, got: %s", c.Audio.Backend)
	}
	if c.Audio.Channels < 1 || c.Audio.Channels > 2 {
		return fmt.Errorf("audio.channels must be 1 or 2, got: %d", c.Audio.Channels)
	}
	if c.Audio.SampleRate <= 0 {
		return fmt.Errorf("audio.sample_rate must be > 0, got: %d", c.Audio.SampleRate)
	}
	if c.Audio.Bitrate <= 0 {
		return fmt.Errorf("audio.bitrate must be > 0, got: %d", c.Audio.Bitrate)
	}
	if c.Audio.SetupTimeout <= 0 {
		return fmt.Errorf("audio.setup_timeout must be > 0, got: %s", c.Audio.SetupTimeout)
	}

	if c.Recorder.DurationInterval <= 0 {
		return fmt.Errorf("recorder.duration_interval must be > 0, got: %s", c.Recorder.DurationInterval)
	}
	if c.Recorder.StopTimeout <= 0 {
		return fmt.Errorf("recorder.stop_timeout must be > 0, got: %s", c.Recorder.StopTimeout)
	}

	if c.Output.Directory == "" {
		return fmt.Errorf("output.directory is required")
	}
	if c.Output.Extension == "" || strings.ContainsAny(c.Output.Extension, "./") {
		return fmt.Errorf("output.extension must be a bare extension, got: %q", c.Output.Extension)
	}

	switch c.Metadata.Orientation {
	case 0, 90, 180, 270:
	default:
		return fmt.Errorf("metadata.orientation must be 0, 90, 180 or 270, got: %d", c.Metadata.Orientation)
	}

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in 0..65535, got: %d", c.Server.Port)
	}

	return nil
}

// ValidateConfigurationFormat validates the configuration file format and returns parsed config
func ValidateConfigurationFormat(configFile string) (*RootConfig, error) {
	viper.SetConfigFile(configFile)

	viper.SetEnvPrefix("CAMCAPTURE")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
	}

	var rootConfig RootConfig
	if err := viper.Unmarshal(&rootConfig); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if len(rootConfig.Configs) == 0 {
		return nil, fmt.Errorf("configs section is required and cannot be empty")
	}

	for name, profile := range rootConfig.Configs {
		if profile == nil {
			return nil, fmt.Errorf("invalid config '%s': profile is empty", name)
		}
	}

	if rootConfig.ActiveConfig != "" {
		if _, ok := rootConfig.Configs[rootConfig.ActiveConfig]; !ok {
			return nil, fmt.Errorf("active_config '%s' does not name a profile", rootConfig.ActiveConfig)
		}
	}

	return &rootConfig, nil
}
