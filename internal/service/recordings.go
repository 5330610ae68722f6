package service

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrInvalidRecording is returned for names that are not a plain file name
	ErrInvalidRecording = errors.New("invalid recording name")

	// ErrRecordingNotFound is returned when the recording does not exist
	ErrRecordingNotFound = errors.New("recording not found")
)

// RecordingInfo describes a finished recording in the output directory
type RecordingInfo struct {
	Name         string    `json:"name"`
	Path         string    `json:"path"`
	Size         int64     `json:"size"`
	SizeHuman    string    `json:"size_human"`
	ModTime      time.Time `json:"mod_time"`
	ModTimeHuman string    `json:"mod_time_human"`
	AnalyzeURL   string    `json:"analyze_url"`
}

// RecordingAnalysis contains stream information extracted from a recording
type RecordingAnalysis struct {
	Filename string       `json:"filename"`
	Duration float64      `json:"duration_seconds"`
	Streams  []StreamInfo `json:"streams"`
}

// StreamInfo describes one stream of a recording
type StreamInfo struct {
	Index      int    `json:"index"`
	Type       string `json:"type"`
	Codec      string `json:"codec"`
	Width      int    `json:"width,omitempty"`
	Height     int    `json:"height,omitempty"`
	Channels   int    `json:"channels,omitempty"`
	SampleRate int    `json:"sample_rate,omitempty"`
	Rotation   int    `json:"rotation,omitempty"`
}

// ListRecordings returns recordings in the output directory, newest first
func (s *CameraService) ListRecordings() ([]RecordingInfo, error) {
	cfg := s.GetConfig()
	recordingDir := s.storage.Directory()
	ext := "." + strings.ToLower(cfg.Output.Extension)

	files, err := os.ReadDir(recordingDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read recordings directory: %w", err)
	}

	var recordings []RecordingInfo
	for _, file := range files {
		if file.IsDir() || strings.ToLower(filepath.Ext(file.Name())) != ext {
			continue
		}

		info, err := file.Info()
		if err != nil {
			slog.Warn("Failed to get file info", "file", file.Name(), "error", err)
			continue
		}

		recordings = append(recordings, RecordingInfo{
			Name:         file.Name(),
			Path:         filepath.Join(recordingDir, file.Name()),
			Size:         info.Size(),
			SizeHuman:    formatBytes(info.Size()),
			ModTime:      info.ModTime(),
			ModTimeHuman: info.ModTime().Format("2006-01-02 15:04:05"),
			AnalyzeURL:   fmt.Sprintf("/api/recordings/%s/analyze", file.Name()),
		})
	}

	sort.Slice(recordings, func(i, j int) bool {
		return recordings[i].ModTime.After(recordings[j].ModTime)
	})
	return recordings, nil
}

// AnalyzeRecording extracts stream information using ffprobe
func (s *CameraService) AnalyzeRecording(filename string) (*RecordingAnalysis, error) {
	if filename == "" || filename == "." || filename == ".." || filename != filepath.Base(filename) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidRecording, filename)
	}

	filePath := filepath.Join(s.storage.Directory(), filename)
	if _, err := os.Stat(filePath); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrRecordingNotFound, filename)
	}

	cmd := exec.Command("ffprobe",
		"-v", "quiet",
		"-print_format", "json",
		"-show_streams",
		"-show_format",
		filePath,
	)

	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffprobe failed for %s: %w", filename, err)
	}

	analysis, err := parseProbeOutput(filename, output)
	if err != nil {
		return nil, err
	}

	slog.Debug("Recording analysis completed", "filename", filename, "streams", len(analysis.Streams))
	return analysis, nil
}

func parseProbeOutput(filename string, output []byte) (*RecordingAnalysis, error) {
	var probeResult struct {
		Streams []struct {
			Index      int               `json:"index"`
			CodecType  string            `json:"codec_type"`
			CodecName  string            `json:"codec_name"`
			Width      int               `json:"width"`
			Height     int               `json:"height"`
			Channels   int               `json:"channels"`
			SampleRate string            `json:"sample_rate"`
			Tags       map[string]string `json:"tags"`
		} `json:"streams"`
		Format struct {
			Duration string `json:"duration"`
		} `json:"format"`
	}

	if err := json.Unmarshal(output, &probeResult); err != nil {
		return nil, fmt.Errorf("failed to parse ffprobe output for %s: %w", filename, err)
	}

	analysis := &RecordingAnalysis{Filename: filename}
	analysis.Duration, _ = strconv.ParseFloat(probeResult.Format.Duration, 64)

	for _, stream := range probeResult.Streams {
		info := StreamInfo{
			Index:    stream.Index,
			Type:     stream.CodecType,
			Codec:    stream.CodecName,
			Width:    stream.Width,
			Height:   stream.Height,
			Channels: stream.Channels,
		}
		info.SampleRate, _ = strconv.Atoi(stream.SampleRate)
		info.Rotation, _ = strconv.Atoi(stream.Tags["rotate"])
		analysis.Streams = append(analysis.Streams, info)
	}
	return analysis, nil
}

// formatBytes formats bytes in human readable format
func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
