package softrec

import (
	"fmt"
	"strconv"

	"github.com/audiolibrelab/camcapture/internal/camera"
	"github.com/audiolibrelab/camcapture/internal/hal"
)

const (
	defaultAudioSampling = 48000
	defaultAudioChannels = 2
	defaultAudioBitrate  = 128000
)

// buildArgs renders the ffmpeg command line for the current configuration.
// Callers hold mu.
func (r *Recorder) buildArgs() ([]string, error) {
	if r.camera == nil {
		return nil, fmt.Errorf("%w: no camera bound", hal.ErrInvalidState)
	}

	videoBitrate, err := hal.IntParameter(r.params, hal.ParamVideoBitrate, 0)
	if err != nil {
		return nil, err
	}
	rotation, err := hal.IntParameter(r.params, hal.ParamOrientation, 0)
	if err != nil {
		return nil, err
	}

	vcodec, ok := videoCodecs[r.videoEncoder]
	if !ok {
		return nil, fmt.Errorf("unsupported video encoder %d", r.videoEncoder)
	}
	acodec, ok := audioCodecs[r.audioEncoder]
	if !ok {
		return nil, fmt.Errorf("unsupported audio encoder %d", r.audioEncoder)
	}
	container, ok := containerFormats[r.outputFormat]
	if !ok {
		return nil, fmt.Errorf("unsupported output format %d", r.outputFormat)
	}

	args := []string{"-hide_banner", "-loglevel", r.opts.LogLevel}

	device := r.camera.Device()
	size := fmt.Sprintf("%dx%d", r.width, r.height)
	if camera.IsVirtual(device) {
		args = append(args,
			"-re", "-f", "lavfi",
			"-i", fmt.Sprintf("testsrc=size=%s:rate=%d", size, r.frameRate))
	} else {
		args = append(args,
			"-f", "v4l2",
			"-framerate", strconv.Itoa(r.frameRate),
			"-video_size", size,
			"-i", device)
	}

	if r.hasAudio {
		sampling, err := hal.IntParameter(r.params, hal.ParamAudioSampling, defaultAudioSampling)
		if err != nil {
			return nil, err
		}
		channels, err := hal.IntParameter(r.params, hal.ParamAudioChannels, defaultAudioChannels)
		if err != nil {
			return nil, err
		}
		args = append(args,
			"-f", "s16le",
			"-ar", strconv.Itoa(sampling),
			"-ac", strconv.Itoa(channels),
			"-i", "pipe:0")
	}

	args = append(args, "-map", "0:v:0")
	if r.hasAudio {
		args = append(args, "-map", "1:a:0")
	}

	args = append(args, "-c:v", vcodec, "-pix_fmt", "yuv420p")
	if videoBitrate > 0 {
		args = append(args, "-b:v", strconv.Itoa(videoBitrate))
	}

	if r.hasAudio {
		audioBitrate, err := hal.IntParameter(r.params, hal.ParamAudioBitrate, defaultAudioBitrate)
		if err != nil {
			return nil, err
		}
		args = append(args, "-c:a", acodec, "-b:a", strconv.Itoa(audioBitrate))
	}

	if rotation != 0 {
		args = append(args, "-metadata:s:v:0", "rotate="+strconv.Itoa(rotation))
	}

	if lat, ok := r.params[hal.ParamLatitude]; ok {
		if lon, ok := r.params[hal.ParamLongitude]; ok {
			args = append(args, "-metadata", "location="+iso6709(lat, lon))
		}
	}

	args = append(args,
		"-f", container,
		"-movflags", "frag_keyframe+empty_moov",
		"pipe:1")
	return args, nil
}

var (
	videoCodecs = map[hal.VideoEncoder]string{
		hal.VideoEncoderDefault: "libx264",
		hal.VideoEncoderH264:    "libx264",
	}
	audioCodecs = map[hal.AudioEncoder]string{
		hal.AudioEncoderDefault: "aac",
		hal.AudioEncoderAAC:     "aac",
	}
	containerFormats = map[hal.OutputFormat]string{
		hal.OutputFormatDefault: "mp4",
		hal.OutputFormatMPEG4:   "mp4",
	}
)

// iso6709 renders a location the way the mp4 muxer stores it, e.g. +48.8577+002.2950/
func iso6709(lat, lon string) string {
	latF, err1 := strconv.ParseFloat(lat, 64)
	lonF, err2 := strconv.ParseFloat(lon, 64)
	if err1 != nil || err2 != nil {
		return lat + lon + "/"
	}
	return fmt.Sprintf("%+08.4f%+09.4f/", latF, lonF)
}
