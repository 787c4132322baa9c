package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"time"

	"github.com/bytedance/sonic"

	"github.com/kikiluvv/overlaycast/pkg/util"
)

// ErrNoVideoStream is returned when a probed source carries no video
var ErrNoVideoStream = errors.New("no video stream")

// ProbeVideo extracts metadata from a file or stream URL
func (e *Executor) ProbeVideo(ctx context.Context, source string) (*VideoInfo, error) {
	if source == "" {
		return nil, fmt.Errorf("source is required")
	}

	args := []string{"-v", "quiet"}
	args = append(args, e.inputArgs(source)...)
	args = append(args,
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		"-select_streams", "v:0",
		source,
	)

	cmd := exec.CommandContext(ctx, e.ffprobePath, args...)
	output, err := cmd.Output()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("ffprobe failed: %w", err)
	}

	info, err := parseProbe(output)
	if err != nil {
		return nil, err
	}
	info.Source = source

	e.logger.Debug().
		Str("source", source).
		Int("width", info.Width).
		Int("height", info.Height).
		Float64("fps", info.FPS).
		Str("codec", info.VideoCodec).
		Msg("probed source")

	return info, nil
}

func parseProbe(output []byte) (*VideoInfo, error) {
	var probe probeResult
	if err := sonic.Unmarshal(output, &probe); err != nil {
		return nil, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}

	info := &VideoInfo{}

	if dur, err := strconv.ParseFloat(probe.Format.Duration, 64); err == nil {
		info.Duration = time.Duration(dur * float64(time.Second))
	}

	if br, err := strconv.ParseInt(probe.Format.BitRate, 10, 64); err == nil {
		info.Bitrate = br
	}

	for _, stream := range probe.Streams {
		if stream.CodecType != "video" {
			continue
		}
		info.Width = stream.Width
		info.Height = stream.Height
		info.VideoCodec = stream.CodecName
		info.FPS = util.ParseFrameRate(stream.AvgFrameRate)
		if info.FPS == 0 {
			info.FPS = util.ParseFrameRate(stream.RFrameRate)
		}
		break
	}

	if info.Width <= 0 || info.Height <= 0 {
		return nil, ErrNoVideoStream
	}
	return info, nil
}

// probeResult matches ffprobe JSON output structure
type probeResult struct {
	Format struct {
		Duration string `json:"duration"`
		BitRate  string `json:"bit_rate"`
	} `json:"format"`
	Streams []struct {
		CodecType    string `json:"codec_type"`
		CodecName    string `json:"codec_name"`
		Width        int    `json:"width"`
		Height       int    `json:"height"`
		RFrameRate   string `json:"r_frame_rate"`
		AvgFrameRate string `json:"avg_frame_rate"`
	} `json:"streams"`
}
