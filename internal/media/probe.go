package media

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

type probeOutput struct {
	Format struct {
		FormatName string `json:"format_name"`
		Duration   string `json:"duration"`
		BitRate    string `json:"bit_rate"`
	} `json:"format"`
	Streams []struct {
		CodecType string `json:"codec_type"`
		CodecName string `json:"codec_name"`
		Width     int    `json:"width"`
		Height    int    `json:"height"`
	} `json:"streams"`
}

type ProbeInfo struct {
	DurationSeconds float64
	BitRate         int64
	FormatName      string
	VideoCodec      string
	AudioCodec      string
	Width           int
	Height          int
}

func (p ProbeInfo) Resolution() string {
	if p.Width == 0 || p.Height == 0 {
		return ""
	}
	return fmt.Sprintf("%dx%d", p.Width, p.Height)
}

// Bitrate formats the bit rate as "{kbps}k", falling back to 128k.
func (p ProbeInfo) Bitrate() string {
	if p.BitRate <= 0 {
		return "128k"
	}
	return fmt.Sprintf("%dk", int64(math.Round(float64(p.BitRate)/1000)))
}

type prober struct {
	path   string
	runner commandRunner
}

func (p *prober) Probe(ctx context.Context, file string) (*ProbeInfo, error) {
	res, err := p.runner.Run(ctx, command{
		Name: p.path,
		Args: []string{"-v", "quiet", "-print_format", "json", "-show_format", "-show_streams", file},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to probe %s: %w", file, err)
	}

	var out probeOutput
	if err := json.Unmarshal([]byte(res.Stdout), &out); err != nil {
		return nil, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}

	info := &ProbeInfo{FormatName: out.Format.FormatName}
	info.DurationSeconds, _ = strconv.ParseFloat(out.Format.Duration, 64)
	info.BitRate, _ = strconv.ParseInt(out.Format.BitRate, 10, 64)

	for _, s := range out.Streams {
		switch s.CodecType {
		case "video":
			if info.VideoCodec == "" {
				info.VideoCodec = s.CodecName
				info.Width = s.Width
				info.Height = s.Height
			}
		case "audio":
			if info.AudioCodec == "" {
				info.AudioCodec = s.CodecName
			}
		}
	}

	return info, nil
}
