package probe

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// FFprobe は ffprobe バイナリを呼び出す Prober 実装です。
type FFprobe struct {
	Binary string
}

// NewFFprobe は FFprobe を作成します。binary が空なら "ffprobe" を使います。
func NewFFprobe(binary string) *FFprobe {
	if binary == "" {
		binary = "ffprobe"
	}
	return &FFprobe{Binary: binary}
}

// Probe は ffprobe の JSON 出力を 1 回だけ取得して解析します。
func (p *FFprobe) Probe(ctx context.Context, path string) (*Result, error) {
	cmd := exec.CommandContext(ctx, p.Binary,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format", "-show_streams",
		path,
	)

	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffprobe %q: %w", path, err)
	}
	return ParseJSON(out)
}

// ParseJSON は ffprobe の JSON 出力を Result に変換します。
func ParseJSON(data []byte) (*Result, error) {
	var raw ffprobeOutput
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse ffprobe JSON: %w", err)
	}

	res := &Result{
		Format: Format{
			Name:       raw.Format.FormatName,
			RawBitRate: strings.TrimSpace(raw.Format.BitRate),
			BitRate:    parseInt64(raw.Format.BitRate),
			Duration:   parseFloat(raw.Format.Duration),
			Size:       parseInt64(raw.Format.Size),
		},
	}
	for i := range raw.Streams {
		s := &raw.Streams[i]
		switch s.CodecType {
		case "video":
			if res.Video != nil || s.Disposition["attached_pic"] == 1 {
				continue
			}
			res.Video = &VideoStream{
				Codec:   s.CodecName,
				Width:   s.Width,
				Height:  s.Height,
				BitRate: parseInt64(s.BitRate),
			}
		case "audio":
			if res.Audio != nil {
				continue
			}
			res.Audio = &AudioStream{
				Codec:    s.CodecName,
				Channels: s.Channels,
			}
		}
	}
	return res, nil
}

type ffprobeOutput struct {
	Format  ffprobeFormat   `json:"format"`
	Streams []ffprobeStream `json:"streams"`
}

type ffprobeFormat struct {
	FormatName string `json:"format_name"`
	Duration   string `json:"duration"`
	Size       string `json:"size"`
	BitRate    string `json:"bit_rate"`
}

type ffprobeStream struct {
	CodecName   string         `json:"codec_name"`
	CodecType   string         `json:"codec_type"`
	Width       int            `json:"width"`
	Height      int            `json:"height"`
	BitRate     string         `json:"bit_rate"`
	Channels    int            `json:"channels"`
	Disposition map[string]int `json:"disposition"`
}

// ffprobe は数値を文字列で返すため、失敗時は 0 とします。
func parseInt64(s string) int64 {
	n, _ := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	return n
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return f
}
