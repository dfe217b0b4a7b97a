// Package probe は ffprobe を使ったメディア情報の取得を提供します。
package probe

import (
	"context"
	"fmt"
)

// Unknown は取得できなかった項目の表示値です。
const Unknown = "unknown"

// Prober はファイルのメディア情報を返す外部コラボレーターです。
// 失敗時は error を返し、呼び出し側で "unknown" として扱います。
type Prober interface {
	Probe(ctx context.Context, path string) (*Result, error)
}

// Format はコンテナ情報です。BitRate は bps。
type Format struct {
	Name       string
	BitRate    int64
	RawBitRate string
	Duration   float64
	Size       int64
}

// VideoStream は最初の映像ストリームです。
type VideoStream struct {
	Codec   string
	Width   int
	Height  int
	BitRate int64
}

// AudioStream は最初の音声ストリームです。
type AudioStream struct {
	Codec    string
	Channels int
}

// Result は ffprobe 1 回分の解析結果です。Video/Audio は見つからなければ nil。
type Result struct {
	Format Format
	Video  *VideoStream
	Audio  *AudioStream
}

// Resolution は "WxH" を返します。取得できなければ "unknown"。
func (r *Result) Resolution() string {
	if r == nil || r.Video == nil || r.Video.Width <= 0 || r.Video.Height <= 0 {
		return Unknown
	}
	return fmt.Sprintf("%dx%d", r.Video.Width, r.Video.Height)
}

// VideoCodec は映像コーデック名を返します。
func (r *Result) VideoCodec() string {
	if r == nil || r.Video == nil || r.Video.Codec == "" {
		return Unknown
	}
	return r.Video.Codec
}

// AudioCodec は音声コーデック名を返します。
func (r *Result) AudioCodec() string {
	if r == nil || r.Audio == nil || r.Audio.Codec == "" {
		return Unknown
	}
	return r.Audio.Codec
}

// FormatName はコンテナ名を返します。
func (r *Result) FormatName() string {
	if r == nil || r.Format.Name == "" {
		return Unknown
	}
	return r.Format.Name
}

// BitrateLabel はコンテナのビットレートを "4.20 Mbps" 形式で返します。
func (r *Result) BitrateLabel() string {
	if r == nil || r.Format.BitRate <= 0 {
		return Unknown
	}
	return fmt.Sprintf("%.2f Mbps", float64(r.Format.BitRate)/1_000_000)
}
