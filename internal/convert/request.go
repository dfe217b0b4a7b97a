package convert

import (
	"fmt"
	"strings"

	"github.com/yourusername/reel-forge/internal/bitrate"
	"github.com/yourusername/reel-forge/internal/ffmpeg"
)

// 同時変換数の範囲。
const (
	MinConcurrency = 1
	MaxConcurrency = 32
)

// Request は 1 ジョブ分の変換パラメータです。検証後は変更しません。
type Request struct {
	InputDirectory        string `json:"inputDirectory"`
	OutputDirectory       string `json:"outputDirectory"`
	VideoCodec            string `json:"videoCodec"`
	AudioCodec            string `json:"audioCodec"`
	OutputFormat          string `json:"outputFormat"`
	VideoBitrate          string `json:"videoBitrate"`
	BitrateQualityProfile string `json:"bitrateQualityProfile"`
	DeleteInputFiles      bool   `json:"deleteInputFiles"`
	FallbackBitrate       string `json:"fallbackBitrate"`
	CapDynamicBitrate     bool   `json:"capDynamicBitrate"`
	ConcurrentConversions int    `json:"concurrentConversions"`
	VerboseLogging        bool   `json:"verboseLogging"`
	CorrelationID         string `json:"correlationId,omitempty"`
}

// DefaultRequest は省略時の値を設定した Request を返します。
func DefaultRequest() Request {
	return Request{
		VideoCodec:            "hevc_nvenc",
		AudioCodec:            "aac",
		OutputFormat:          "mp4",
		VideoBitrate:          ffmpeg.ModeOptimized,
		BitrateQualityProfile: "Balanced Quality",
		DeleteInputFiles:      false,
		FallbackBitrate:       "6M",
		CapDynamicBitrate:     true,
		ConcurrentConversions: 2,
		VerboseLogging:        false,
	}
}

// Normalize は前後の空白を取り除き、モード名を小文字に揃えます。
func (r Request) Normalize() Request {
	r.InputDirectory = strings.TrimSpace(r.InputDirectory)
	r.OutputDirectory = strings.TrimSpace(r.OutputDirectory)
	r.VideoCodec = strings.TrimSpace(r.VideoCodec)
	r.AudioCodec = strings.TrimSpace(r.AudioCodec)
	r.OutputFormat = strings.TrimPrefix(strings.TrimSpace(r.OutputFormat), ".")
	r.VideoBitrate = strings.TrimSpace(r.VideoBitrate)
	switch lower := strings.ToLower(r.VideoBitrate); lower {
	case ffmpeg.ModeDynamic, ffmpeg.ModeOptimized:
		r.VideoBitrate = lower
	}
	r.BitrateQualityProfile = strings.TrimSpace(r.BitrateQualityProfile)
	r.FallbackBitrate = strings.TrimSpace(r.FallbackBitrate)
	r.CorrelationID = strings.TrimSpace(r.CorrelationID)
	return r
}

// Validate はディレクトリの存在以外のパラメータを検証します。
func (r Request) Validate() error {
	if r.InputDirectory == "" {
		return newError(CodeInvalidInput, "入力ディレクトリを指定してください。", nil)
	}
	if r.OutputDirectory == "" {
		return newError(CodeInvalidInput, "出力ディレクトリを指定してください。", nil)
	}
	if r.VideoCodec == "" || r.AudioCodec == "" {
		return newError(CodeInvalidInput, "映像コーデックと音声コーデックを指定してください。", nil)
	}
	if r.OutputFormat == "" || strings.ContainsAny(r.OutputFormat, `/\`) {
		return newError(CodeInvalidInput, "出力形式が正しくありません。", nil)
	}
	if r.FallbackBitrate == "" {
		return newError(CodeInvalidInput, "フォールバックビットレートを指定してください。", nil)
	}
	switch r.VideoBitrate {
	case ffmpeg.ModeDynamic, ffmpeg.ModeOptimized:
	default:
		if _, err := bitrate.ParseBitrate(r.VideoBitrate); err != nil {
			return newError(CodeInvalidInput, "ビットレートは dynamic / optimized または 6M などの値で指定してください。", err)
		}
	}
	if r.ConcurrentConversions < MinConcurrency || r.ConcurrentConversions > MaxConcurrency {
		return newError(CodeInvalidInput,
			fmt.Sprintf("同時変換数は %d〜%d の範囲で指定してください。", MinConcurrency, MaxConcurrency), nil)
	}
	return nil
}
