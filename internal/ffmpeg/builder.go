// Package ffmpeg は ffmpeg コマンドの組み立てと実行を提供します。
package ffmpeg

import (
	"errors"
	"strings"

	"github.com/yourusername/reel-forge/internal/bitrate"
	"github.com/yourusername/reel-forge/internal/probe"
)

// ErrEmptyPath は入力または出力パスが空であることを示します。
var ErrEmptyPath = errors.New("input and output paths are required")

// ビットレートモード。これ以外の値は固定ビットレートとして扱います。
const (
	ModeDynamic   = "dynamic"
	ModeOptimized = "optimized"
)

// Advisor は optimized / dynamic モードのビットレートを決めます。
// probe 結果が nil の場合はプローブ失敗として fallback を返す必要があります。
type Advisor interface {
	Optimized(res *probe.Result, outputCodec, fallback string) bitrate.Decision
	Dynamic(res *probe.Result, fallback string) bitrate.Decision
}

// Params は 1 ファイル分の変換パラメータです。
type Params struct {
	Binary      string
	Input       string
	Output      string
	VideoCodec  string
	AudioCodec  string
	BitrateMode string
	Fallback    string
	Verbose     bool
	// Probe は入力のプローブ結果です。失敗時は nil。
	Probe *probe.Result
}

// Command は組み立て済みの引数列と採用したビットレートです。
type Command struct {
	Args    []string
	Bitrate bitrate.Decision
}

// String はログ用にコマンドを空白区切りで返します。
func (c Command) String() string {
	return strings.Join(c.Args, " ")
}

// Build は ffmpeg の引数列を決定的に組み立てます。
//
//	ffmpeg [-v quiet] -i <in> -c:v <vc> -c:a <ac> -b:v <br> <out>
func Build(p Params, advisor Advisor) (Command, error) {
	if strings.TrimSpace(p.Input) == "" || strings.TrimSpace(p.Output) == "" {
		return Command{}, ErrEmptyPath
	}

	decision := selectBitrate(p, advisor)

	binary := p.Binary
	if binary == "" {
		binary = "ffmpeg"
	}

	args := make([]string, 0, 12)
	args = append(args, binary)
	if !p.Verbose {
		args = append(args, "-v", "quiet")
	}
	args = append(args,
		"-i", p.Input,
		"-c:v", p.VideoCodec,
		"-c:a", p.AudioCodec,
		"-b:v", decision.Bitrate,
		p.Output,
	)
	return Command{Args: args, Bitrate: decision}, nil
}

func selectBitrate(p Params, advisor Advisor) bitrate.Decision {
	switch p.BitrateMode {
	case ModeOptimized:
		if advisor == nil {
			return bitrate.Decision{Bitrate: p.Fallback, Source: bitrate.SourceFallback}
		}
		return advisor.Optimized(p.Probe, p.VideoCodec, p.Fallback)
	case ModeDynamic:
		if advisor == nil {
			return bitrate.Decision{Bitrate: p.Fallback, Source: bitrate.SourceFallback}
		}
		return advisor.Dynamic(p.Probe, p.Fallback)
	default:
		return bitrate.Decision{Bitrate: p.BitrateMode, Source: bitrate.SourceFixed}
	}
}
