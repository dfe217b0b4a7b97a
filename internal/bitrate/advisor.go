package bitrate

import (
	"github.com/yourusername/reel-forge/internal/probe"
)

// Source はビットレートの決定元です。
type Source string

const (
	SourceFixed     Source = "fixed"
	SourceTable     Source = "table"
	SourceContainer Source = "container"
	SourceFallback  Source = "fallback"
	SourceCapped    Source = "capped"
)

// Decision は 1 ファイル分のビットレート決定結果です。
type Decision struct {
	Bitrate string
	Source  Source
}

// Advisor は品質表とプローブ結果からビットレートを決めます。
// 表は読み取り専用なので複数ワーカーから同時に使えます。
type Advisor struct {
	table      Table
	capEnabled bool
}

// NewAdvisor は Advisor を作成します。table が nil の場合は常に fallback を返します。
func NewAdvisor(table Table, capEnabled bool) *Advisor {
	if table == nil {
		table = Table{}
	}
	return &Advisor{table: table, capEnabled: capEnabled}
}

// Optimized は optimized モードのビットレートを返します。
// res は呼び出し側で取得済みの解析結果で、nil なら解析失敗として fallback になります。
func (a *Advisor) Optimized(res *probe.Result, outputCodec, fallback string) Decision {
	if res == nil || res.Video == nil || res.Video.Codec == "" {
		return Decision{Bitrate: fallback, Source: SourceFallback}
	}
	value, ok := a.table.Lookup(res.Video.Height, res.Video.Codec, outputCodec)
	if !ok {
		return Decision{Bitrate: fallback, Source: SourceFallback}
	}
	return a.capped(value, SourceTable, fallback)
}

// Dynamic は入力コンテナのビットレートを使います。取得できなければ fallback。
func (a *Advisor) Dynamic(res *probe.Result, fallback string) Decision {
	if res == nil || missing(res.Format.RawBitRate) {
		return Decision{Bitrate: fallback, Source: SourceFallback}
	}
	return a.capped(res.Format.RawBitRate, SourceContainer, fallback)
}

func (a *Advisor) capped(value string, source Source, limit string) Decision {
	if !a.capEnabled {
		return Decision{Bitrate: value, Source: source}
	}
	if capped, ok := Cap(value, limit); ok {
		return Decision{Bitrate: capped, Source: SourceCapped}
	}
	return Decision{Bitrate: value, Source: source}
}
