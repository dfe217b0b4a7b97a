// Package bitrate は品質プロファイル表に基づくビットレート決定を提供します。
package bitrate

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// Table は 解像度 → 入力コーデック → 出力コーデック → ビットレート の対応表です。
// ジョブ開始時に 1 回読み込み、以降は読み取り専用で扱います。
type Table map[string]map[string]map[string]string

// Profiles は同梱される品質プロファイル名です。
var Profiles = []string{"max", "high", "balanced", "low", "min"}

// BaseProfile は他のプロファイルの生成元です。
const BaseProfile = "high"

// ProfileFileName は "Balanced Quality" や "balanced" を "balanced_quality.json" に正規化します。
func ProfileFileName(profile string) string {
	name := strings.ToLower(strings.TrimSpace(profile))
	name = strings.TrimSuffix(name, ".json")
	name = strings.ReplaceAll(name, " ", "_")
	if !strings.HasSuffix(name, "_quality") {
		name += "_quality"
	}
	return name + ".json"
}

// LoadProfile はプロファイルファイルを読み込みます。
// 呼び出し側はエラー時に空の Table として扱えます。
func LoadProfile(dir, profile string) (Table, error) {
	if strings.TrimSpace(profile) == "" {
		return Table{}, fmt.Errorf("quality profile is required")
	}
	path := filepath.Join(dir, ProfileFileName(profile))
	data, err := os.ReadFile(path)
	if err != nil {
		return Table{}, fmt.Errorf("read profile %s: %w", path, err)
	}
	var table Table
	if err := json.Unmarshal(data, &table); err != nil {
		return Table{}, fmt.Errorf("decode profile %s: %w", path, err)
	}
	if table == nil {
		table = Table{}
	}
	return table, nil
}

type bucket struct {
	height int
	key    string
}

// buckets は "1080p" 形式のキーを昇順に並べます。解釈できないキーは無視します。
func (t Table) buckets() []bucket {
	out := make([]bucket, 0, len(t))
	for key := range t {
		h, err := strconv.Atoi(strings.TrimSuffix(strings.ToLower(key), "p"))
		if err != nil || h <= 0 {
			continue
		}
		out = append(out, bucket{height: h, key: key})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].height < out[j].height })
	return out
}

// Buckets は表に含まれる解像度 (高さ) を昇順で返します。
func (t Table) Buckets() []int {
	bs := t.buckets()
	heights := make([]int, len(bs))
	for i, b := range bs {
		heights[i] = b.height
	}
	return heights
}

// BucketFor は高さを最も近い上位の解像度キーへ切り上げます。
// すべてを超える場合は最大のキーを返します。
func (t Table) BucketFor(height int) (string, bool) {
	if height <= 0 {
		return "", false
	}
	bs := t.buckets()
	if len(bs) == 0 {
		return "", false
	}
	for _, b := range bs {
		if height <= b.height {
			return b.key, true
		}
	}
	return bs[len(bs)-1].key, true
}

// Lookup は表を引きます。どの階層でもキーが無ければ false を返します。
// 値が空または "N/A" のセルも未定義として扱います。
func (t Table) Lookup(height int, inputCodec, outputCodec string) (string, bool) {
	key, ok := t.BucketFor(height)
	if !ok {
		return "", false
	}
	byInput, ok := t[key][inputCodec]
	if !ok {
		return "", false
	}
	value, ok := byInput[outputCodec]
	if !ok || missing(value) {
		return "", false
	}
	return value, true
}

// missing は ffprobe や表が値なしを表す "N/A" と空文字を判定します。
func missing(value string) bool {
	v := strings.TrimSpace(value)
	return v == "" || strings.EqualFold(v, "N/A")
}
