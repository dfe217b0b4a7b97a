package bitrate

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// ScaleFactors は high プロファイルに対する各プロファイルの倍率です。
var ScaleFactors = map[string]float64{
	"max":      1.25,
	"balanced": 0.8,
	"low":      0.6,
	"min":      0.4,
}

const minScaledMbps = 1

// ScaleValue は "5M" を factor 倍して Mbps 単位に丸めます。
// "N/A" や解釈できない値はそのまま返します。
func ScaleValue(value string, factor float64) string {
	if value == "N/A" {
		return value
	}
	n, err := strconv.ParseFloat(strings.ReplaceAll(value, "M", ""), 64)
	if err != nil {
		return value
	}
	scaled := int64(math.RoundToEven(n * factor))
	if scaled < minScaledMbps {
		scaled = minScaledMbps
	}
	return fmt.Sprintf("%dM", scaled)
}

// Scale は表の全値を factor 倍した新しい表を返します。
func Scale(table Table, factor float64) Table {
	out := make(Table, len(table))
	for res, byInput := range table {
		out[res] = make(map[string]map[string]string, len(byInput))
		for in, byOutput := range byInput {
			out[res][in] = make(map[string]string, len(byOutput))
			for codec, value := range byOutput {
				out[res][in][codec] = ScaleValue(value, factor)
			}
		}
	}
	return out
}

// GenerateProfiles は dir 内の high_quality.json から他のプロファイルを生成し、書き出したパスを返します。
func GenerateProfiles(dir string) ([]string, error) {
	base, err := LoadProfile(dir, BaseProfile)
	if err != nil {
		return nil, err
	}

	written := make([]string, 0, len(ScaleFactors))
	for _, name := range Profiles {
		factor, ok := ScaleFactors[name]
		if !ok {
			continue
		}
		data, err := json.MarshalIndent(Scale(base, factor), "", "    ")
		if err != nil {
			return written, fmt.Errorf("encode %s profile: %w", name, err)
		}
		path := filepath.Join(dir, ProfileFileName(name))
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return written, fmt.Errorf("write %s: %w", path, err)
		}
		written = append(written, path)
	}
	return written, nil
}
