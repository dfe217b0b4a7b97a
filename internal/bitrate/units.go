package bitrate

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrMalformedBitrate はビットレート文字列を解釈できないことを示します。
var ErrMalformedBitrate = errors.New("malformed bitrate")

// ParseBitrate は "6M" / "800K" / "6873456" を bps に変換します。
// 接尾辞は大小文字を区別せず、小数 ("2.5M") も受け付けます。
func ParseBitrate(s string) (int64, error) {
	v := strings.ToUpper(strings.TrimSpace(s))
	if v == "" {
		return 0, fmt.Errorf("%w: empty value", ErrMalformedBitrate)
	}

	multiplier := 1.0
	switch {
	case strings.HasSuffix(v, "M"):
		multiplier = 1_000_000
		v = strings.TrimSuffix(v, "M")
	case strings.HasSuffix(v, "K"):
		multiplier = 1_000
		v = strings.TrimSuffix(v, "K")
	}

	n, err := strconv.ParseFloat(v, 64)
	if err != nil || math.IsNaN(n) || math.IsInf(n, 0) || n < 0 {
		return 0, fmt.Errorf("%w: %q", ErrMalformedBitrate, s)
	}
	return int64(math.Round(n * multiplier)), nil
}

// Cap は advised と limit を bps で比較し、小さい方を返します。
// どちらかが解釈できなければ advised をそのまま返します。
func Cap(advised, limit string) (string, bool) {
	a, err := ParseBitrate(advised)
	if err != nil {
		return advised, false
	}
	l, err := ParseBitrate(limit)
	if err != nil {
		return advised, false
	}
	if a > l {
		return limit, true
	}
	return advised, false
}
