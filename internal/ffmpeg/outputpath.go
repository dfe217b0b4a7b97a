package ffmpeg

import (
	"fmt"
	"path/filepath"
	"strings"
)

// OutputPath は "z_<base>.<format>"、次に "z_<n>_<base>.<format>" (n = 1, 2, ...) の順で
// 最初に空いているパスを返します。taken は既存ファイルや予約済みパスで true を返します。
func OutputPath(input, outputDir, format string, taken func(string) bool) string {
	name := filepath.Base(input)
	base := strings.TrimSuffix(name, filepath.Ext(name))
	format = strings.TrimPrefix(format, ".")

	candidate := filepath.Join(outputDir, fmt.Sprintf("z_%s.%s", base, format))
	for n := 1; taken(candidate); n++ {
		candidate = filepath.Join(outputDir, fmt.Sprintf("z_%d_%s.%s", n, base, format))
	}
	return candidate
}
