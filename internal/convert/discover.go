package convert

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// VideoExtensions は変換対象とする拡張子です。大小文字は区別しません。
var VideoExtensions = map[string]bool{
	".mp4":  true,
	".mkv":  true,
	".avi":  true,
	".mov":  true,
	".wmv":  true,
	".flv":  true,
	".webm": true,
}

// Discover はディレクトリ直下の動画ファイルを名前順の絶対パスで返します。サブディレクトリは走査しません。
func Discover(dir string) ([]string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", dir, err)
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("read dir %s: %w", abs, err)
	}

	var files []string
	for _, entry := range entries {
		if !VideoExtensions[strings.ToLower(filepath.Ext(entry.Name()))] {
			continue
		}
		path := filepath.Join(abs, entry.Name())
		// シンボリックリンクはリンク先が通常ファイルなら対象にします。
		info, err := os.Stat(path)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		files = append(files, path)
	}
	sort.Strings(files)
	return files, nil
}
