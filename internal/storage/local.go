// Package storage はローカルファイルシステムへのアクセスを提供します。
package storage

import (
	"fmt"
	"os"
)

// Local はローカルファイルシステム上の変換対象ファイルを扱います。
type Local struct{}

// NewLocal は Local を作成します。
func NewLocal() *Local {
	return &Local{}
}

// Exists はパスに何らかのエントリが存在するかを返します。
func (l *Local) Exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}

// IsDir はパスがディレクトリかどうかを返します。
func (l *Local) IsDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// Remove は通常ファイルを削除します。ディレクトリは削除しません。
func (l *Local) Remove(path string) error {
	info, err := os.Lstat(path)
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("refusing to remove directory: %s", path)
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("remove %s: %w", path, err)
	}
	return nil
}
