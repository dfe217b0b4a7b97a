// Package convert は一括変換ジョブの投入と実行エンジンを提供します。
package convert

import "fmt"

// エラーコード。
const (
	CodeInvalidInput  = "INVALID_INPUT"
	CodeNotFound      = "NOT_FOUND"
	CodeJobNotFound   = "JOB_NOT_FOUND"
	CodeStoreFailure  = "STORE_FAILURE"
	CodeQueueFailure  = "QUEUE_FAILURE"
	CodeInternalError = "INTERNAL_ERROR"
)

// Error は利用者へ返すエラーコードとメッセージを保持します。
type Error struct {
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}
