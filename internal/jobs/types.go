// Package jobs は変換ジョブの状態管理と非同期実行を提供します。
package jobs

import (
	"errors"
	"time"
)

// Status はジョブの実行状態を表します。
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal は終端状態かどうかを返します。
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

var (
	// ErrNotFound は指定したジョブが存在しないことを示します。
	ErrNotFound = errors.New("job not found")
	// ErrInvalidTransition は状態遷移が許可されていないことを示します。
	ErrInvalidTransition = errors.New("invalid job status transition")
)

var transitions = map[Status][]Status{
	StatusPending:    {StatusInProgress, StatusFailed},
	StatusInProgress: {StatusCompleted, StatusFailed},
}

// CanTransition は from から to への遷移が許可されているかを返します。
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Verification は変換後ファイルの再プローブ結果です。取得できない項目は "unknown"。
type Verification struct {
	Resolution string `json:"resolution"`
	Bitrate    string `json:"bitrate"`
	VideoCodec string `json:"videoCodec"`
	AudioCodec string `json:"audioCodec"`
	Format     string `json:"format"`
	MimeType   string `json:"mimeType"`
}

// FileResult は 1 ファイル分の変換結果です。
type FileResult struct {
	Input           string        `json:"input"`
	Output          string        `json:"output,omitempty"`
	Status          string        `json:"status"`
	Bitrate         string        `json:"bitrate,omitempty"`
	BitrateSource   string        `json:"bitrateSource,omitempty"`
	DurationSeconds float64       `json:"durationSeconds"`
	Error           string        `json:"error,omitempty"`
	InputDeleted    bool          `json:"inputDeleted,omitempty"`
	Verification    *Verification `json:"verification,omitempty"`
}

// Result は終端遷移時に 1 回だけ設定されるジョブの結果です。
type Result struct {
	Total           int          `json:"total"`
	Succeeded       int          `json:"succeeded"`
	Failed          int          `json:"failed"`
	Cancelled       int          `json:"cancelled"`
	CancelRequested bool         `json:"cancelRequested"`
	Error           string       `json:"error,omitempty"`
	Files           []FileResult `json:"files"`
}

// Job はジョブの現在状態を表します。
type Job struct {
	ID            string    `json:"jobId"`
	CorrelationID string    `json:"correlationId"`
	Status        Status    `json:"status"`
	Progress      float64   `json:"progress"`
	Logs          []string  `json:"logs"`
	Result        *Result   `json:"result,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// Clone はストア外へ渡すための複製を返します。
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	out := *j
	out.Logs = append([]string(nil), j.Logs...)
	if j.Result != nil {
		res := *j.Result
		res.Files = append([]FileResult(nil), j.Result.Files...)
		out.Result = &res
	}
	return &out
}
