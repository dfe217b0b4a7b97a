package convert

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// EventType はジョブ実行中に発行されるイベントの種類です。
type EventType string

const (
	EventJobStatus    EventType = "job_status"
	EventTaskStarted  EventType = "task_started"
	EventTaskResolved EventType = "task_resolved"
	EventLog          EventType = "log"
)

// Event は購読者へ通知される連番付きのイベントです。
type Event struct {
	Seq        int64     `json:"seq"`
	Timestamp  time.Time `json:"timestamp"`
	JobID      string    `json:"jobId"`
	Type       EventType `json:"type"`
	Status     string    `json:"status,omitempty"`
	File       string    `json:"file,omitempty"`
	Output     string    `json:"output,omitempty"`
	Message    string    `json:"message,omitempty"`
	Resolved   int       `json:"resolved,omitempty"`
	Total      int       `json:"total,omitempty"`
	Progress   float64   `json:"progress,omitempty"`
	ETASeconds *float64  `json:"etaSeconds,omitempty"`
}

// Observer はジョブのイベントを受け取ります。Notify はブロックしてはいけません。
type Observer interface {
	Notify(Event)
}

// Observers は複数の Observer へ順に通知します。
type Observers []Observer

func (o Observers) Notify(e Event) {
	for _, obs := range o {
		if obs != nil {
			obs.Notify(e)
		}
	}
}

// EventBus は直近のイベントを保持し、差分取得を提供します。
type EventBus struct {
	mu        sync.RWMutex
	nextSeq   int64
	maxEvents int
	events    []Event
}

// NewEventBus は上限付きのイベントバッファを作成します。
func NewEventBus(maxEvents int) *EventBus {
	if maxEvents <= 0 {
		maxEvents = 500
	}

	return &EventBus{
		maxEvents: maxEvents,
		events:    make([]Event, 0, maxEvents),
	}
}

// Notify は Observer として Publish を呼び出します。
func (b *EventBus) Notify(e Event) {
	b.Publish(e)
}

// Publish はイベントを追加し、連番と時刻を設定します。
func (b *EventBus) Publish(event Event) Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextSeq++
	event.Seq = b.nextSeq
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	b.events = append(b.events, event)
	if len(b.events) > b.maxEvents {
		trim := len(b.events) - b.maxEvents
		b.events = append([]Event(nil), b.events[trim:]...)
	}

	return event
}

// Since は seq より大きい連番のイベントを返します。
func (b *EventBus) Since(seq int64) []Event {
	return b.SinceJob("", seq)
}

// SinceJob は jobID のイベントのうち seq より大きいものを返します。jobID が空なら全件です。
func (b *EventBus) SinceJob(jobID string, seq int64) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if len(b.events) == 0 {
		return nil
	}

	out := make([]Event, 0, len(b.events))
	for _, event := range b.events {
		if event.Seq <= seq {
			continue
		}
		if jobID != "" && event.JobID != jobID {
			continue
		}
		out = append(out, event)
	}
	return out
}

// LogObserver はイベントを構造化ログとして出力します。
type LogObserver struct {
	logger zerolog.Logger
}

// NewLogObserver は LogObserver を作成します。
func NewLogObserver(logger zerolog.Logger) *LogObserver {
	return &LogObserver{logger: logger}
}

func (o *LogObserver) Notify(e Event) {
	ev := o.logger.Info()
	if e.Type == EventTaskResolved && e.Status == string(TaskFailed) {
		ev = o.logger.Warn()
	}
	ev = ev.Str("job_id", e.JobID).Str("event", string(e.Type))
	if e.Status != "" {
		ev = ev.Str("status", e.Status)
	}
	if e.File != "" {
		ev = ev.Str("file", e.File)
	}
	if e.Total > 0 {
		ev = ev.Int("resolved", e.Resolved).Int("total", e.Total).Float64("progress", e.Progress)
	}
	if e.ETASeconds != nil {
		ev = ev.Float64("eta_seconds", *e.ETASeconds)
	}
	ev.Msg(e.Message)
}
