package model

import "time"

type TaskStatus string

const (
	TaskQueued     TaskStatus = "queued"
	TaskInProgress TaskStatus = "in_progress"
	TaskComplete   TaskStatus = "complete"
	TaskFailed     TaskStatus = "failed"
)

// Terminal reports whether the status will not change again.
func (s TaskStatus) Terminal() bool {
	return s == TaskComplete || s == TaskFailed
}

type TaskEventType string

const (
	TaskEventStatus   TaskEventType = "status"
	TaskEventProgress TaskEventType = "progress"
	TaskEventResult   TaskEventType = "result"
)

// TaskEvent is one update emitted while a scan task runs. Progress events are
// advisory checkpoints for pollers, not a correctness mechanism.
type TaskEvent struct {
	TaskID string        `json:"task_id"`
	Type   TaskEventType `json:"type"`

	Status TaskStatus `json:"status,omitempty"`
	Error  string     `json:"error,omitempty"`

	Progress int    `json:"progress,omitempty"`
	Stage    string `json:"stage,omitempty"`
}

// Task tracks one asynchronous scan from submission to a terminal state.
// Terminal tasks retain their result or classified error for retrieval.
type Task struct {
	ID       string `json:"task_id"`
	URL      string `json:"url"`
	Domain   string `json:"domain"`
	CallerID string `json:"-"`

	Status   TaskStatus `json:"status"`
	Progress int        `json:"progress"`
	Stage    string     `json:"stage,omitempty"`
	Error    string     `json:"error,omitempty"`

	Result *ScanResult `json:"result,omitempty"`

	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at,omitzero"`

	Events chan TaskEvent `json:"-"`
}
