package server

import (
	"github.com/wrenlabs/websentry/internal/history"
	"github.com/wrenlabs/websentry/internal/model"
)

type scanRequest struct {
	URL      string `json:"url"`
	CallerID string `json:"caller_id,omitempty"`
}

type scanResponse struct {
	Cached bool              `json:"cached,omitempty"`
	Result *model.ScanResult `json:"result"`
}

type taskAccepted struct {
	TaskID string           `json:"task_id"`
	Status model.TaskStatus `json:"status"`
}

type historyResponse struct {
	Scans []history.Record `json:"scans"`
	Count int              `json:"count"`
}
