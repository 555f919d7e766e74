package domain

import (
	"encoding/json"
	"time"
)

const (
	StatusPrepared = "prepared"
	StatusFailed   = "failed"
	StatusPlayed   = "played"
	StatusSkipped  = "skipped"
)

const (
	ErrCodeCatalogFetch    = "catalog_fetch_failed"
	ErrCodeTooManyRedirect = "too_many_redirects"
	ErrCodeDownloadAuth    = "download_auth_failed"
	ErrCodeDownloadFailed  = "download_failed"
	ErrCodeExtraction      = "extraction_failed"
	ErrCodeNoPlayable      = "no_playable_file"
	ErrCodeLaunchFailed    = "launch_failed"
	ErrCodeIOFailed        = "io_failed"
)

// SessionReport 是一次会话结束时的对外输出（stdout 非 TTY 时输出 JSON）。
type SessionReport struct {
	RunID      string    `json:"run_id"`
	CatalogURL string    `json:"catalog_url"`
	System     string    `json:"system"`
	GamesDir   string    `json:"games_dir"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	CatalogSize int `json:"catalog_size"`

	Summary SessionSummary `json:"summary"`
	Items   []ItemResult   `json:"items"`
}

type SessionSummary struct {
	Prepared  int `json:"prepared"`
	CacheHits int `json:"cache_hits"`
	Failed    int `json:"failed"`
	Played    int `json:"played"`
	Skipped   int `json:"skipped"`
}

// ItemResult 记录单个条目在会话中的一次结果（准备或播放）。
type ItemResult struct {
	FileName  string `json:"file_name"`
	Title     string `json:"title"`
	Status    string `json:"status"`
	CacheHit  bool   `json:"cache_hit,omitempty"`
	ErrorCode string `json:"error_code,omitempty"`
	ErrorMsg  string `json:"error_msg,omitempty"`
}

// Finalize 统一时间为 UTC，并由 items 重新计算 summary。
// items 保持事件发生顺序（播放顺序本身就是有意义的信息）。
func (r *SessionReport) Finalize() {
	r.StartedAt = r.StartedAt.UTC()
	r.FinishedAt = r.FinishedAt.UTC()
	if r.Items == nil {
		r.Items = []ItemResult{}
	}

	var s SessionSummary
	for _, it := range r.Items {
		switch it.Status {
		case StatusPrepared:
			s.Prepared++
			if it.CacheHit {
				s.CacheHits++
			}
		case StatusFailed:
			s.Failed++
		case StatusPlayed:
			s.Played++
		case StatusSkipped:
			s.Skipped++
		}
	}
	r.Summary = s
}

// MarshalJSON 仅用于集中约束输出的稳定性。
func (r SessionReport) MarshalJSON() ([]byte, error) {
	type Alias SessionReport
	return json.Marshal(Alias(r))
}
