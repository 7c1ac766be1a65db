package notify

import "time"

// Run statuses reported downstream.
const (
	StatusPosted   = "posted"
	StatusDryRun   = "dry_run"
	StatusFailed   = "failed"
	StatusComplete = "album_complete"
)

// RunReport is the payload sent to every notification channel after a run.
type RunReport struct {
	Account     string    `json:"account"`
	AlbumID     string    `json:"album_id"`
	RunID       string    `json:"run_id,omitempty"`
	Status      string    `json:"status"`
	Position    int       `json:"position,omitempty"`
	PhotoID     string    `json:"photo_id,omitempty"`
	PhotoTitle  string    `json:"photo_title,omitempty"`
	PostID      string    `json:"post_id,omitempty"`
	Error       string    `json:"error,omitempty"`
	PostedCount int       `json:"posted_count"`
	TotalItems  int       `json:"total_items"`
	ReportedAt  time.Time `json:"reported_at"`
}

// NewRunReport stamps a report for the given account and album scope.
func NewRunReport(account, albumID, runID, status string) RunReport {
	return RunReport{
		Account:    account,
		AlbumID:    albumID,
		RunID:      runID,
		Status:     status,
		ReportedAt: time.Now().UTC(),
	}
}
