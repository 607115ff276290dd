package dto

import (
	"time"

	"github.com/noah-isme/staff-portal-api/internal/models"
)

// UnreadCountResponse reports the number of unread inbox items.
type UnreadCountResponse struct {
	Unread int `json:"unread"`
}

// MarkAllReadResponse reports how many inbox items were marked read.
type MarkAllReadResponse struct {
	Updated int64 `json:"updated"`
}

// AnnouncementReadResponse returns the stored read time of an announcement.
type AnnouncementReadResponse struct {
	AnnouncementID string    `json:"announcement_id"`
	ReadAt         time.Time `json:"read_at"`
}

// DispatchSummary condenses per-recipient dispatch results.
type DispatchSummary struct {
	Recipients  int                     `json:"recipients"`
	InApp       int                     `json:"in_app"`
	EmailQueued int                     `json:"email_queued"`
	ChatQueued  int                     `json:"chat_queued"`
	Skipped     int                     `json:"skipped"`
	Results     []models.DispatchResult `json:"results"`
}

// SummarizeDispatch counts the outcome of a dispatch.
func SummarizeDispatch(results []models.DispatchResult) DispatchSummary {
	summary := DispatchSummary{Recipients: len(results), Results: results}
	if summary.Results == nil {
		summary.Results = []models.DispatchResult{}
	}
	for _, r := range results {
		if r.InApp {
			summary.InApp++
		}
		if r.EmailQueued {
			summary.EmailQueued++
		}
		if r.ChatQueued {
			summary.ChatQueued++
		}
		if r.SkippedReason != "" {
			summary.Skipped++
		}
	}
	return summary
}
