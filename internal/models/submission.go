package models

import "time"

// SubmissionStatus tracks the review workflow of reports and proposals.
type SubmissionStatus string

const (
	SubmissionDraft             SubmissionStatus = "draft"
	SubmissionSubmitted         SubmissionStatus = "submitted"
	SubmissionUnderReview       SubmissionStatus = "under_review"
	SubmissionApproved          SubmissionStatus = "approved"
	SubmissionRejected          SubmissionStatus = "rejected"
	SubmissionRevisionRequested SubmissionStatus = "revision_requested"
)

// Submission is a report or a proposal. Budget is only stored for proposals.
type Submission struct {
	Kind         ResourceKind     `db:"-" json:"kind"`
	ID           string           `db:"id" json:"id"`
	Title        string           `db:"title" json:"title"`
	Body         string           `db:"body" json:"body"`
	DepartmentID *string          `db:"department_id" json:"department_id,omitempty"`
	AuthorID     string           `db:"author_id" json:"author_id"`
	Status       SubmissionStatus `db:"status" json:"status"`
	ReviewerID   *string          `db:"reviewer_id" json:"reviewer_id,omitempty"`
	ReviewNote   *string          `db:"review_note" json:"review_note,omitempty"`
	Budget       *float64         `db:"budget" json:"budget,omitempty"`
	SubmittedAt  *time.Time       `db:"submitted_at" json:"submitted_at,omitempty"`
	ReviewedAt   *time.Time       `db:"reviewed_at" json:"reviewed_at,omitempty"`
	CreatedAt    time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time        `db:"updated_at" json:"updated_at"`
}

// Ref returns the comment target for this submission.
func (s *Submission) Ref() ResourceRef {
	return ResourceRef{Kind: s.Kind, ID: s.ID}
}

// SubmissionFilter narrows submission listings.
type SubmissionFilter struct {
	AuthorID *string
	Status   *SubmissionStatus
	Page     int
	PageSize int
}
