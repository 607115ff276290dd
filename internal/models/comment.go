package models

import "time"

// ResourceKind names a commentable resource type.
type ResourceKind string

const (
	ResourceReport   ResourceKind = "report"
	ResourceProposal ResourceKind = "proposal"
)

// Valid reports whether k is a known resource kind.
func (k ResourceKind) Valid() bool {
	return k == ResourceReport || k == ResourceProposal
}

// ResourceRef points at a commentable resource.
type ResourceRef struct {
	Kind ResourceKind `json:"kind"`
	ID   string       `json:"id"`
}

// Comment is a remark on a report or proposal, optionally replying to another.
type Comment struct {
	ID              string       `db:"id" json:"id"`
	CommentableType ResourceKind `db:"commentable_type" json:"commentable_type"`
	CommentableID   string       `db:"commentable_id" json:"commentable_id"`
	ParentID        *string      `db:"parent_id" json:"parent_id,omitempty"`
	AuthorID        string       `db:"author_id" json:"author_id"`
	AuthorName      string       `db:"author_name" json:"author_name,omitempty"`
	Body            string       `db:"body" json:"body"`
	CreatedAt       time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time    `db:"updated_at" json:"updated_at"`
}

// Resource returns the reference of the commented resource.
func (c *Comment) Resource() ResourceRef {
	return ResourceRef{Kind: c.CommentableType, ID: c.CommentableID}
}
