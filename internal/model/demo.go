package model

import "time"

// DemoPublication is one generated micro-site bound to a prospect.
type DemoPublication struct {
	ID              string     `json:"id"`
	ProspectID      string     `json:"prospect_id"`
	Token           string     `json:"token"`
	DemoType        string     `json:"demo_type"`
	Title           string     `json:"title"`
	RenderedContent string     `json:"-"`
	ViewCount       int64      `json:"view_count"`
	Revoked         bool       `json:"revoked"`
	AcceptedAt      *time.Time `json:"accepted_at,omitempty"`
	CreatedBy       string     `json:"created_by,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// ContactRequest is a message submitted by a visitor of a published demo.
// Rows are append-only.
type ContactRequest struct {
	ID        string    `json:"id"`
	DemoToken string    `json:"demo_token"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Phone     string    `json:"phone"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}
