package model

import "time"

// NotificationType enumerates the events fanned out to users.
type NotificationType string

const (
	NotifyNewLead        NotificationType = "new_lead"
	NotifyDemoViewed     NotificationType = "demo_viewed"
	NotifyDemoAccepted   NotificationType = "demo_accepted"
	NotifyContactMessage NotificationType = "contact_message"
)

// Notification is one persisted event for one recipient. Fan-out writes one
// row per recipient rather than sharing a row.
type Notification struct {
	ID        string           `json:"id"`
	UserID    string           `json:"user_id"`
	Type      NotificationType `json:"type"`
	Title     string           `json:"title"`
	Message   string           `json:"message"`
	Link      string           `json:"link,omitempty"`
	Read      bool             `json:"read"`
	CreatedAt time.Time        `json:"created_at"`
}
