package model

import "time"

// LeadSource marks CRM leads created from a converted prospect.
const LeadSource = "prospecting"

// Lead is the CRM record created when a prospect is converted.
type Lead struct {
	ID             string    `json:"id"`
	ProspectID     string    `json:"prospect_id"`
	Name           string    `json:"name"`
	Phone          string    `json:"phone,omitempty"`
	Email          string    `json:"email,omitempty"`
	Website        string    `json:"website,omitempty"`
	Address        string    `json:"address,omitempty"`
	Source         string    `json:"source"`
	Status         string    `json:"status"`
	OwnerUser      string    `json:"owner_user,omitempty"`
	EstimatedValue *float64  `json:"estimated_value,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// LeadFromProspect copies the prospect's contact fields into a new lead.
func LeadFromProspect(p Prospect, owner string) Lead {
	l := Lead{
		ProspectID: p.ID,
		Name:       p.Name,
		Phone:      p.Phone,
		Website:    p.Website,
		Address:    p.Address,
		Source:     LeadSource,
		Status:     "new",
		OwnerUser:  owner,
	}
	if p.AssignedUser != "" {
		l.OwnerUser = p.AssignedUser
	}
	if p.SalesIntel != nil {
		l.EstimatedValue = p.SalesIntel.EstimatedValue
	}
	return l
}

// Roles understood by the core. Identity itself comes from the auth proxy.
const (
	RoleAdmin = "admin"
	RoleSales = "sales"
)

// User is a read-only view of the account directory.
type User struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

// Caller is the identity supplied by the auth middleware.
type Caller struct {
	UserID string
	Role   string
}

// IsAdmin reports whether the caller has the admin role.
func (c Caller) IsAdmin() bool { return c.Role == RoleAdmin }
