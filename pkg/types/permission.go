package types

import "time"

// Action names a delegated operation on a patient's data. Actions form an
// open set; AnyAction is the wildcard and never a named action.
type Action string

// AnyAction grants every action
const AnyAction Action = "*"

// Common actions
const (
	ActionRead      Action = "read"
	ActionWrite     Action = "write"
	ActionPrescribe Action = "prescribe"
	ActionMonitor   Action = "monitor"
	ActionDispense  Action = "dispense"
)

// IsWildcard reports whether a is the wildcard sentinel
func (a Action) IsWildcard() bool {
	return a == AnyAction
}

// Permission represents delegated, time-bounded access to one patient's data
type Permission struct {
	ID             int64     `json:"id"`
	Grantor        string    `json:"grantor"`
	Grantee        string    `json:"grantee"`
	PatientID      int64     `json:"patient_id"`
	ExpiresAt      time.Time `json:"expires_at"`
	Active         bool      `json:"active"`
	AllowedActions []Action  `json:"allowed_actions"`
	CreatedAt      time.Time `json:"created_at"`
}

// Allows reports whether the permission covers action, either by name or
// through the wildcard.
func (p *Permission) Allows(action Action) bool {
	for _, allowed := range p.AllowedActions {
		if allowed == action || allowed.IsWildcard() {
			return true
		}
	}
	return false
}

// Effective reports whether the permission is active and unexpired at now
func (p *Permission) Effective(now time.Time) bool {
	return p.Active && p.ExpiresAt.After(now)
}
