package types

import "time"

// AuditLogEntry represents an immutable access trail entry. Hash chains the
// entry to its predecessor so tampering with any entry is detectable.
type AuditLogEntry struct {
	ID        int64     `json:"id"`
	Accessor  string    `json:"accessor"`
	PatientID int64     `json:"patient_id"`
	Action    string    `json:"action"`
	Timestamp time.Time `json:"timestamp"`
	Success   bool      `json:"success"`
	Details   string    `json:"details"`
	PrevHash  string    `json:"prev_hash"`
	Hash      string    `json:"hash"`
}
