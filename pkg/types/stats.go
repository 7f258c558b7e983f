package types

// LedgerStats summarizes the size of every store
type LedgerStats struct {
	TotalUsers        int            `json:"total_users"`
	ActiveUsers       int            `json:"active_users"`
	TotalPatients     int            `json:"total_patients"`
	TotalPermissions  int            `json:"total_permissions"`
	ActivePermissions int            `json:"active_permissions"`
	TotalRecords      int            `json:"total_records"`
	EmergencyRecords  int            `json:"emergency_records"`
	RecordsByStatus   map[string]int `json:"records_by_status"`
	TotalAmendments   int            `json:"total_amendments"`
	TotalSignatures   int            `json:"total_signatures"`
	TotalAuditEntries int            `json:"total_audit_entries"`
}
