package ledger

import (
	"github.com/medrex/medledger/pkg/types"
)

// LogAccess appends an audit entry and returns its id
func (s *Service) LogAccess(accessor string, patientID int64, action string, success bool, details string) (int64, error) {
	var entryID int64
	err := s.transact("log_access", accessor, []string{KeyAudit}, func() error {
		entryID = s.audit.Record(accessor, patientID, action, success, details)
		return nil
	})
	return entryID, err
}

// AuditEntry returns one audit entry
func (s *Service) AuditEntry(entryID int64) (*types.AuditLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.audit.Get(entryID)
}

// AuditTrail returns every audit entry in append order
func (s *Service) AuditTrail() []*types.AuditLogEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.audit.Entries()
}

// AuditByAccessor returns the audit entries written for address
func (s *Service) AuditByAccessor(address string) []*types.AuditLogEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.audit.ByAccessor(address)
}

// AuditByPatient returns the audit entries concerning patientID
func (s *Service) AuditByPatient(patientID int64) []*types.AuditLogEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.audit.ByPatient(patientID)
}

// VerifyAuditEntry recomputes one entry's hash
func (s *Service) VerifyAuditEntry(entryID int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.audit.Verify(entryID)
}

// VerifyAuditChain checks every link of the audit hash chain
func (s *Service) VerifyAuditChain() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.audit.VerifyChain(); err != nil {
		s.log.Security("audit_chain_broken", map[string]interface{}{"error": err.Error()})
		return types.NewInternalError(types.ErrCodeStorageFailure, "audit chain verification failed", err)
	}
	return nil
}

// Stats summarizes the size of every store
func (s *Service) Stats() types.LedgerStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users, active, patients := s.identity.Counts()
	permissions, effective := s.permissions.Counts()
	counts := s.records.Counts()

	return types.LedgerStats{
		TotalUsers:        users,
		ActiveUsers:       active,
		TotalPatients:     patients,
		TotalPermissions:  permissions,
		ActivePermissions: effective,
		TotalRecords:      counts.Records,
		EmergencyRecords:  counts.Emergency,
		RecordsByStatus:   counts.ByStatus,
		TotalAmendments:   counts.Amendments,
		TotalSignatures:   counts.Signatures,
		TotalAuditEntries: s.audit.Count(),
	}
}
