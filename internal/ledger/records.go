package ledger

import (
	"fmt"

	"github.com/medrex/medledger/internal/records"
	"github.com/medrex/medledger/pkg/types"
)

// Audit actions written by AccessRecord
const (
	AuditActionViewRecord = "VIEW_RECORD"
)

// CreateRecord stores a new medical record
func (s *Service) CreateRecord(input records.NewRecord) (int64, error) {
	var recordID int64
	err := s.transact("create_record", input.DoctorAddress, []string{KeyRecords}, func() error {
		var err error
		recordID, err = s.records.Create(input)
		return err
	})
	return recordID, err
}

// Finalize moves a Draft record to Finalized
func (s *Service) Finalize(recordID int64, doctorAddress string) error {
	return s.transact("finalize_record", doctorAddress, []string{KeyRecords}, func() error {
		return s.records.Finalize(recordID, doctorAddress)
	})
}

// Amend replaces a record's encrypted payload reference
func (s *Service) Amend(recordID int64, doctorAddress, newEncryptedHash, reason string) (int64, error) {
	var amendmentID int64
	err := s.transact("amend_record", doctorAddress, []string{KeyRecords}, func() error {
		var err error
		amendmentID, err = s.records.Amend(recordID, doctorAddress, newEncryptedHash, reason)
		return err
	})
	return amendmentID, err
}

// Cancel moves a record to the terminal Cancelled state
func (s *Service) Cancel(recordID int64, doctorAddress, reason string) error {
	return s.transact("cancel_record", doctorAddress, []string{KeyRecords}, func() error {
		return s.records.Cancel(recordID, doctorAddress, reason)
	})
}

// Sign appends a signature to a record
func (s *Service) Sign(recordID int64, signerAddress, signature, signerRole string) error {
	return s.transact("sign_record", signerAddress, []string{KeyRecords}, func() error {
		return s.records.Sign(recordID, signerAddress, signature, signerRole)
	})
}

// Share adds a viewer to a record
func (s *Service) Share(recordID int64, sharerAddress, viewerAddress string) error {
	return s.transact("share_record", sharerAddress, []string{KeyRecords}, func() error {
		return s.records.Share(recordID, sharerAddress, viewerAddress)
	})
}

// GetRecord returns a record under the store's own access rule
func (s *Service) GetRecord(recordID int64, requester string) (*types.MedicalRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.records.Get(recordID, requester)
}

// AccessRecord combines both authorization paths: the record's own access
// rule and a delegated read permission on its patient. Every attempt, granted
// or denied, is written to the audit log.
func (s *Service) AccessRecord(recordID int64, requester string) (*types.MedicalRecord, error) {
	var (
		record    *types.MedicalRecord
		patientID int64
		denied    error
	)
	err := s.transact("access_record", requester, []string{KeyAudit}, func() error {
		inspected, err := s.records.Inspect(recordID)
		if err != nil {
			return err
		}
		patientID = inspected.PatientID

		path := "record access"
		record, err = s.records.Get(recordID, requester)
		if err != nil {
			path = "delegated permission"
			if s.permissions.Check(requester, patientID, types.ActionRead) {
				record = inspected
			} else {
				denied = err
			}
		}

		s.audit.Record(requester, patientID, AuditActionViewRecord, denied == nil,
			fmt.Sprintf("record %d via %s", recordID, path))
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.PHIAccess(requester, patientID, recordID, string(types.ActionRead), denied == nil)
	if denied != nil {
		return nil, denied
	}
	return record, nil
}

// History lists a patient's record ids in creation order
func (s *Service) History(patientID int64, requester string) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.records.History(patientID, requester)
}

// ByType lists a patient's record ids of one type
func (s *Service) ByType(patientID int64, recordType types.RecordType, requester string) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.records.ByType(patientID, recordType, requester)
}

// EmergencyRecords lists a patient's emergency record ids
func (s *Service) EmergencyRecords(patientID int64, requester string) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.records.EmergencyRecords(patientID, requester)
}

// Amendments lists a record's amendments
func (s *Service) Amendments(recordID int64, requester string) ([]*types.Amendment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.records.Amendments(recordID, requester)
}

// Signatures lists a record's signatures
func (s *Service) Signatures(recordID int64, requester string) ([]*types.Signature, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.records.Signatures(recordID, requester)
}

// VerifyIntegrity compares candidateOriginalHash with the record's original hash
func (s *Service) VerifyIntegrity(recordID int64, candidateOriginalHash string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.records.VerifyIntegrity(recordID, candidateOriginalHash)
}
