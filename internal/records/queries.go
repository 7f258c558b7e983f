package records

import (
	"github.com/medrex/medledger/pkg/types"
)

// Get returns a record to a requester with access. Access is held by the
// creating doctor, the patient owner and viewers the record was shared with.
// Delegated permissions are not consulted here.
func (s *Store) Get(recordID int64, requesterAddress string) (*types.MedicalRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, err := s.record(recordID)
	if err != nil {
		return nil, err
	}
	if !s.hasAccess(record, requesterAddress) {
		return nil, types.NewUnauthorizedError("requester has no access to this record").
			WithDetail("record_id", recordID)
	}
	return record.Clone(), nil
}

// Inspect returns a record without applying access rules. It is meant for
// hosts composing their own policy on top of the store.
func (s *Store) Inspect(recordID int64) (*types.MedicalRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, err := s.record(recordID)
	if err != nil {
		return nil, err
	}
	return record.Clone(), nil
}

// Amendments returns a record's amendments in the order they were made
func (s *Store) Amendments(recordID int64, requesterAddress string) ([]*types.Amendment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, err := s.record(recordID)
	if err != nil {
		return nil, err
	}
	if !s.hasAccess(record, requesterAddress) {
		return nil, types.NewUnauthorizedError("requester has no access to this record").
			WithDetail("record_id", recordID)
	}

	result := make([]*types.Amendment, 0, len(s.amendments[recordID]))
	for _, amendment := range s.amendments[recordID] {
		a := *amendment
		result = append(result, &a)
	}
	return result, nil
}

// Signatures returns a record's signatures in the order they were added
func (s *Store) Signatures(recordID int64, requesterAddress string) ([]*types.Signature, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, err := s.record(recordID)
	if err != nil {
		return nil, err
	}
	if !s.hasAccess(record, requesterAddress) {
		return nil, types.NewUnauthorizedError("requester has no access to this record").
			WithDetail("record_id", recordID)
	}

	result := make([]*types.Signature, 0, len(s.signatures[recordID]))
	for _, signature := range s.signatures[recordID] {
		sig := *signature
		result = append(result, &sig)
	}
	return result, nil
}

// History returns every record id for patientID in creation order
func (s *Store) History(patientID int64, requesterAddress string) ([]int64, error) {
	return s.filter(patientID, requesterAddress, func(*types.MedicalRecord) bool { return true })
}

// ByType returns the ids of patientID's records of the given type
func (s *Store) ByType(patientID int64, recordType types.RecordType, requesterAddress string) ([]int64, error) {
	return s.filter(patientID, requesterAddress, func(record *types.MedicalRecord) bool {
		return record.Type == recordType
	})
}

// EmergencyRecords returns the ids of patientID's emergency records
func (s *Store) EmergencyRecords(patientID int64, requesterAddress string) ([]int64, error) {
	return s.filter(patientID, requesterAddress, func(record *types.MedicalRecord) bool {
		return record.IsEmergency
	})
}

// VerifyIntegrity reports whether candidateOriginalHash matches the record's
// original data hash. A missing record simply does not match.
func (s *Store) VerifyIntegrity(recordID int64, candidateOriginalHash string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, exists := s.records[recordID]
	return exists && record.OriginalDataHash == candidateOriginalHash
}

func (s *Store) filter(patientID int64, requesterAddress string, keep func(*types.MedicalRecord) bool) ([]int64, error) {
	if !s.canReadHistory(patientID, requesterAddress) {
		return nil, types.NewUnauthorizedError("requester cannot read this patient's history").
			WithDetail("patient_id", patientID)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := []int64{}
	for _, id := range s.byPatient[patientID] {
		if keep(s.records[id]) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// canReadHistory allows the patient owner and active doctors or admins
func (s *Store) canReadHistory(patientID int64, address string) bool {
	if s.directory.IsOwner(patientID, address) {
		return true
	}
	user, err := s.directory.Lookup(address)
	if err != nil || !user.Active {
		return false
	}
	return user.Role == types.RoleDoctor || user.Role == types.RoleAdmin
}

// hasAccess must be called with the lock held
func (s *Store) hasAccess(record *types.MedicalRecord, address string) bool {
	if record.DoctorAddress == address {
		return true
	}
	if s.directory.IsOwner(record.PatientID, address) {
		return true
	}
	return record.HasViewer(address)
}
