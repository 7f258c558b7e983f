package ledger

import (
	"github.com/medrex/medledger/pkg/types"
)

// Bootstrap seeds the first administrator of an empty ledger. The first
// transaction writes every state key so later ones find a complete ledger.
func (s *Service) Bootstrap(address, publicKey, professionalID string) (*types.User, error) {
	var user *types.User
	err := s.transact("bootstrap", address, allKeys, func() error {
		var err error
		user, err = s.identity.Bootstrap(address, publicKey, professionalID)
		return err
	})
	return user, err
}

// Register adds a user on behalf of an administrator
func (s *Service) Register(actingAdmin, address string, role types.Role, publicKey, professionalID string) (*types.User, error) {
	var user *types.User
	err := s.transact("register", actingAdmin, []string{KeyIdentity}, func() error {
		var err error
		user, err = s.identity.Register(actingAdmin, address, role, publicKey, professionalID)
		return err
	})
	return user, err
}

// SetActive enables or disables a user
func (s *Service) SetActive(actingAdmin, address string, active bool) (*types.User, error) {
	var user *types.User
	err := s.transact("set_active", actingAdmin, []string{KeyIdentity}, func() error {
		var err error
		user, err = s.identity.SetActive(actingAdmin, address, active)
		return err
	})
	return user, err
}

// Lookup returns the user registered for address
func (s *Service) Lookup(address string) (*types.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.identity.Lookup(address)
}

// RegisterPatient creates a patient identity owned by ownerAddress
func (s *Service) RegisterPatient(ownerAddress, encryptedPersonalData, metadataHash string) (int64, error) {
	var patientID int64
	err := s.transact("register_patient", ownerAddress, []string{KeyIdentity}, func() error {
		var err error
		patientID, err = s.identity.RegisterPatient(ownerAddress, encryptedPersonalData, metadataHash)
		return err
	})
	return patientID, err
}

// PatientInfo returns an active patient identity to a requester allowed to
// read that patient's data
func (s *Service) PatientInfo(patientID int64, requester string) (*types.Patient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	patient, err := s.identity.Patient(patientID)
	if err != nil {
		return nil, err
	}
	if !patient.Active {
		return nil, types.NewNotFoundError(types.ErrCodePatientNotFound, "patient is not active").
			WithDetail("patient_id", patientID)
	}
	if !s.permissions.Check(requester, patientID, types.ActionRead) {
		return nil, types.NewUnauthorizedError("requester cannot read this patient").
			WithDetail("patient_id", patientID)
	}
	return patient, nil
}

// PatientIDByAddress returns the patient identity owned by address
func (s *Service) PatientIDByAddress(address string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.identity.PatientIDByAddress(address)
	if !ok {
		return 0, types.NewNotFoundError(types.ErrCodePatientNotFound, "address owns no patient identity").
			WithDetail("address", address)
	}
	return id, nil
}

// IsOwner reports whether address owns patientID
func (s *Service) IsOwner(patientID int64, address string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.identity.IsOwner(patientID, address)
}
