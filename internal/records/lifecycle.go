package records

import (
	"strings"

	"github.com/medrex/medledger/pkg/types"
)

// cancellationMarker separates the original metadata from a cancellation reason
const cancellationMarker = " | CANCELLED: "

// NewRecord carries the fields supplied when a record is created
type NewRecord struct {
	PatientID         int64
	DoctorAddress     string
	Type              types.RecordType
	EncryptedDataHash string
	OriginalDataHash  string
	AttachmentHashes  []string
	Metadata          string
	IsEmergency       bool
}

// Create stores a new record and returns its id. Emergency records start
// Finalized; all others start as Draft.
func (s *Store) Create(input NewRecord) (int64, error) {
	if input.PatientID <= 0 {
		return 0, types.NewInvalidInputError("patient_id", "patient id must be positive")
	}
	if strings.TrimSpace(input.EncryptedDataHash) == "" {
		return 0, types.NewInvalidInputError("encrypted_data_hash", "encrypted data hash is required")
	}
	if strings.TrimSpace(input.OriginalDataHash) == "" {
		return 0, types.NewInvalidInputError("original_data_hash", "original data hash is required")
	}
	if !input.Type.Valid() {
		return 0, types.NewInvalidInputError("type", "unknown record type")
	}

	doctor, err := s.directory.Lookup(input.DoctorAddress)
	if err != nil || !doctor.Active || doctor.Role != types.RoleDoctor {
		return 0, types.NewUnauthorizedError("only an active registered doctor can create records").
			WithDetail("doctor_address", input.DoctorAddress)
	}
	patient, err := s.directory.Patient(input.PatientID)
	if err != nil {
		return 0, err
	}
	if _, err := s.directory.Lookup(patient.OwnerAddress); err != nil {
		return 0, err
	}

	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	key := DedupKey{PatientID: input.PatientID, OriginalDataHash: input.OriginalDataHash}
	if _, used := s.usedDocuments[key]; used {
		return 0, types.NewAlreadyExistsError(types.ErrCodeDuplicateDocument, "document already recorded for this patient").
			WithDetail("patient_id", input.PatientID)
	}

	status := types.StatusDraft
	if input.IsEmergency {
		status = types.StatusFinalized
	}

	record := &types.MedicalRecord{
		ID:                s.nextRecordID,
		PatientID:         input.PatientID,
		DoctorAddress:     input.DoctorAddress,
		Type:              input.Type,
		Status:            status,
		EncryptedDataHash: input.EncryptedDataHash,
		OriginalDataHash:  input.OriginalDataHash,
		CreatedAt:         now,
		LastModifiedAt:    now,
		AttachmentHashes:  append([]string{}, input.AttachmentHashes...),
		Metadata:          input.Metadata,
		IsEmergency:       input.IsEmergency,
		AuthorizedViewers: []string{},
	}
	s.records[record.ID] = record
	s.byPatient[record.PatientID] = append(s.byPatient[record.PatientID], record.ID)
	s.usedDocuments[key] = record.ID
	s.nextRecordID++

	return record.ID, nil
}

// Finalize moves a Draft record to Finalized
func (s *Store) Finalize(recordID int64, doctorAddress string) error {
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	record, err := s.requireCreator(recordID, doctorAddress)
	if err != nil {
		return err
	}
	if record.Status != types.StatusDraft {
		return invalidTransition(record, types.StatusFinalized)
	}

	record.Status = types.StatusFinalized
	record.LastModifiedAt = now
	return nil
}

// Amend replaces the encrypted payload reference and returns the amendment id.
// The original data hash and the dedup key are never changed.
func (s *Store) Amend(recordID int64, doctorAddress, newEncryptedHash, reason string) (int64, error) {
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	record, err := s.requireCreator(recordID, doctorAddress)
	if err != nil {
		return 0, err
	}
	if record.Status == types.StatusCancelled {
		return 0, invalidTransition(record, types.StatusAmended)
	}
	if strings.TrimSpace(reason) == "" {
		return 0, types.NewInvalidInputError("reason", "amendment reason is required")
	}
	if strings.TrimSpace(newEncryptedHash) == "" {
		return 0, types.NewInvalidInputError("new_encrypted_data_hash", "new encrypted data hash is required")
	}

	amendment := &types.Amendment{
		ID:                   s.nextAmendmentID,
		OriginalRecordID:     recordID,
		AmendedBy:            doctorAddress,
		Reason:               reason,
		NewEncryptedDataHash: newEncryptedHash,
		AmendedAt:            now,
	}
	s.amendments[recordID] = append(s.amendments[recordID], amendment)
	s.nextAmendmentID++

	record.EncryptedDataHash = newEncryptedHash
	record.Status = types.StatusAmended
	record.LastModifiedAt = now

	return amendment.ID, nil
}

// Cancel moves a record to the terminal Cancelled state and annotates its
// metadata with the reason.
func (s *Store) Cancel(recordID int64, doctorAddress, reason string) error {
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	record, err := s.requireCreator(recordID, doctorAddress)
	if err != nil {
		return err
	}
	if record.Status == types.StatusCancelled {
		return invalidTransition(record, types.StatusCancelled)
	}
	if strings.TrimSpace(reason) == "" {
		return types.NewInvalidInputError("reason", "cancellation reason is required")
	}

	record.Status = types.StatusCancelled
	record.Metadata += cancellationMarker + reason
	record.LastModifiedAt = now
	return nil
}

// Sign appends a signature. Any caller may sign; signature validity is
// checked outside the ledger.
func (s *Store) Sign(recordID int64, signerAddress, signature, signerRole string) error {
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.record(recordID); err != nil {
		return err
	}
	if strings.TrimSpace(signerAddress) == "" {
		return types.NewInvalidInputError("signer", "signer address is required")
	}
	if strings.TrimSpace(signature) == "" {
		return types.NewInvalidInputError("signature", "signature is required")
	}
	if strings.TrimSpace(signerRole) == "" {
		return types.NewInvalidInputError("signer_role", "signer role is required")
	}

	s.signatures[recordID] = append(s.signatures[recordID], &types.Signature{
		Signer:     signerAddress,
		RecordID:   recordID,
		Signature:  signature,
		SignedAt:   now,
		SignerRole: signerRole,
	})
	return nil
}

// Share adds viewerAddress to the record's authorized viewers. Only the
// creating doctor or the patient owner may share.
func (s *Store) Share(recordID int64, sharerAddress, viewerAddress string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, err := s.record(recordID)
	if err != nil {
		return err
	}
	if record.DoctorAddress != sharerAddress && !s.directory.IsOwner(record.PatientID, sharerAddress) {
		return types.NewUnauthorizedError("only the creating doctor or the patient can share this record").
			WithDetail("record_id", recordID)
	}
	if strings.TrimSpace(viewerAddress) == "" {
		return types.NewInvalidInputError("viewer", "viewer address is required")
	}
	if record.HasViewer(viewerAddress) {
		return types.NewAlreadyExistsError(types.ErrCodeViewerExists, "viewer already authorized").
			WithDetail("viewer", viewerAddress)
	}

	record.AuthorizedViewers = append(record.AuthorizedViewers, viewerAddress)
	return nil
}

func invalidTransition(record *types.MedicalRecord, target types.RecordStatus) *types.LedgerError {
	return types.NewInvalidStateError(types.ErrCodeInvalidTransition, "record cannot move to "+target.String()+" from "+record.Status.String()).
		WithDetail("record_id", record.ID).
		WithDetail("status", record.Status.String())
}
