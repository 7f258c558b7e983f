package types

import (
	"fmt"
	"strings"
	"time"
)

// RecordType classifies a medical record
type RecordType int

const (
	RecordConsultation RecordType = iota
	RecordPrescription
	RecordTestResult
	RecordSurgery
	RecordVaccination
	RecordEmergency
	RecordFollowUp
	RecordDischargeSummary
)

var recordTypeNames = map[RecordType]string{
	RecordConsultation:     "consultation",
	RecordPrescription:     "prescription",
	RecordTestResult:       "test_result",
	RecordSurgery:          "surgery",
	RecordVaccination:      "vaccination",
	RecordEmergency:        "emergency",
	RecordFollowUp:         "follow_up",
	RecordDischargeSummary: "discharge_summary",
}

func (t RecordType) String() string {
	if name, ok := recordTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("record_type(%d)", int(t))
}

// Valid reports whether t is a known record type
func (t RecordType) Valid() bool {
	_, ok := recordTypeNames[t]
	return ok
}

func (t RecordType) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("unknown record type %d", int(t))
	}
	return []byte(t.String()), nil
}

func (t *RecordType) UnmarshalText(text []byte) error {
	parsed, err := ParseRecordType(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// ParseRecordType parses a record type name, case-insensitively
func ParseRecordType(name string) (RecordType, error) {
	normalized := strings.ToLower(strings.TrimSpace(name))
	for recordType, typeName := range recordTypeNames {
		if typeName == normalized {
			return recordType, nil
		}
	}
	return 0, NewInvalidInputError("type", fmt.Sprintf("unknown record type %q", name))
}

// RecordStatus is the lifecycle state of a medical record
type RecordStatus int

const (
	StatusDraft RecordStatus = iota
	StatusFinalized
	StatusAmended
	StatusCancelled
)

var recordStatusNames = map[RecordStatus]string{
	StatusDraft:     "draft",
	StatusFinalized: "finalized",
	StatusAmended:   "amended",
	StatusCancelled: "cancelled",
}

func (s RecordStatus) String() string {
	if name, ok := recordStatusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("record_status(%d)", int(s))
}

func (s RecordStatus) MarshalText() ([]byte, error) {
	name, ok := recordStatusNames[s]
	if !ok {
		return nil, fmt.Errorf("unknown record status %d", int(s))
	}
	return []byte(name), nil
}

func (s *RecordStatus) UnmarshalText(text []byte) error {
	for status, name := range recordStatusNames {
		if name == string(text) {
			*s = status
			return nil
		}
	}
	return fmt.Errorf("unknown record status %q", string(text))
}

// MedicalRecord represents one clinical document reference. The payload
// itself lives off-ledger; only its hashes are kept here.
type MedicalRecord struct {
	ID                int64        `json:"id"`
	PatientID         int64        `json:"patient_id"`
	DoctorAddress     string       `json:"doctor_address"`
	Type              RecordType   `json:"type"`
	Status            RecordStatus `json:"status"`
	EncryptedDataHash string       `json:"encrypted_data_hash"`
	OriginalDataHash  string       `json:"original_data_hash"`
	CreatedAt         time.Time    `json:"created_at"`
	LastModifiedAt    time.Time    `json:"last_modified_at"`
	AttachmentHashes  []string     `json:"attachment_hashes"`
	Metadata          string       `json:"metadata"`
	IsEmergency       bool         `json:"is_emergency"`
	AuthorizedViewers []string     `json:"authorized_viewers"`
}

// HasViewer reports whether address was granted view access by sharing
func (r *MedicalRecord) HasViewer(address string) bool {
	for _, viewer := range r.AuthorizedViewers {
		if viewer == address {
			return true
		}
	}
	return false
}

// Clone returns a deep copy safe to hand out to callers
func (r *MedicalRecord) Clone() *MedicalRecord {
	c := *r
	c.AttachmentHashes = append([]string(nil), r.AttachmentHashes...)
	c.AuthorizedViewers = append([]string(nil), r.AuthorizedViewers...)
	return &c
}

// Amendment records a replacement of a record's encrypted payload
type Amendment struct {
	ID                   int64     `json:"id"`
	OriginalRecordID     int64     `json:"original_record_id"`
	AmendedBy            string    `json:"amended_by"`
	Reason               string    `json:"reason"`
	NewEncryptedDataHash string    `json:"new_encrypted_data_hash"`
	AmendedAt            time.Time `json:"amended_at"`
}

// Signature is an opaque signature appended to a record
type Signature struct {
	Signer     string    `json:"signer"`
	RecordID   int64     `json:"record_id"`
	Signature  string    `json:"signature"`
	SignedAt   time.Time `json:"signed_at"`
	SignerRole string    `json:"signer_role"`
}
