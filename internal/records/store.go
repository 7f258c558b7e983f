package records

import (
	"fmt"
	"sort"
	"sync"

	"github.com/medrex/medledger/pkg/types"
)

// Directory resolves users and patient identities for the record store
type Directory interface {
	Lookup(address string) (*types.User, error)
	Patient(patientID int64) (*types.Patient, error)
	IsOwner(patientID int64, address string) bool
}

// DedupKey identifies a source document for one patient. A key is retained
// for the lifetime of the store, cancelled records included.
type DedupKey struct {
	PatientID        int64  `json:"patient_id"`
	OriginalDataHash string `json:"original_data_hash"`
}

// Store owns the medical record lifecycle
type Store struct {
	mu        sync.RWMutex
	directory Directory
	clock     types.Clock

	records         map[int64]*types.MedicalRecord
	byPatient       map[int64][]int64
	usedDocuments   map[DedupKey]int64
	amendments      map[int64][]*types.Amendment
	signatures      map[int64][]*types.Signature
	nextRecordID    int64
	nextAmendmentID int64
}

// State is the serializable form of the store
type State struct {
	Records         []*types.MedicalRecord `json:"records"`
	DedupKeys       []DedupKey             `json:"dedup_keys"`
	Amendments      []*types.Amendment     `json:"amendments"`
	Signatures      []*types.Signature     `json:"signatures"`
	NextRecordID    int64                  `json:"next_record_id"`
	NextAmendmentID int64                  `json:"next_amendment_id"`
}

// Counts summarizes the store contents
type Counts struct {
	Records    int
	Emergency  int
	ByStatus   map[string]int
	Amendments int
	Signatures int
}

// NewStore creates an empty record store backed by directory
func NewStore(directory Directory, clock types.Clock) *Store {
	return &Store{
		directory:       directory,
		clock:           clock,
		records:         make(map[int64]*types.MedicalRecord),
		byPatient:       make(map[int64][]int64),
		usedDocuments:   make(map[DedupKey]int64),
		amendments:      make(map[int64][]*types.Amendment),
		signatures:      make(map[int64][]*types.Signature),
		nextRecordID:    1,
		nextAmendmentID: 1,
	}
}

// Counts returns record, emergency, status, amendment and signature totals
func (s *Store) Counts() Counts {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := Counts{
		Records:  len(s.records),
		ByStatus: make(map[string]int),
	}
	for _, record := range s.records {
		if record.IsEmergency {
			counts.Emergency++
		}
		counts.ByStatus[record.Status.String()]++
	}
	for _, list := range s.amendments {
		counts.Amendments += len(list)
	}
	for _, list := range s.signatures {
		counts.Signatures += len(list)
	}
	return counts
}

// Snapshot returns a deterministic copy of the store state
func (s *Store) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state := State{
		Records:         make([]*types.MedicalRecord, 0, len(s.records)),
		DedupKeys:       make([]DedupKey, 0, len(s.usedDocuments)),
		Amendments:      []*types.Amendment{},
		Signatures:      []*types.Signature{},
		NextRecordID:    s.nextRecordID,
		NextAmendmentID: s.nextAmendmentID,
	}
	for _, record := range s.records {
		state.Records = append(state.Records, record.Clone())
	}
	sort.Slice(state.Records, func(i, j int) bool { return state.Records[i].ID < state.Records[j].ID })

	for key := range s.usedDocuments {
		state.DedupKeys = append(state.DedupKeys, key)
	}
	sort.Slice(state.DedupKeys, func(i, j int) bool {
		if state.DedupKeys[i].PatientID != state.DedupKeys[j].PatientID {
			return state.DedupKeys[i].PatientID < state.DedupKeys[j].PatientID
		}
		return state.DedupKeys[i].OriginalDataHash < state.DedupKeys[j].OriginalDataHash
	})

	for _, record := range state.Records {
		for _, amendment := range s.amendments[record.ID] {
			a := *amendment
			state.Amendments = append(state.Amendments, &a)
		}
		for _, signature := range s.signatures[record.ID] {
			sig := *signature
			state.Signatures = append(state.Signatures, &sig)
		}
	}
	return state
}

// Restore replaces the store contents with state
func (s *Store) Restore(state State) error {
	records := make(map[int64]*types.MedicalRecord, len(state.Records))
	byPatient := make(map[int64][]int64)
	usedDocuments := make(map[DedupKey]int64, len(state.DedupKeys))
	nextRecord := state.NextRecordID
	nextAmendment := state.NextAmendmentID

	sorted := append([]*types.MedicalRecord(nil), state.Records...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })
	for _, record := range sorted {
		if _, dup := records[record.ID]; dup {
			return fmt.Errorf("duplicate record %d in record state", record.ID)
		}
		records[record.ID] = record.Clone()
		byPatient[record.PatientID] = append(byPatient[record.PatientID], record.ID)
		usedDocuments[DedupKey{PatientID: record.PatientID, OriginalDataHash: record.OriginalDataHash}] = record.ID
		if record.ID >= nextRecord {
			nextRecord = record.ID + 1
		}
	}
	for _, key := range state.DedupKeys {
		if _, exists := usedDocuments[key]; !exists {
			usedDocuments[key] = 0
		}
	}

	amendments := make(map[int64][]*types.Amendment)
	for _, amendment := range state.Amendments {
		if _, exists := records[amendment.OriginalRecordID]; !exists {
			return fmt.Errorf("amendment %d references unknown record %d", amendment.ID, amendment.OriginalRecordID)
		}
		a := *amendment
		amendments[a.OriginalRecordID] = append(amendments[a.OriginalRecordID], &a)
		if a.ID >= nextAmendment {
			nextAmendment = a.ID + 1
		}
	}

	signatures := make(map[int64][]*types.Signature)
	for _, signature := range state.Signatures {
		if _, exists := records[signature.RecordID]; !exists {
			return fmt.Errorf("signature references unknown record %d", signature.RecordID)
		}
		sig := *signature
		signatures[sig.RecordID] = append(signatures[sig.RecordID], &sig)
	}

	if nextRecord < 1 {
		nextRecord = 1
	}
	if nextAmendment < 1 {
		nextAmendment = 1
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = records
	s.byPatient = byPatient
	s.usedDocuments = usedDocuments
	s.amendments = amendments
	s.signatures = signatures
	s.nextRecordID = nextRecord
	s.nextAmendmentID = nextAmendment
	return nil
}

// record must be called with the lock held
func (s *Store) record(recordID int64) (*types.MedicalRecord, error) {
	record, exists := s.records[recordID]
	if !exists {
		return nil, types.NewNotFoundError(types.ErrCodeRecordNotFound, "medical record not found").
			WithDetail("record_id", recordID)
	}
	return record, nil
}

// requireCreator must be called with the lock held
func (s *Store) requireCreator(recordID int64, doctorAddress string) (*types.MedicalRecord, error) {
	record, err := s.record(recordID)
	if err != nil {
		return nil, err
	}
	if record.DoctorAddress != doctorAddress {
		return nil, types.NewUnauthorizedError("only the creating doctor can modify this record").
			WithDetail("record_id", recordID)
	}
	return record, nil
}
