package records

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medrex/medledger/internal/identity"
	"github.com/medrex/medledger/pkg/types"
)

const (
	adminAddr      = "0xADMIN123"
	doctorAddr     = "0xDOCTOR456"
	otherDoctor    = "0xDOCTOR999"
	nurseAddr      = "0xNURSE789"
	pharmacistAddr = "0xPHARMACIST012"
	patientAddr    = "0xPATIENT1"
	patient2Addr   = "0xPATIENT678"
)

type recordFixture struct {
	store    *Store
	registry *identity.Registry
	now      time.Time
}

func setupRecordTest(t *testing.T) *recordFixture {
	t.Helper()
	f := &recordFixture{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
	clock := func() time.Time { return f.now }

	f.registry = identity.NewRegistry(clock)
	_, err := f.registry.Bootstrap(adminAddr, "admin_public_key", "ADMIN_001")
	require.NoError(t, err)
	for addr, role := range map[string]types.Role{
		doctorAddr:     types.RoleDoctor,
		otherDoctor:    types.RoleDoctor,
		nurseAddr:      types.RoleNurse,
		pharmacistAddr: types.RolePharmacist,
		patientAddr:    types.RolePatient,
		patient2Addr:   types.RolePatient,
	} {
		_, err := f.registry.Register(adminAddr, addr, role, "key", "ID")
		require.NoError(t, err)
	}
	for _, owner := range []string{patientAddr, patient2Addr} {
		_, err := f.registry.RegisterPatient(owner, "encrypted_patient_data", "patient_metadata")
		require.NoError(t, err)
	}

	f.store = NewStore(f.registry, clock)
	return f
}

func (f *recordFixture) create(t *testing.T, patientID int64, recordType types.RecordType, original string, emergency bool) int64 {
	t.Helper()
	id, err := f.store.Create(NewRecord{
		PatientID:         patientID,
		DoctorAddress:     doctorAddr,
		Type:              recordType,
		EncryptedDataHash: "enc_" + original,
		OriginalDataHash:  original,
		Metadata:          "note",
		IsEmergency:       emergency,
	})
	require.NoError(t, err)
	return id
}

func TestStore_LifecycleScenario(t *testing.T) {
	f := setupRecordTest(t)

	id, err := f.store.Create(NewRecord{
		PatientID:         1,
		DoctorAddress:     doctorAddr,
		Type:              types.RecordConsultation,
		EncryptedDataHash: "enc1",
		OriginalDataHash:  "orig1",
		AttachmentHashes:  []string{},
		Metadata:          "note",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)
	assert.Equal(t, types.StatusDraft, f.status(t, id))

	require.NoError(t, f.store.Finalize(id, doctorAddr))
	assert.Equal(t, types.StatusFinalized, f.status(t, id))

	f.now = f.now.Add(time.Hour)
	amendmentID, err := f.store.Amend(id, doctorAddr, "enc2", "added labs")
	require.NoError(t, err)
	assert.Equal(t, int64(1), amendmentID)

	record, err := f.store.Get(id, doctorAddr)
	require.NoError(t, err)
	assert.Equal(t, types.StatusAmended, record.Status)
	assert.Equal(t, "orig1", record.OriginalDataHash)
	assert.Equal(t, "enc2", record.EncryptedDataHash)
	assert.Equal(t, f.now, record.LastModifiedAt)
	assert.True(t, record.CreatedAt.Before(record.LastModifiedAt))

	require.NoError(t, f.store.Cancel(id, doctorAddr, "error"))
	record, err = f.store.Get(id, doctorAddr)
	require.NoError(t, err)
	assert.Equal(t, types.StatusCancelled, record.Status)
	assert.Equal(t, "note | CANCELLED: error", record.Metadata)

	err = f.store.Finalize(id, doctorAddr)
	assert.True(t, types.IsInvalidState(err))
}

func (f *recordFixture) status(t *testing.T, id int64) types.RecordStatus {
	t.Helper()
	record, err := f.store.Inspect(id)
	require.NoError(t, err)
	return record.Status
}

func TestStore_Create(t *testing.T) {
	f := setupRecordTest(t)

	valid := NewRecord{
		PatientID:         1,
		DoctorAddress:     doctorAddr,
		Type:              types.RecordPrescription,
		EncryptedDataHash: "enc",
		OriginalDataHash:  "orig",
	}

	testCases := []struct {
		name   string
		mutate func(*NewRecord)
		check  func(error) bool
	}{
		{"zero patient id", func(r *NewRecord) { r.PatientID = 0 }, types.IsInvalidInput},
		{"negative patient id", func(r *NewRecord) { r.PatientID = -3 }, types.IsInvalidInput},
		{"empty encrypted hash", func(r *NewRecord) { r.EncryptedDataHash = "" }, types.IsInvalidInput},
		{"empty original hash", func(r *NewRecord) { r.OriginalDataHash = " " }, types.IsInvalidInput},
		{"unknown type", func(r *NewRecord) { r.Type = types.RecordType(99) }, types.IsInvalidInput},
		{"unregistered creator", func(r *NewRecord) { r.DoctorAddress = "0xUNKNOWN" }, types.IsUnauthorized},
		{"nurse cannot create", func(r *NewRecord) { r.DoctorAddress = nurseAddr }, types.IsUnauthorized},
		{"unknown patient", func(r *NewRecord) { r.PatientID = 77 }, types.IsNotFound},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			input := valid
			tc.mutate(&input)
			_, err := f.store.Create(input)
			assert.True(t, tc.check(err), "unexpected error: %v", err)
		})
	}
	assert.Equal(t, 0, f.store.Counts().Records)

	t.Run("emergency records start finalized", func(t *testing.T) {
		id := f.create(t, 2, types.RecordEmergency, "emergency_hash_001", true)
		assert.Equal(t, types.StatusFinalized, f.status(t, id))

		err := f.store.Finalize(id, doctorAddr)
		assert.True(t, types.IsInvalidState(err))
	})

	t.Run("attachments are copied", func(t *testing.T) {
		attachments := []string{"xray_hash", "blood_test_hash"}
		input := valid
		input.OriginalDataHash = "with_attachments"
		input.AttachmentHashes = attachments
		id, err := f.store.Create(input)
		require.NoError(t, err)
		attachments[0] = "tampered"

		record, err := f.store.Get(id, doctorAddr)
		require.NoError(t, err)
		assert.Equal(t, []string{"xray_hash", "blood_test_hash"}, record.AttachmentHashes)
	})
}

func TestStore_Deduplication(t *testing.T) {
	f := setupRecordTest(t)
	id := f.create(t, 1, types.RecordConsultation, "consultation_hash_001", false)

	_, err := f.store.Create(NewRecord{PatientID: 1, DoctorAddress: doctorAddr, Type: types.RecordFollowUp,
		EncryptedDataHash: "other", OriginalDataHash: "consultation_hash_001"})
	assert.True(t, types.IsAlreadyExists(err))

	t.Run("key survives cancellation", func(t *testing.T) {
		require.NoError(t, f.store.Cancel(id, doctorAddr, "duplicate entry"))
		_, err := f.store.Create(NewRecord{PatientID: 1, DoctorAddress: doctorAddr, Type: types.RecordConsultation,
			EncryptedDataHash: "again", OriginalDataHash: "consultation_hash_001"})
		assert.True(t, types.IsAlreadyExists(err))
	})

	t.Run("key is per patient", func(t *testing.T) {
		f.create(t, 2, types.RecordConsultation, "consultation_hash_001", false)
	})

	t.Run("key survives amendment", func(t *testing.T) {
		other := f.create(t, 1, types.RecordTestResult, "test_hash_001", false)
		_, err := f.store.Amend(other, doctorAddr, "test_hash_002", "corrected")
		require.NoError(t, err)

		_, err = f.store.Create(NewRecord{PatientID: 1, DoctorAddress: doctorAddr, Type: types.RecordTestResult,
			EncryptedDataHash: "x", OriginalDataHash: "test_hash_001"})
		assert.True(t, types.IsAlreadyExists(err))
	})
}

func TestStore_StateMachine(t *testing.T) {
	f := setupRecordTest(t)

	t.Run("finalize requires draft", func(t *testing.T) {
		id := f.create(t, 1, types.RecordConsultation, "sm_finalized", false)
		require.NoError(t, f.store.Finalize(id, doctorAddr))
		assert.True(t, types.IsInvalidState(f.store.Finalize(id, doctorAddr)))

		_, err := f.store.Amend(id, doctorAddr, "enc", "reason")
		require.NoError(t, err)
		assert.True(t, types.IsInvalidState(f.store.Finalize(id, doctorAddr)))
	})

	t.Run("amend directly from draft", func(t *testing.T) {
		id := f.create(t, 1, types.RecordConsultation, "sm_draft_amend", false)
		_, err := f.store.Amend(id, doctorAddr, "enc", "reason")
		require.NoError(t, err)
		assert.Equal(t, types.StatusAmended, f.status(t, id))
	})

	t.Run("re-amend any number of times", func(t *testing.T) {
		id := f.create(t, 1, types.RecordConsultation, "sm_reamend", false)
		for i := 0; i < 3; i++ {
			_, err := f.store.Amend(id, doctorAddr, "enc", "reason")
			require.NoError(t, err)
		}
		amendments, err := f.store.Amendments(id, doctorAddr)
		require.NoError(t, err)
		assert.Len(t, amendments, 3)
		assert.True(t, f.store.VerifyIntegrity(id, "sm_reamend"))
	})

	t.Run("cancel from every live state and absorb", func(t *testing.T) {
		draft := f.create(t, 1, types.RecordConsultation, "sm_cancel_draft", false)
		finalized := f.create(t, 1, types.RecordConsultation, "sm_cancel_final", false)
		require.NoError(t, f.store.Finalize(finalized, doctorAddr))
		amended := f.create(t, 1, types.RecordConsultation, "sm_cancel_amended", false)
		_, err := f.store.Amend(amended, doctorAddr, "enc", "reason")
		require.NoError(t, err)

		for _, id := range []int64{draft, finalized, amended} {
			require.NoError(t, f.store.Cancel(id, doctorAddr, "entered in error"))
			assert.Equal(t, types.StatusCancelled, f.status(t, id))
			assert.True(t, types.IsInvalidState(f.store.Cancel(id, doctorAddr, "again")))

			_, err := f.store.Amend(id, doctorAddr, "enc", "reason")
			assert.True(t, types.IsInvalidState(err))
		}
	})

	t.Run("creator only", func(t *testing.T) {
		id := f.create(t, 1, types.RecordConsultation, "sm_creator", false)
		assert.True(t, types.IsUnauthorized(f.store.Finalize(id, otherDoctor)))
		_, err := f.store.Amend(id, otherDoctor, "enc", "reason")
		assert.True(t, types.IsUnauthorized(err))
		assert.True(t, types.IsUnauthorized(f.store.Cancel(id, patientAddr, "reason")))
	})

	t.Run("missing record", func(t *testing.T) {
		assert.True(t, types.IsNotFound(f.store.Finalize(404, doctorAddr)))
		_, err := f.store.Amend(404, doctorAddr, "enc", "reason")
		assert.True(t, types.IsNotFound(err))
		assert.True(t, types.IsNotFound(f.store.Cancel(404, doctorAddr, "reason")))
	})

	t.Run("reasons are required", func(t *testing.T) {
		id := f.create(t, 1, types.RecordConsultation, "sm_reasons", false)
		_, err := f.store.Amend(id, doctorAddr, "enc", "")
		assert.True(t, types.IsInvalidInput(err))
		assert.True(t, types.IsInvalidInput(f.store.Cancel(id, doctorAddr, " ")))
		assert.Equal(t, types.StatusDraft, f.status(t, id))
	})
}

func TestStore_SignAndShare(t *testing.T) {
	f := setupRecordTest(t)
	consultation := f.create(t, 1, types.RecordConsultation, "consultation_hash_001", false)
	prescription := f.create(t, 1, types.RecordPrescription, "prescription_hash_001", false)

	t.Run("anyone may sign", func(t *testing.T) {
		require.NoError(t, f.store.Sign(consultation, doctorAddr, "doctor_signature_consultation", "MEDICAL_DOCTOR"))
		require.NoError(t, f.store.Sign(consultation, nurseAddr, "nurse_signature", "NURSE"))

		signatures, err := f.store.Signatures(consultation, doctorAddr)
		require.NoError(t, err)
		require.Len(t, signatures, 2)
		assert.Equal(t, "MEDICAL_DOCTOR", signatures[0].SignerRole)
		assert.Equal(t, nurseAddr, signatures[1].Signer)
	})

	t.Run("sign validation", func(t *testing.T) {
		assert.True(t, types.IsNotFound(f.store.Sign(404, doctorAddr, "sig", "ROLE")))
		assert.True(t, types.IsInvalidInput(f.store.Sign(consultation, doctorAddr, "", "ROLE")))
		assert.True(t, types.IsInvalidInput(f.store.Sign(consultation, doctorAddr, "sig", "")))
	})

	t.Run("doctor shares with nurse", func(t *testing.T) {
		_, err := f.store.Get(consultation, nurseAddr)
		assert.True(t, types.IsUnauthorized(err))

		require.NoError(t, f.store.Share(consultation, doctorAddr, nurseAddr))
		record, err := f.store.Get(consultation, nurseAddr)
		require.NoError(t, err)
		assert.Equal(t, []string{nurseAddr}, record.AuthorizedViewers)
	})

	t.Run("patient shares with pharmacist", func(t *testing.T) {
		require.NoError(t, f.store.Share(prescription, patientAddr, pharmacistAddr))
		_, err := f.store.Get(prescription, pharmacistAddr)
		assert.NoError(t, err)
	})

	t.Run("duplicate viewer", func(t *testing.T) {
		assert.True(t, types.IsAlreadyExists(f.store.Share(consultation, doctorAddr, nurseAddr)))
	})

	t.Run("viewer cannot reshare", func(t *testing.T) {
		assert.True(t, types.IsUnauthorized(f.store.Share(consultation, nurseAddr, pharmacistAddr)))
	})

	t.Run("other patient cannot share", func(t *testing.T) {
		assert.True(t, types.IsUnauthorized(f.store.Share(consultation, patient2Addr, pharmacistAddr)))
	})

	t.Run("missing record", func(t *testing.T) {
		assert.True(t, types.IsNotFound(f.store.Share(404, doctorAddr, nurseAddr)))
	})
}

func TestStore_Get(t *testing.T) {
	f := setupRecordTest(t)
	id := f.create(t, 1, types.RecordConsultation, "get_hash", false)

	for _, addr := range []string{doctorAddr, patientAddr} {
		_, err := f.store.Get(id, addr)
		assert.NoError(t, err, addr)
	}
	for _, addr := range []string{otherDoctor, adminAddr, patient2Addr, "0xUNKNOWN"} {
		_, err := f.store.Get(id, addr)
		assert.True(t, types.IsUnauthorized(err), addr)
	}

	_, err := f.store.Get(404, doctorAddr)
	assert.True(t, types.IsNotFound(err))

	record, err := f.store.Get(id, doctorAddr)
	require.NoError(t, err)
	record.AuthorizedViewers = append(record.AuthorizedViewers, "0xINJECTED")
	_, err = f.store.Get(id, "0xINJECTED")
	assert.True(t, types.IsUnauthorized(err), "returned records must be copies")
}

func TestStore_HistoryQueries(t *testing.T) {
	f := setupRecordTest(t)
	consultation := f.create(t, 1, types.RecordConsultation, "consultation_hash_001", false)
	testResult := f.create(t, 1, types.RecordTestResult, "test_hash_001", false)
	prescription := f.create(t, 1, types.RecordPrescription, "prescription_hash_001", false)
	emergency := f.create(t, 2, types.RecordEmergency, "emergency_hash_001", true)
	followUp := f.create(t, 1, types.RecordFollowUp, "followup_hash_001", false)
	require.NoError(t, f.store.Cancel(testResult, doctorAddr, "wrong patient"))

	history, err := f.store.History(1, patientAddr)
	require.NoError(t, err)
	assert.Equal(t, []int64{consultation, testResult, prescription, followUp}, history)

	consultations, err := f.store.ByType(1, types.RecordConsultation, doctorAddr)
	require.NoError(t, err)
	assert.Equal(t, []int64{consultation}, consultations)

	emergencies, err := f.store.EmergencyRecords(2, doctorAddr)
	require.NoError(t, err)
	assert.Equal(t, []int64{emergency}, emergencies)

	none, err := f.store.EmergencyRecords(1, adminAddr)
	require.NoError(t, err)
	assert.Empty(t, none)

	t.Run("authorization", func(t *testing.T) {
		for _, addr := range []string{nurseAddr, pharmacistAddr, patient2Addr, "0xUNKNOWN"} {
			_, err := f.store.History(1, addr)
			assert.True(t, types.IsUnauthorized(err), addr)
			_, err = f.store.ByType(1, types.RecordConsultation, addr)
			assert.True(t, types.IsUnauthorized(err), addr)
			_, err = f.store.EmergencyRecords(1, addr)
			assert.True(t, types.IsUnauthorized(err), addr)
		}
	})

	t.Run("deactivated doctor", func(t *testing.T) {
		_, err := f.registry.SetActive(adminAddr, otherDoctor, false)
		require.NoError(t, err)
		_, err = f.store.History(1, otherDoctor)
		assert.True(t, types.IsUnauthorized(err))
	})

	counts := f.store.Counts()
	assert.Equal(t, 5, counts.Records)
	assert.Equal(t, 1, counts.Emergency)
	assert.Equal(t, 1, counts.ByStatus["cancelled"])
	assert.Equal(t, 1, counts.ByStatus["finalized"])
	assert.Equal(t, 3, counts.ByStatus["draft"])
}

func TestStore_VerifyIntegrity(t *testing.T) {
	f := setupRecordTest(t)
	id := f.create(t, 1, types.RecordConsultation, "orig1", false)

	assert.True(t, f.store.VerifyIntegrity(id, "orig1"))
	assert.False(t, f.store.VerifyIntegrity(id, "enc_orig1"))
	assert.False(t, f.store.VerifyIntegrity(404, "orig1"))

	_, err := f.store.Amend(id, doctorAddr, "enc2", "added labs")
	require.NoError(t, err)
	assert.True(t, f.store.VerifyIntegrity(id, "orig1"))
}

func TestStore_SnapshotRestore(t *testing.T) {
	f := setupRecordTest(t)
	id := f.create(t, 1, types.RecordConsultation, "orig1", false)
	_, err := f.store.Amend(id, doctorAddr, "enc2", "added labs")
	require.NoError(t, err)
	require.NoError(t, f.store.Sign(id, doctorAddr, "sig", "MEDICAL_DOCTOR"))
	require.NoError(t, f.store.Share(id, doctorAddr, nurseAddr))
	require.NoError(t, f.store.Cancel(id, doctorAddr, "error"))

	restored := NewStore(f.registry, func() time.Time { return f.now })
	require.NoError(t, restored.Restore(f.store.Snapshot()))
	assert.Equal(t, f.store.Snapshot(), restored.Snapshot())

	history, err := restored.History(1, patientAddr)
	require.NoError(t, err)
	assert.Equal(t, []int64{id}, history)

	_, err = restored.Create(NewRecord{PatientID: 1, DoctorAddress: doctorAddr, Type: types.RecordConsultation,
		EncryptedDataHash: "e", OriginalDataHash: "orig1"})
	assert.True(t, types.IsAlreadyExists(err), "restored dedup keys must reject resubmission")

	next, err := restored.Create(NewRecord{PatientID: 1, DoctorAddress: doctorAddr, Type: types.RecordConsultation,
		EncryptedDataHash: "e", OriginalDataHash: "orig2"})
	require.NoError(t, err)
	assert.Equal(t, id+1, next)

	amendmentID, err := restored.Amend(next, doctorAddr, "e2", "typo")
	require.NoError(t, err)
	assert.Equal(t, int64(2), amendmentID)

	t.Run("dangling amendment", func(t *testing.T) {
		state := f.store.Snapshot()
		state.Amendments[0].OriginalRecordID = 999
		assert.Error(t, NewStore(f.registry, nil).Restore(state))
	})
}
