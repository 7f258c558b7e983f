package ledger

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/medrex/medledger/internal/records"
	"github.com/medrex/medledger/pkg/monitoring"
	"github.com/medrex/medledger/pkg/state"
	"github.com/medrex/medledger/pkg/types"
)

const (
	adminAddr      = "0xADMIN123"
	doctorAddr     = "0xDOCTOR456"
	nurseAddr      = "0xNURSE789"
	pharmacistAddr = "0xPHARMACIST012"
	patientAddr    = "0xPATIENT1"
)

// MockBackend is a mock implementation of state.Backend
type MockBackend struct {
	mock.Mock
}

func (m *MockBackend) Load(key string) ([]byte, error) {
	args := m.Called(key)
	data, _ := args.Get(0).([]byte)
	return data, args.Error(1)
}

func (m *MockBackend) Commit(entries map[string][]byte) error {
	args := m.Called(entries)
	return args.Error(0)
}

func (m *MockBackend) Close() error {
	args := m.Called()
	return args.Error(0)
}

type serviceFixture struct {
	svc       *Service
	now       time.Time
	patientID int64
}

func (f *serviceFixture) clock() types.Clock {
	return func() time.Time { return f.now }
}

func (f *serviceFixture) inDays(days int) time.Time {
	return f.now.Add(time.Duration(days) * 24 * time.Hour)
}

func openFixture(t *testing.T, backend state.Backend) *serviceFixture {
	t.Helper()
	f := &serviceFixture{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
	svc, err := Open(Options{Backend: backend, Clock: f.clock()})
	require.NoError(t, err)
	f.svc = svc
	return f
}

// setupServiceTest seeds an admin, a doctor, a nurse, a pharmacist and patient 1
func setupServiceTest(t *testing.T) *serviceFixture {
	t.Helper()
	f := openFixture(t, state.NewMemoryBackend())
	f.seed(t)
	return f
}

func (f *serviceFixture) seed(t *testing.T) {
	t.Helper()
	_, err := f.svc.Bootstrap(adminAddr, "admin_public_key", "ADMIN_001")
	require.NoError(t, err)

	for _, u := range []struct {
		address string
		role    types.Role
		id      string
	}{
		{doctorAddr, types.RoleDoctor, "MD_12345"},
		{nurseAddr, types.RoleNurse, "RN_67890"},
		{pharmacistAddr, types.RolePharmacist, "PH_11111"},
		{patientAddr, types.RolePatient, ""},
	} {
		_, err := f.svc.Register(adminAddr, u.address, u.role, u.address+"_public_key", u.id)
		require.NoError(t, err)
	}

	f.patientID, err = f.svc.RegisterPatient(patientAddr, "encrypted_patient_data", "patient_metadata_hash")
	require.NoError(t, err)
	require.Equal(t, int64(1), f.patientID)
}

func TestService_DelegationScenario(t *testing.T) {
	f := setupServiceTest(t)

	first, err := f.svc.Grant(patientAddr, doctorAddr, f.patientID, f.inDays(7),
		[]types.Action{types.ActionRead, types.ActionWrite, types.ActionPrescribe})
	require.NoError(t, err)
	assert.Equal(t, int64(1), first)

	second, err := f.svc.Grant(doctorAddr, nurseAddr, f.patientID, f.inDays(7),
		[]types.Action{types.ActionRead, types.ActionMonitor})
	require.NoError(t, err)
	assert.Equal(t, int64(2), second)

	assert.True(t, f.svc.Check(doctorAddr, f.patientID, types.ActionPrescribe))
	assert.False(t, f.svc.Check(nurseAddr, f.patientID, types.ActionPrescribe))
	assert.True(t, f.svc.Check(nurseAddr, f.patientID, types.ActionRead))

	require.NoError(t, f.svc.Revoke(doctorAddr, second))
	assert.False(t, f.svc.Check(nurseAddr, f.patientID, types.ActionRead))

	granted := f.svc.PermissionsFor(nurseAddr)
	require.Len(t, granted, 1)
	assert.False(t, granted[0].Active)
}

func TestService_GrantPolicy(t *testing.T) {
	f := setupServiceTest(t)

	t.Run("grantor without access", func(t *testing.T) {
		_, err := f.svc.Grant(nurseAddr, pharmacistAddr, f.patientID, f.inDays(1), []types.Action{types.ActionRead})
		assert.True(t, types.IsUnauthorized(err))
	})

	t.Run("admin may grant", func(t *testing.T) {
		_, err := f.svc.Grant(adminAddr, pharmacistAddr, f.patientID, f.inDays(1), []types.Action{types.ActionDispense})
		assert.NoError(t, err)
	})

	t.Run("invalid request is reported before the delegation rule", func(t *testing.T) {
		_, err := f.svc.Grant(nurseAddr, pharmacistAddr, f.patientID, f.now.Add(-time.Hour), []types.Action{types.ActionRead})
		assert.True(t, types.IsInvalidInput(err))

		_, err = f.svc.Grant(nurseAddr, pharmacistAddr, f.patientID, f.inDays(1), []types.Action{" "})
		assert.True(t, types.IsInvalidInput(err))
	})

	t.Run("engine validation still applies", func(t *testing.T) {
		_, err := f.svc.Grant(patientAddr, "0xUNKNOWN", f.patientID, f.inDays(1), []types.Action{types.ActionRead})
		assert.True(t, types.IsNotFound(err))

		_, err = f.svc.Grant(patientAddr, doctorAddr, f.patientID, f.now, []types.Action{types.ActionRead})
		assert.True(t, types.IsInvalidInput(err))
	})

	assert.Equal(t, 1, f.svc.Stats().TotalPermissions)
}

func TestService_GrantReadsClockOnce(t *testing.T) {
	start := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	reads := 0
	f := &serviceFixture{now: start}
	svc, err := Open(Options{Clock: func() time.Time {
		reads++
		// every read moves time forward by a day
		return start.Add(time.Duration(reads) * 24 * time.Hour)
	}})
	require.NoError(t, err)
	f.svc = svc
	f.seed(t)

	reads = 0
	expiresAt := start.Add(24 * time.Hour).Add(time.Hour)
	id, err := f.svc.Grant(patientAddr, doctorAddr, f.patientID, expiresAt, []types.Action{types.ActionRead})
	require.NoError(t, err)
	assert.Equal(t, 1, reads)

	permission, err := f.svc.Permission(id)
	require.NoError(t, err)
	assert.Equal(t, start.Add(24*time.Hour), permission.CreatedAt)
}

func TestService_RecordScenario(t *testing.T) {
	f := setupServiceTest(t)

	id, err := f.svc.CreateRecord(records.NewRecord{
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

	record, err := f.svc.GetRecord(id, doctorAddr)
	require.NoError(t, err)
	assert.Equal(t, types.StatusDraft, record.Status)

	require.NoError(t, f.svc.Finalize(id, doctorAddr))

	amendmentID, err := f.svc.Amend(id, doctorAddr, "enc2", "added labs")
	require.NoError(t, err)
	assert.Equal(t, int64(1), amendmentID)

	record, err = f.svc.GetRecord(id, doctorAddr)
	require.NoError(t, err)
	assert.Equal(t, types.StatusAmended, record.Status)
	assert.Equal(t, "orig1", record.OriginalDataHash)
	assert.True(t, f.svc.VerifyIntegrity(id, "orig1"))

	require.NoError(t, f.svc.Cancel(id, doctorAddr, "error"))
	err = f.svc.Finalize(id, doctorAddr)
	assert.True(t, types.IsInvalidState(err))

	_, err = f.svc.CreateRecord(records.NewRecord{PatientID: 1, DoctorAddress: doctorAddr, Type: types.RecordConsultation,
		EncryptedDataHash: "enc3", OriginalDataHash: "orig1"})
	assert.True(t, types.IsAlreadyExists(err))

	amendments, err := f.svc.Amendments(id, patientAddr)
	require.NoError(t, err)
	assert.Len(t, amendments, 1)

	stats := f.svc.Stats()
	assert.Equal(t, 5, stats.TotalUsers)
	assert.Equal(t, 1, stats.TotalPatients)
	assert.Equal(t, 1, stats.TotalRecords)
	assert.Equal(t, 1, stats.RecordsByStatus["cancelled"])
	assert.Equal(t, 1, stats.TotalAmendments)
}

func TestService_AccessRecord(t *testing.T) {
	f := setupServiceTest(t)
	id, err := f.svc.CreateRecord(records.NewRecord{PatientID: 1, DoctorAddress: doctorAddr, Type: types.RecordPrescription,
		EncryptedDataHash: "enc", OriginalDataHash: "prescription_hash_001"})
	require.NoError(t, err)

	t.Run("creator", func(t *testing.T) {
		record, err := f.svc.AccessRecord(id, doctorAddr)
		require.NoError(t, err)
		assert.Equal(t, id, record.ID)
	})

	t.Run("denied without share or permission", func(t *testing.T) {
		_, err := f.svc.AccessRecord(id, pharmacistAddr)
		assert.True(t, types.IsUnauthorized(err))
	})

	t.Run("delegated read permission", func(t *testing.T) {
		_, err := f.svc.Grant(patientAddr, pharmacistAddr, 1, f.inDays(1), []types.Action{types.ActionRead})
		require.NoError(t, err)

		_, err = f.svc.GetRecord(id, pharmacistAddr)
		assert.True(t, types.IsUnauthorized(err), "the record's own rule ignores permissions")

		record, err := f.svc.AccessRecord(id, pharmacistAddr)
		require.NoError(t, err)
		assert.Equal(t, id, record.ID)
	})

	t.Run("missing record is not audited", func(t *testing.T) {
		_, err := f.svc.AccessRecord(404, doctorAddr)
		assert.True(t, types.IsNotFound(err))
	})

	trail := f.svc.AuditByPatient(1)
	require.Len(t, trail, 3)
	assert.True(t, trail[0].Success)
	assert.False(t, trail[1].Success)
	assert.Equal(t, pharmacistAddr, trail[1].Accessor)
	assert.True(t, trail[2].Success)
	assert.Equal(t, AuditActionViewRecord, trail[2].Action)
	assert.Len(t, f.svc.AuditByAccessor(pharmacistAddr), 2)
	assert.NoError(t, f.svc.VerifyAuditChain())
}

func TestService_PatientInfo(t *testing.T) {
	f := setupServiceTest(t)

	patient, err := f.svc.PatientInfo(f.patientID, patientAddr)
	require.NoError(t, err)
	assert.Equal(t, patientAddr, patient.OwnerAddress)

	_, err = f.svc.PatientInfo(f.patientID, nurseAddr)
	assert.True(t, types.IsUnauthorized(err))

	_, err = f.svc.PatientInfo(99, adminAddr)
	assert.True(t, types.IsNotFound(err))

	id, err := f.svc.PatientIDByAddress(patientAddr)
	require.NoError(t, err)
	assert.Equal(t, f.patientID, id)

	_, err = f.svc.PatientIDByAddress(doctorAddr)
	assert.True(t, types.IsNotFound(err))
	assert.True(t, f.svc.IsOwner(f.patientID, patientAddr))
}

func TestService_LogAccess(t *testing.T) {
	f := setupServiceTest(t)

	first, err := f.svc.LogAccess(doctorAddr, 1, "VIEW_RECORD", true, "Doctor viewed patient record")
	require.NoError(t, err)
	second, err := f.svc.LogAccess(nurseAddr, 1, "VIEW_RECORD", false, "Access denied")
	require.NoError(t, err)
	assert.Equal(t, first+1, second)

	entry, err := f.svc.AuditEntry(second)
	require.NoError(t, err)
	assert.Equal(t, "Access denied", entry.Details)
	assert.True(t, f.svc.VerifyAuditEntry(second))
	assert.Len(t, f.svc.AuditTrail(), 2)
	assert.Equal(t, 2, f.svc.Stats().TotalAuditEntries)
}

func TestService_TamperedAuditStateIsReported(t *testing.T) {
	backend := state.NewMemoryBackend()
	f := openFixture(t, backend)
	f.seed(t)

	entryID, err := f.svc.LogAccess(doctorAddr, f.patientID, "VIEW_RECORD", true, "Doctor viewed patient record")
	require.NoError(t, err)
	require.NoError(t, f.svc.VerifyAuditChain())

	data, err := backend.Load(KeyAudit)
	require.NoError(t, err)
	tampered := strings.Replace(string(data), "Doctor viewed", "Nurse viewed", 1)
	require.NotEqual(t, string(data), tampered)
	require.NoError(t, backend.Commit(map[string][]byte{KeyAudit: []byte(tampered)}))

	reopened, err := Open(Options{Backend: backend})
	require.NoError(t, err, "a tampered audit log must still load")

	entry, err := reopened.AuditEntry(entryID)
	require.NoError(t, err)
	assert.Equal(t, "Nurse viewed patient record", entry.Details)
	assert.False(t, reopened.VerifyAuditEntry(entryID))

	err = reopened.VerifyAuditChain()
	require.Error(t, err)
	assert.Equal(t, types.KindInternal, types.KindOf(err))
	assert.Contains(t, err.Error(), "hash mismatch")
}

func TestService_Bootstrap(t *testing.T) {
	backend := state.NewMemoryBackend()
	f := openFixture(t, backend)
	assert.Empty(t, backend.Keys(), "opening an empty ledger writes nothing")

	admin, err := f.svc.Bootstrap(adminAddr, "admin_public_key", "ADMIN_001")
	require.NoError(t, err)
	assert.Equal(t, types.RoleAdmin, admin.Role)
	assert.True(t, admin.Active)
	assert.Equal(t, []string{KeyAudit, KeyIdentity, KeyPermissions, KeyRecords}, backend.Keys())

	_, err = f.svc.Bootstrap("0xOTHER", "key", "ADMIN_002")
	assert.True(t, types.IsInvalidState(err))

	_, err = f.svc.Lookup("0xOTHER")
	assert.True(t, types.IsNotFound(err))
}

func TestService_RollbackOnCommitFailure(t *testing.T) {
	backend := new(MockBackend)
	backend.On("Load", mock.Anything).Return(nil, nil)
	backend.On("Commit", mock.Anything).Return(nil).Times(2)
	backend.On("Commit", mock.Anything).Return(errors.New("disk full")).Once()
	backend.On("Commit", mock.Anything).Return(nil)

	reg := prometheus.NewRegistry()
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	svc, err := Open(Options{
		Backend: backend,
		Clock:   types.FixedClock(now),
		Metrics: monitoring.NewLedgerMetrics(reg, "medledger"),
	})
	require.NoError(t, err)

	_, err = svc.Bootstrap(adminAddr, "admin_public_key", "ADMIN_001")
	require.NoError(t, err)
	_, err = svc.Register(adminAddr, doctorAddr, types.RoleDoctor, "key", "MD_12345")
	require.NoError(t, err)

	_, err = svc.Register(adminAddr, nurseAddr, types.RoleNurse, "key", "RN_67890")
	require.Error(t, err)
	assert.Equal(t, types.KindInternal, types.KindOf(err))

	_, err = svc.Lookup(nurseAddr)
	assert.True(t, types.IsNotFound(err), "a failed commit must not leave the user behind")
	assert.Equal(t, 2, svc.Stats().TotalUsers)

	_, err = svc.Register(adminAddr, nurseAddr, types.RoleNurse, "key", "RN_67890")
	require.NoError(t, err)

	expected := `
# HELP medledger_persist_failures_total Total number of state commits rejected by the backend
# TYPE medledger_persist_failures_total counter
medledger_persist_failures_total 1
# HELP medledger_transactions_total Total number of ledger transactions by operation and outcome
# TYPE medledger_transactions_total counter
medledger_transactions_total{operation="bootstrap",outcome="ok"} 1
medledger_transactions_total{operation="register",outcome="internal"} 1
medledger_transactions_total{operation="register",outcome="ok"} 2
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"medledger_persist_failures_total", "medledger_transactions_total"))
	backend.AssertNumberOfCalls(t, "Commit", 4)
}

func TestService_RollbackKeepsDedupKeysClean(t *testing.T) {
	backend := new(MockBackend)
	backend.On("Load", mock.Anything).Return(nil, nil)
	backend.On("Commit", mock.Anything).Return(nil).Times(6)
	backend.On("Commit", mock.Anything).Return(errors.New("disk full")).Once()
	backend.On("Commit", mock.Anything).Return(nil)

	f := openFixture(t, backend)
	f.seed(t)

	input := records.NewRecord{PatientID: 1, DoctorAddress: doctorAddr, Type: types.RecordConsultation,
		EncryptedDataHash: "enc", OriginalDataHash: "orig"}

	_, err := f.svc.CreateRecord(input)
	require.Error(t, err)
	assert.False(t, f.svc.VerifyIntegrity(1, "orig"))

	id, err := f.svc.CreateRecord(input)
	require.NoError(t, err)
	assert.Equal(t, int64(1), id, "record ids are not consumed by a failed commit")
}

func TestService_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger")

	backend, err := state.NewLevelDB(path)
	require.NoError(t, err)
	f := openFixture(t, backend)
	f.seed(t)

	_, err = f.svc.Grant(patientAddr, nurseAddr, f.patientID, f.inDays(7), []types.Action{types.ActionMonitor})
	require.NoError(t, err)
	recordID, err := f.svc.CreateRecord(records.NewRecord{PatientID: 1, DoctorAddress: doctorAddr, Type: types.RecordEmergency,
		EncryptedDataHash: "enc", OriginalDataHash: "emergency_hash_001", IsEmergency: true})
	require.NoError(t, err)
	_, err = f.svc.LogAccess(doctorAddr, 1, "EMERGENCY_ACCESS", true, "")
	require.NoError(t, err)
	before := f.svc.Stats()
	require.NoError(t, f.svc.Close())

	reopenedBackend, err := state.NewLevelDB(path)
	require.NoError(t, err)
	reopened, err := Open(Options{Backend: reopenedBackend, Clock: f.clock()})
	require.NoError(t, err)
	defer reopened.Close()

	assert.Equal(t, before, reopened.Stats())
	assert.True(t, reopened.Check(nurseAddr, 1, types.ActionMonitor))
	assert.NoError(t, reopened.VerifyAuditChain())

	emergencies, err := reopened.EmergencyRecords(1, doctorAddr)
	require.NoError(t, err)
	assert.Equal(t, []int64{recordID}, emergencies)

	_, err = reopened.Bootstrap("0xOTHER", "key", "ADMIN_002")
	assert.True(t, types.IsInvalidState(err))
}

func TestService_OpenFailures(t *testing.T) {
	t.Run("load error", func(t *testing.T) {
		backend := new(MockBackend)
		backend.On("Load", KeyIdentity).Return(nil, errors.New("io error"))

		_, err := Open(Options{Backend: backend})
		assert.Equal(t, types.KindInternal, types.KindOf(err))
	})

	t.Run("corrupt state", func(t *testing.T) {
		backend := state.NewMemoryBackend()
		require.NoError(t, backend.Commit(map[string][]byte{KeyRecords: []byte("{not json")}))

		_, err := Open(Options{Backend: backend})
		assert.Equal(t, types.KindInternal, types.KindOf(err))
	})
}
