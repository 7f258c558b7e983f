package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/medrex/medledger/internal/ledger"
	"github.com/medrex/medledger/internal/records"
	"github.com/medrex/medledger/pkg/types"
)

// Participants used by the simulation
const (
	simDoctor     = "0xDOCTOR456"
	simNurse      = "0xNURSE789"
	simPharmacist = "0xPHARMACIST012"
	simPatient    = "0xPATIENT1"
	simPatient2   = "0xPATIENT2"
)

func newSimulateCommand(opts *options) *cobra.Command {
	var persist bool

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run an end-to-end care scenario against a scratch ledger",
		Long: "Registers staff and patients, delegates access, walks a set of records through " +
			"their lifecycle and verifies the audit chain. The scenario runs in memory unless --persist is set.",
		Example: `  medledger simulate
  medledger simulate --persist --config ./config.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := openHost(cmd, opts, !persist)
			if err != nil {
				return err
			}
			defer h.Close()

			sim := &scenario{svc: h.svc, admin: h.cfg.Bootstrap.AdminAddress, out: cmd.OutOrStdout()}
			if err := sim.run(); err != nil {
				return err
			}

			stats := h.svc.Stats()
			if opts.output == OutputJSON {
				return writeJSON(cmd.OutOrStdout(), stats)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "\nFinal ledger statistics:")
			printStats(cmd.OutOrStdout(), stats)
			return nil
		},
	}

	cmd.Flags().BoolVar(&persist, "persist", false, "Write the scenario into the configured storage backend")
	return cmd
}

// scenario drives a ledger through the delegation and record lifecycle flows
type scenario struct {
	svc   *ledger.Service
	admin string
	out   io.Writer
	step  int

	patientID      int64
	patient2ID     int64
	consultationID int64
	prescriptionID int64
}

func (s *scenario) run() error {
	steps := []struct {
		name string
		fn   func() error
	}{
		{"Register care team", s.registerStaff},
		{"Register patients", s.registerPatients},
		{"Delegate access", s.delegate},
		{"Create and finalize records", s.createRecords},
		{"Amend, sign and share", s.amendSignShare},
		{"Access control", s.accessControl},
		{"Emergency admission", s.emergency},
		{"History queries", s.queries},
		{"Integrity checks", s.integrity},
	}

	for _, st := range steps {
		s.step++
		fmt.Fprintf(s.out, "[%d] %s\n", s.step, st.name)
		if err := st.fn(); err != nil {
			return fmt.Errorf("step %d (%s): %w", s.step, st.name, err)
		}
	}
	return nil
}

func (s *scenario) logf(format string, args ...interface{}) {
	fmt.Fprintf(s.out, "    "+format+"\n", args...)
}

func (s *scenario) registerStaff() error {
	for _, u := range []struct {
		address string
		role    types.Role
		id      string
	}{
		{simDoctor, types.RoleDoctor, "MD_12345"},
		{simNurse, types.RoleNurse, "RN_67890"},
		{simPharmacist, types.RolePharmacist, "PH_11111"},
		{simPatient, types.RolePatient, ""},
		{simPatient2, types.RolePatient, ""},
	} {
		user, err := s.svc.Register(s.admin, u.address, u.role, u.address+"_public_key", u.id)
		if err != nil {
			return err
		}
		s.logf("%s registered as %s", user.Address, user.Role)
	}
	return nil
}

func (s *scenario) registerPatients() error {
	var err error
	if s.patientID, err = s.svc.RegisterPatient(simPatient, "encrypted_patient_data_1", "patient_metadata_hash_1"); err != nil {
		return err
	}
	if s.patient2ID, err = s.svc.RegisterPatient(simPatient2, "encrypted_patient_data_2", "patient_metadata_hash_2"); err != nil {
		return err
	}
	s.logf("patients %d and %d registered", s.patientID, s.patient2ID)
	return nil
}

func (s *scenario) delegate() error {
	expires := time.Now().Add(30 * 24 * time.Hour)

	doctorGrant, err := s.svc.Grant(simPatient, simDoctor, s.patientID, expires,
		[]types.Action{types.ActionRead, types.ActionWrite, types.ActionPrescribe})
	if err != nil {
		return err
	}
	nurseGrant, err := s.svc.Grant(simDoctor, simNurse, s.patientID, expires,
		[]types.Action{types.ActionRead, types.ActionMonitor})
	if err != nil {
		return err
	}
	if _, err := s.svc.Grant(simPatient2, simDoctor, s.patient2ID, expires,
		[]types.Action{types.ActionRead, types.ActionWrite}); err != nil {
		return err
	}
	s.logf("permission %d: patient -> doctor, permission %d: doctor -> nurse", doctorGrant, nurseGrant)

	if !s.svc.Check(simDoctor, s.patientID, types.ActionPrescribe) {
		return fmt.Errorf("doctor should be allowed to prescribe")
	}
	if s.svc.Check(simNurse, s.patientID, types.ActionPrescribe) {
		return fmt.Errorf("nurse should not be allowed to prescribe")
	}
	if s.svc.Check(simPharmacist, s.patientID, types.ActionRead) {
		return fmt.Errorf("pharmacist should not hold any permission")
	}
	s.logf("doctor may prescribe, nurse may monitor, pharmacist holds nothing")
	return nil
}

func (s *scenario) createRecords() error {
	var err error
	s.consultationID, err = s.svc.CreateRecord(records.NewRecord{
		PatientID:         s.patientID,
		DoctorAddress:     simDoctor,
		Type:              types.RecordConsultation,
		EncryptedDataHash: "encrypted_consultation_001",
		OriginalDataHash:  "consultation_hash_001",
		AttachmentHashes:  []string{"xray_hash_001"},
		Metadata:          "Routine consultation",
	})
	if err != nil {
		return err
	}
	if err := s.svc.Finalize(s.consultationID, simDoctor); err != nil {
		return err
	}

	s.prescriptionID, err = s.svc.CreateRecord(records.NewRecord{
		PatientID:         s.patientID,
		DoctorAddress:     simDoctor,
		Type:              types.RecordPrescription,
		EncryptedDataHash: "encrypted_prescription_001",
		OriginalDataHash:  "prescription_hash_001",
		Metadata:          "Amoxicillin 500mg",
	})
	if err != nil {
		return err
	}
	s.logf("consultation %d finalized, prescription %d drafted", s.consultationID, s.prescriptionID)

	_, err = s.svc.CreateRecord(records.NewRecord{
		PatientID:         s.patientID,
		DoctorAddress:     simDoctor,
		Type:              types.RecordConsultation,
		EncryptedDataHash: "encrypted_consultation_copy",
		OriginalDataHash:  "consultation_hash_001",
	})
	if !types.IsAlreadyExists(err) {
		return fmt.Errorf("duplicate document should be rejected, got %v", err)
	}
	s.logf("duplicate source document rejected")
	return nil
}

func (s *scenario) amendSignShare() error {
	amendmentID, err := s.svc.Amend(s.consultationID, simDoctor, "encrypted_consultation_002", "Corrected dosage notes")
	if err != nil {
		return err
	}
	if err := s.svc.Sign(s.consultationID, simDoctor, "doctor_signature_001", types.RoleDoctor.String()); err != nil {
		return err
	}
	if err := s.svc.Share(s.prescriptionID, simDoctor, simPharmacist); err != nil {
		return err
	}
	s.logf("amendment %d recorded, consultation signed, prescription shared with pharmacist", amendmentID)
	return nil
}

func (s *scenario) accessControl() error {
	if _, err := s.svc.AccessRecord(s.consultationID, simNurse); err != nil {
		return fmt.Errorf("nurse should read through delegation: %w", err)
	}
	if _, err := s.svc.AccessRecord(s.prescriptionID, simPharmacist); err != nil {
		return fmt.Errorf("pharmacist should read a shared record: %w", err)
	}
	if _, err := s.svc.AccessRecord(s.consultationID, simPharmacist); !types.IsUnauthorized(err) {
		return fmt.Errorf("pharmacist should be denied the consultation, got %v", err)
	}
	s.logf("nurse and pharmacist granted, pharmacist denied the consultation")
	return nil
}

func (s *scenario) emergency() error {
	emergencyID, err := s.svc.CreateRecord(records.NewRecord{
		PatientID:         s.patient2ID,
		DoctorAddress:     simDoctor,
		Type:              types.RecordEmergency,
		EncryptedDataHash: "encrypted_emergency_001",
		OriginalDataHash:  "emergency_hash_001",
		AttachmentHashes:  []string{"ecg_hash", "xray_emergency_hash"},
		Metadata:          "Suspected myocardial infarction",
		IsEmergency:       true,
	})
	if err != nil {
		return err
	}
	if _, err := s.svc.LogAccess(simDoctor, s.patient2ID, "emergency_access", true, "Emergency admission"); err != nil {
		return err
	}
	s.logf("emergency record %d created finalized", emergencyID)
	return nil
}

func (s *scenario) queries() error {
	history, err := s.svc.History(s.patientID, simPatient)
	if err != nil {
		return err
	}
	consultations, err := s.svc.ByType(s.patientID, types.RecordConsultation, simDoctor)
	if err != nil {
		return err
	}
	emergencies, err := s.svc.EmergencyRecords(s.patient2ID, simDoctor)
	if err != nil {
		return err
	}
	if len(emergencies) != 1 {
		return fmt.Errorf("expected one emergency record, got %d", len(emergencies))
	}
	s.logf("patient %d history: %d records, %d consultations", s.patientID, len(history), len(consultations))
	s.logf("patient %d emergencies: %d", s.patient2ID, len(emergencies))
	return nil
}

func (s *scenario) integrity() error {
	if !s.svc.VerifyIntegrity(s.consultationID, "consultation_hash_001") {
		return fmt.Errorf("consultation integrity check failed")
	}
	if s.svc.VerifyIntegrity(s.prescriptionID, "tampered_hash") {
		return fmt.Errorf("tampered hash should not verify")
	}
	if err := s.svc.VerifyAuditChain(); err != nil {
		return err
	}
	s.logf("record hashes and audit chain verified")
	return nil
}
