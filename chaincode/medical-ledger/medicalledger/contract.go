package medicalledger

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"

	"github.com/medrex/medledger/internal/ledger"
	"github.com/medrex/medledger/internal/records"
	"github.com/medrex/medledger/pkg/logger"
	"github.com/medrex/medledger/pkg/state"
	"github.com/medrex/medledger/pkg/types"
)

// SmartContract exposes the medical ledger as chaincode. Every transaction
// rebuilds the ledger from world state, applies one operation at the
// transaction timestamp and writes the changed state back.
type SmartContract struct {
	contractapi.Contract
	log *logger.Logger
}

// NewSmartContract creates the contract with a logger honoring
// CORE_CHAINCODE_LOGGING_LEVEL
func NewSmartContract() *SmartContract {
	level := os.Getenv("CORE_CHAINCODE_LOGGING_LEVEL")
	if level == "" {
		level = "info"
	}
	return &SmartContract{log: logger.New(level)}
}

// InitLedger seeds the first administrator
func (s *SmartContract) InitLedger(ctx contractapi.TransactionContextInterface, adminAddress, publicKey, professionalID string) error {
	svc, err := s.open(ctx)
	if err != nil {
		return err
	}
	_, err = svc.Bootstrap(adminAddress, publicKey, professionalID)
	return err
}

// RegisterUser registers address with role on behalf of actingAdmin
func (s *SmartContract) RegisterUser(ctx contractapi.TransactionContextInterface, actingAdmin, address, role, publicKey, professionalID string) (string, error) {
	parsed, err := types.ParseRole(role)
	if err != nil {
		return "", err
	}
	svc, err := s.open(ctx)
	if err != nil {
		return "", err
	}
	return encode(svc.Register(actingAdmin, address, parsed, publicKey, professionalID))
}

// SetUserActive enables or disables a user
func (s *SmartContract) SetUserActive(ctx contractapi.TransactionContextInterface, actingAdmin, address string, active bool) (string, error) {
	svc, err := s.open(ctx)
	if err != nil {
		return "", err
	}
	return encode(svc.SetActive(actingAdmin, address, active))
}

// GetUser returns the user registered for address
func (s *SmartContract) GetUser(ctx contractapi.TransactionContextInterface, address string) (string, error) {
	svc, err := s.open(ctx)
	if err != nil {
		return "", err
	}
	return encode(svc.Lookup(address))
}

// RegisterPatient creates a patient identity owned by ownerAddress
func (s *SmartContract) RegisterPatient(ctx contractapi.TransactionContextInterface, ownerAddress, encryptedPersonalData, metadataHash string) (int64, error) {
	svc, err := s.open(ctx)
	if err != nil {
		return 0, err
	}
	return svc.RegisterPatient(ownerAddress, encryptedPersonalData, metadataHash)
}

// GetPatientInfo returns a patient identity to a requester allowed to read it
func (s *SmartContract) GetPatientInfo(ctx contractapi.TransactionContextInterface, patientID int64, requester string) (string, error) {
	svc, err := s.open(ctx)
	if err != nil {
		return "", err
	}
	return encode(svc.PatientInfo(patientID, requester))
}

// GetPatientID returns the patient identity owned by address
func (s *SmartContract) GetPatientID(ctx contractapi.TransactionContextInterface, address string) (int64, error) {
	svc, err := s.open(ctx)
	if err != nil {
		return 0, err
	}
	return svc.PatientIDByAddress(address)
}

// GrantPermission delegates actions on patientID until expiresAt (unix seconds)
func (s *SmartContract) GrantPermission(ctx contractapi.TransactionContextInterface, grantor, grantee string, patientID, expiresAt int64, actions []string) (int64, error) {
	svc, err := s.open(ctx)
	if err != nil {
		return 0, err
	}
	allowed := make([]types.Action, 0, len(actions))
	for _, action := range actions {
		allowed = append(allowed, types.Action(action))
	}
	return svc.Grant(grantor, grantee, patientID, time.Unix(expiresAt, 0).UTC(), allowed)
}

// CheckPermission reports whether address may perform action on patientID
func (s *SmartContract) CheckPermission(ctx contractapi.TransactionContextInterface, address string, patientID int64, action string) (bool, error) {
	svc, err := s.open(ctx)
	if err != nil {
		return false, err
	}
	return svc.Check(address, patientID, types.Action(action)), nil
}

// RevokePermission deactivates a permission
func (s *SmartContract) RevokePermission(ctx contractapi.TransactionContextInterface, revoker string, permissionID int64) error {
	svc, err := s.open(ctx)
	if err != nil {
		return err
	}
	return svc.Revoke(revoker, permissionID)
}

// GetUserPermissions lists the permissions granted to grantee
func (s *SmartContract) GetUserPermissions(ctx contractapi.TransactionContextInterface, grantee string) (string, error) {
	svc, err := s.open(ctx)
	if err != nil {
		return "", err
	}
	return encode(svc.PermissionsFor(grantee), nil)
}

// CreateRecord stores a new medical record
func (s *SmartContract) CreateRecord(ctx contractapi.TransactionContextInterface, patientID int64, doctorAddress, recordType, encryptedDataHash, originalDataHash string, attachmentHashes []string, metadata string, isEmergency bool) (int64, error) {
	parsed, err := types.ParseRecordType(recordType)
	if err != nil {
		return 0, err
	}
	svc, err := s.open(ctx)
	if err != nil {
		return 0, err
	}
	return svc.CreateRecord(records.NewRecord{
		PatientID:         patientID,
		DoctorAddress:     doctorAddress,
		Type:              parsed,
		EncryptedDataHash: encryptedDataHash,
		OriginalDataHash:  originalDataHash,
		AttachmentHashes:  attachmentHashes,
		Metadata:          metadata,
		IsEmergency:       isEmergency,
	})
}

// FinalizeRecord moves a Draft record to Finalized
func (s *SmartContract) FinalizeRecord(ctx contractapi.TransactionContextInterface, recordID int64, doctorAddress string) error {
	svc, err := s.open(ctx)
	if err != nil {
		return err
	}
	return svc.Finalize(recordID, doctorAddress)
}

// AmendRecord replaces a record's encrypted payload reference
func (s *SmartContract) AmendRecord(ctx contractapi.TransactionContextInterface, recordID int64, doctorAddress, newEncryptedDataHash, reason string) (int64, error) {
	svc, err := s.open(ctx)
	if err != nil {
		return 0, err
	}
	return svc.Amend(recordID, doctorAddress, newEncryptedDataHash, reason)
}

// CancelRecord cancels a record
func (s *SmartContract) CancelRecord(ctx contractapi.TransactionContextInterface, recordID int64, doctorAddress, reason string) error {
	svc, err := s.open(ctx)
	if err != nil {
		return err
	}
	return svc.Cancel(recordID, doctorAddress, reason)
}

// SignRecord appends a signature to a record
func (s *SmartContract) SignRecord(ctx contractapi.TransactionContextInterface, recordID int64, signerAddress, signature, signerRole string) error {
	svc, err := s.open(ctx)
	if err != nil {
		return err
	}
	return svc.Sign(recordID, signerAddress, signature, signerRole)
}

// ShareRecord grants viewerAddress view access to a record
func (s *SmartContract) ShareRecord(ctx contractapi.TransactionContextInterface, recordID int64, sharerAddress, viewerAddress string) error {
	svc, err := s.open(ctx)
	if err != nil {
		return err
	}
	return svc.Share(recordID, sharerAddress, viewerAddress)
}

// GetRecord returns a record to its creator, owner or shared viewers
func (s *SmartContract) GetRecord(ctx contractapi.TransactionContextInterface, recordID int64, requester string) (string, error) {
	svc, err := s.open(ctx)
	if err != nil {
		return "", err
	}
	return encode(svc.GetRecord(recordID, requester))
}

// AccessRecord returns a record under the combined policy and audits the attempt
func (s *SmartContract) AccessRecord(ctx contractapi.TransactionContextInterface, recordID int64, requester string) (string, error) {
	svc, err := s.open(ctx)
	if err != nil {
		return "", err
	}
	return encode(svc.AccessRecord(recordID, requester))
}

// GetPatientHistory lists a patient's record ids
func (s *SmartContract) GetPatientHistory(ctx contractapi.TransactionContextInterface, patientID int64, requester string) (string, error) {
	svc, err := s.open(ctx)
	if err != nil {
		return "", err
	}
	return encode(svc.History(patientID, requester))
}

// GetRecordsByType lists a patient's record ids of one type
func (s *SmartContract) GetRecordsByType(ctx contractapi.TransactionContextInterface, patientID int64, recordType, requester string) (string, error) {
	parsed, err := types.ParseRecordType(recordType)
	if err != nil {
		return "", err
	}
	svc, err := s.open(ctx)
	if err != nil {
		return "", err
	}
	return encode(svc.ByType(patientID, parsed, requester))
}

// GetEmergencyRecords lists a patient's emergency record ids
func (s *SmartContract) GetEmergencyRecords(ctx contractapi.TransactionContextInterface, patientID int64, requester string) (string, error) {
	svc, err := s.open(ctx)
	if err != nil {
		return "", err
	}
	return encode(svc.EmergencyRecords(patientID, requester))
}

// GetAmendments lists a record's amendments
func (s *SmartContract) GetAmendments(ctx contractapi.TransactionContextInterface, recordID int64, requester string) (string, error) {
	svc, err := s.open(ctx)
	if err != nil {
		return "", err
	}
	return encode(svc.Amendments(recordID, requester))
}

// GetSignatures lists a record's signatures
func (s *SmartContract) GetSignatures(ctx contractapi.TransactionContextInterface, recordID int64, requester string) (string, error) {
	svc, err := s.open(ctx)
	if err != nil {
		return "", err
	}
	return encode(svc.Signatures(recordID, requester))
}

// VerifyRecordIntegrity compares a hash with the record's original data hash
func (s *SmartContract) VerifyRecordIntegrity(ctx contractapi.TransactionContextInterface, recordID int64, candidateOriginalHash string) (bool, error) {
	svc, err := s.open(ctx)
	if err != nil {
		return false, err
	}
	return svc.VerifyIntegrity(recordID, candidateOriginalHash), nil
}

// LogAccess appends an audit entry
func (s *SmartContract) LogAccess(ctx contractapi.TransactionContextInterface, accessor string, patientID int64, action string, success bool, details string) (int64, error) {
	svc, err := s.open(ctx)
	if err != nil {
		return 0, err
	}
	return svc.LogAccess(accessor, patientID, action, success, details)
}

// GetAuditEntry returns one audit entry
func (s *SmartContract) GetAuditEntry(ctx contractapi.TransactionContextInterface, entryID int64) (string, error) {
	svc, err := s.open(ctx)
	if err != nil {
		return "", err
	}
	return encode(svc.AuditEntry(entryID))
}

// GetAuditTrailByAccessor returns the audit entries written for address
func (s *SmartContract) GetAuditTrailByAccessor(ctx contractapi.TransactionContextInterface, address string) (string, error) {
	svc, err := s.open(ctx)
	if err != nil {
		return "", err
	}
	return encode(svc.AuditByAccessor(address), nil)
}

// GetAuditTrailByPatient returns the audit entries concerning patientID
func (s *SmartContract) GetAuditTrailByPatient(ctx contractapi.TransactionContextInterface, patientID int64) (string, error) {
	svc, err := s.open(ctx)
	if err != nil {
		return "", err
	}
	return encode(svc.AuditByPatient(patientID), nil)
}

// VerifyAuditIntegrity recomputes one audit entry's hash
func (s *SmartContract) VerifyAuditIntegrity(ctx contractapi.TransactionContextInterface, entryID int64) (bool, error) {
	svc, err := s.open(ctx)
	if err != nil {
		return false, err
	}
	return svc.VerifyAuditEntry(entryID), nil
}

// VerifyAuditChain checks every link of the audit hash chain
func (s *SmartContract) VerifyAuditChain(ctx contractapi.TransactionContextInterface) error {
	svc, err := s.open(ctx)
	if err != nil {
		return err
	}
	return svc.VerifyAuditChain()
}

// GetStats summarizes the ledger
func (s *SmartContract) GetStats(ctx contractapi.TransactionContextInterface) (string, error) {
	svc, err := s.open(ctx)
	if err != nil {
		return "", err
	}
	return encode(svc.Stats(), nil)
}

// open rebuilds the ledger for the current transaction
func (s *SmartContract) open(ctx contractapi.TransactionContextInterface) (*ledger.Service, error) {
	stub := ctx.GetStub()

	timestamp, err := stub.GetTxTimestamp()
	if err != nil {
		return nil, fmt.Errorf("failed to read transaction timestamp: %v", err)
	}
	now := timestamp.AsTime().UTC()

	log := s.log
	if log == nil {
		log = logger.Discard()
	}

	return ledger.Open(ledger.Options{
		Backend: state.NewStubBackend(stub),
		Logger:  log,
		Clock:   types.FixedClock(now),
		TxID:    stub.GetTxID,
	})
}

func encode(value interface{}, err error) (string, error) {
	if err != nil {
		return "", err
	}
	data, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("failed to marshal result: %v", err)
	}
	return string(data), nil
}
