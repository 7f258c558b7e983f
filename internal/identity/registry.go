package identity

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/medrex/medledger/pkg/types"
)

// Registry stores registered addresses, their roles and status, and the
// authoritative mapping from patient identities to the addresses that own them.
type Registry struct {
	mu    sync.RWMutex
	clock types.Clock

	users          map[string]*types.User
	patients       map[int64]*types.Patient
	patientByOwner map[string]int64
	nextPatientID  int64
}

// State is the serializable form of the registry
type State struct {
	Users         []*types.User    `json:"users"`
	Patients      []*types.Patient `json:"patients"`
	NextPatientID int64            `json:"next_patient_id"`
}

// NewRegistry creates an empty registry. A nil clock uses the wall clock.
func NewRegistry(clock types.Clock) *Registry {
	return &Registry{
		clock:          clock,
		users:          make(map[string]*types.User),
		patients:       make(map[int64]*types.Patient),
		patientByOwner: make(map[string]int64),
		nextPatientID:  1,
	}
}

// Bootstrap seeds the first administrator. It is only valid on an empty registry.
func (r *Registry) Bootstrap(address, publicKey, professionalID string) (*types.User, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return nil, types.NewInvalidInputError("address", "admin address is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.users) > 0 {
		return nil, types.NewInvalidStateError(types.ErrCodeAlreadyBootstrapped, "registry already has registered users")
	}

	user := r.insertUser(address, types.RoleAdmin, publicKey, professionalID)
	return copyUser(user), nil
}

// Register adds a user on behalf of an active administrator
func (r *Registry) Register(actingAdmin, address string, role types.Role, publicKey, professionalID string) (*types.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.users[actingAdmin].IsAdmin() {
		return nil, types.NewUnauthorizedError("only an active admin can register users").
			WithDetail("acting_admin", actingAdmin)
	}

	address = strings.TrimSpace(address)
	if address == "" {
		return nil, types.NewInvalidInputError("address", "user address is required")
	}
	if !role.Valid() {
		return nil, types.NewInvalidInputError("role", fmt.Sprintf("unknown role %d", int(role)))
	}
	if _, exists := r.users[address]; exists {
		return nil, types.NewAlreadyExistsError(types.ErrCodeUserExists, "user already registered").
			WithDetail("address", address)
	}

	user := r.insertUser(address, role, publicKey, professionalID)
	return copyUser(user), nil
}

// SetActive toggles a user's status on behalf of an active administrator
func (r *Registry) SetActive(actingAdmin, address string, active bool) (*types.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.users[actingAdmin].IsAdmin() {
		return nil, types.NewUnauthorizedError("only an active admin can change user status").
			WithDetail("acting_admin", actingAdmin)
	}

	user, exists := r.users[address]
	if !exists {
		return nil, userNotFound(address)
	}
	user.Active = active
	return copyUser(user), nil
}

// Lookup returns the user registered for address
func (r *Registry) Lookup(address string) (*types.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	user, exists := r.users[address]
	if !exists {
		return nil, userNotFound(address)
	}
	return copyUser(user), nil
}

// RegisterPatient creates a patient identity controlled by ownerAddress and
// returns its id. An address may own at most one patient identity.
func (r *Registry) RegisterPatient(ownerAddress, encryptedPersonalData, metadataHash string) (int64, error) {
	ownerAddress = strings.TrimSpace(ownerAddress)
	if ownerAddress == "" {
		return 0, types.NewInvalidInputError("owner_address", "patient owner address is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.patientByOwner[ownerAddress]; exists {
		return 0, types.NewAlreadyExistsError(types.ErrCodePatientExists, "patient already registered for address").
			WithDetail("owner_address", ownerAddress)
	}

	patient := &types.Patient{
		ID:                    r.nextPatientID,
		OwnerAddress:          ownerAddress,
		EncryptedPersonalData: encryptedPersonalData,
		MetadataHash:          metadataHash,
		Active:                true,
		CreatedAt:             r.clock.Now(),
	}
	r.patients[patient.ID] = patient
	r.patientByOwner[ownerAddress] = patient.ID
	r.nextPatientID++

	return patient.ID, nil
}

// Patient returns the patient identity for patientID
func (r *Registry) Patient(patientID int64) (*types.Patient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	patient, exists := r.patients[patientID]
	if !exists {
		return nil, types.NewNotFoundError(types.ErrCodePatientNotFound, "patient not found").
			WithDetail("patient_id", patientID)
	}
	p := *patient
	return &p, nil
}

// PatientIDByAddress returns the patient identity owned by address, if any
func (r *Registry) PatientIDByAddress(address string) (int64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, exists := r.patientByOwner[address]
	return id, exists
}

// IsOwner reports whether address is the active registered user that owns patientID
func (r *Registry) IsOwner(patientID int64, address string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	patient, exists := r.patients[patientID]
	if !exists || !patient.Active || patient.OwnerAddress != address {
		return false
	}
	user, exists := r.users[address]
	return exists && user.Active
}

// Counts returns the number of users, active users and patients
func (r *Registry) Counts() (users, active, patients int) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, user := range r.users {
		if user.Active {
			active++
		}
	}
	return len(r.users), active, len(r.patients)
}

// Snapshot returns a deterministic copy of the registry state
func (r *Registry) Snapshot() State {
	r.mu.RLock()
	defer r.mu.RUnlock()

	state := State{
		Users:         make([]*types.User, 0, len(r.users)),
		Patients:      make([]*types.Patient, 0, len(r.patients)),
		NextPatientID: r.nextPatientID,
	}
	for _, user := range r.users {
		state.Users = append(state.Users, copyUser(user))
	}
	sort.Slice(state.Users, func(i, j int) bool { return state.Users[i].Address < state.Users[j].Address })

	for _, patient := range r.patients {
		p := *patient
		state.Patients = append(state.Patients, &p)
	}
	sort.Slice(state.Patients, func(i, j int) bool { return state.Patients[i].ID < state.Patients[j].ID })

	return state
}

// Restore replaces the registry contents with state
func (r *Registry) Restore(state State) error {
	users := make(map[string]*types.User, len(state.Users))
	for _, user := range state.Users {
		if _, dup := users[user.Address]; dup {
			return fmt.Errorf("duplicate user %q in identity state", user.Address)
		}
		users[user.Address] = copyUser(user)
	}

	patients := make(map[int64]*types.Patient, len(state.Patients))
	byOwner := make(map[string]int64, len(state.Patients))
	next := state.NextPatientID
	for _, patient := range state.Patients {
		if _, dup := patients[patient.ID]; dup {
			return fmt.Errorf("duplicate patient %d in identity state", patient.ID)
		}
		p := *patient
		patients[p.ID] = &p
		byOwner[p.OwnerAddress] = p.ID
		if p.ID >= next {
			next = p.ID + 1
		}
	}
	if next < 1 {
		next = 1
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.users = users
	r.patients = patients
	r.patientByOwner = byOwner
	r.nextPatientID = next
	return nil
}

// insertUser must be called with the write lock held
func (r *Registry) insertUser(address string, role types.Role, publicKey, professionalID string) *types.User {
	user := &types.User{
		Address:        address,
		Role:           role,
		Active:         true,
		PublicKey:      publicKey,
		ProfessionalID: professionalID,
		RegisteredAt:   r.clock.Now(),
	}
	r.users[address] = user
	return user
}

func copyUser(user *types.User) *types.User {
	u := *user
	return &u
}

func userNotFound(address string) *types.LedgerError {
	return types.NewNotFoundError(types.ErrCodeUserNotFound, "user not registered").
		WithDetail("address", address)
}
