package types

import (
	"fmt"
	"strings"
	"time"
)

// Role represents the closed set of roles a registered address may hold.
// The numeric values follow the on-chain enumeration.
type Role int

const (
	RolePatient Role = iota
	RoleDoctor
	RoleAdmin
	RoleNurse
	RolePharmacist
)

var roleNames = map[Role]string{
	RolePatient:    "patient",
	RoleDoctor:     "doctor",
	RoleAdmin:      "admin",
	RoleNurse:      "nurse",
	RolePharmacist: "pharmacist",
}

// String returns the lower-case role name
func (r Role) String() string {
	if name, ok := roleNames[r]; ok {
		return name
	}
	return fmt.Sprintf("role(%d)", int(r))
}

// Valid reports whether r is one of the known roles
func (r Role) Valid() bool {
	_, ok := roleNames[r]
	return ok
}

// MarshalText encodes the role by name
func (r Role) MarshalText() ([]byte, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("unknown role %d", int(r))
	}
	return []byte(r.String()), nil
}

// UnmarshalText decodes a role by name
func (r *Role) UnmarshalText(text []byte) error {
	parsed, err := ParseRole(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// ParseRole parses a role name, case-insensitively
func ParseRole(name string) (Role, error) {
	normalized := strings.ToLower(strings.TrimSpace(name))
	for role, roleName := range roleNames {
		if roleName == normalized {
			return role, nil
		}
	}
	return 0, NewInvalidInputError("role", fmt.Sprintf("unknown role %q", name))
}

// User represents a registered address
type User struct {
	Address        string    `json:"address"`
	Role           Role      `json:"role"`
	Active         bool      `json:"active"`
	PublicKey      string    `json:"public_key"`
	ProfessionalID string    `json:"professional_id"`
	RegisteredAt   time.Time `json:"registered_at"`
}

// IsAdmin reports whether the user is an active administrator
func (u *User) IsAdmin() bool {
	return u != nil && u.Active && u.Role == RoleAdmin
}

// Patient represents a patient identity and the address that controls it
type Patient struct {
	ID                    int64     `json:"id"`
	OwnerAddress          string    `json:"owner_address"`
	EncryptedPersonalData string    `json:"encrypted_personal_data"`
	MetadataHash          string    `json:"metadata_hash"`
	Active                bool      `json:"active"`
	CreatedAt             time.Time `json:"created_at"`
}
