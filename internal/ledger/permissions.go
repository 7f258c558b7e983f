package ledger

import (
	"time"

	"github.com/medrex/medledger/pkg/types"
)

// Grant delegates access to patientID. The grantor must itself be able to
// read the patient: its owner, an admin, or a holder of an effective read
// permission passing access on. The request is validated before that rule
// is applied, and both are evaluated at the same instant.
func (s *Service) Grant(grantor, grantee string, patientID int64, expiresAt time.Time, actions []types.Action) (int64, error) {
	var permissionID int64
	err := s.transact("grant", grantor, []string{KeyPermissions}, func() error {
		now := s.clock.Now()
		var err error
		permissionID, err = s.permissions.GrantAt(now, grantor, grantee, patientID, expiresAt, actions, func() error {
			if !s.permissions.CheckAt(now, grantor, patientID, types.ActionRead) {
				return types.NewUnauthorizedError("grantor cannot delegate access to this patient").
					WithDetail("patient_id", patientID)
			}
			return nil
		})
		return err
	})
	return permissionID, err
}

// Check reports whether address may perform action on patientID's data
func (s *Service) Check(address string, patientID int64, action types.Action) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	allowed := s.permissions.Check(address, patientID, action)
	s.metrics.RecordAccessCheck(allowed)
	return allowed
}

// Revoke deactivates a permission
func (s *Service) Revoke(revoker string, permissionID int64) error {
	return s.transact("revoke", revoker, []string{KeyPermissions}, func() error {
		return s.permissions.Revoke(revoker, permissionID)
	})
}

// Permission returns a permission by id
func (s *Service) Permission(permissionID int64) (*types.Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.permissions.Get(permissionID)
}

// PermissionsFor lists every permission granted to grantee
func (s *Service) PermissionsFor(grantee string) []*types.Permission {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.permissions.ForGrantee(grantee)
}
