package permission

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/medrex/medledger/pkg/types"
)

// Directory resolves addresses and patient ownership
type Directory interface {
	Lookup(address string) (*types.User, error)
	IsOwner(patientID int64, address string) bool
}

// Engine grants, checks and revokes delegated access to patient data
type Engine struct {
	mu        sync.RWMutex
	directory Directory
	clock     types.Clock

	permissions map[int64]*types.Permission
	nextID      int64
}

// State is the serializable form of the engine
type State struct {
	Permissions []*types.Permission `json:"permissions"`
	NextID      int64               `json:"next_id"`
}

// NewEngine creates a permission engine backed by directory
func NewEngine(directory Directory, clock types.Clock) *Engine {
	return &Engine{
		directory:   directory,
		clock:       clock,
		permissions: make(map[int64]*types.Permission),
		nextID:      1,
	}
}

// Grant creates an active permission for grantee on patientID and returns its id.
// Whether grantor may delegate for this patient is decided by the caller.
func (e *Engine) Grant(grantor, grantee string, patientID int64, expiresAt time.Time, allowedActions []types.Action) (int64, error) {
	return e.GrantAt(e.clock.Now(), grantor, grantee, patientID, expiresAt, allowedActions, nil)
}

// GrantAt is Grant evaluated at now. A non-nil authorize runs once the
// request itself is valid and vetoes the grant by returning an error.
func (e *Engine) GrantAt(now time.Time, grantor, grantee string, patientID int64, expiresAt time.Time, allowedActions []types.Action, authorize func() error) (int64, error) {
	if _, err := e.directory.Lookup(grantor); err != nil {
		return 0, types.NewUnauthorizedError("grantor is not a registered user").WithDetail("grantor", grantor)
	}
	if _, err := e.directory.Lookup(grantee); err != nil {
		return 0, err
	}
	if !expiresAt.After(now) {
		return 0, types.NewInvalidInputError("expires_at", "expiration must be in the future").
			WithDetail("expires_at", expiresAt)
	}
	actions, err := normalizeActions(allowedActions)
	if err != nil {
		return 0, err
	}
	if authorize != nil {
		if err := authorize(); err != nil {
			return 0, err
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	permission := &types.Permission{
		ID:             e.nextID,
		Grantor:        grantor,
		Grantee:        grantee,
		PatientID:      patientID,
		ExpiresAt:      expiresAt,
		Active:         true,
		AllowedActions: actions,
		CreatedAt:      now,
	}
	e.permissions[permission.ID] = permission
	e.nextID++

	return permission.ID, nil
}

// Check reports whether address may perform action on patientID's data.
// Admins and the patient owner are always allowed; anyone else needs an
// active, unexpired permission naming the action or the wildcard.
func (e *Engine) Check(address string, patientID int64, action types.Action) bool {
	return e.CheckAt(e.clock.Now(), address, patientID, action)
}

// CheckAt is Check evaluated at now
func (e *Engine) CheckAt(now time.Time, address string, patientID int64, action types.Action) bool {
	user, err := e.directory.Lookup(address)
	if err != nil || !user.Active {
		return false
	}
	if user.Role == types.RoleAdmin {
		return true
	}
	if e.directory.IsOwner(patientID, address) {
		return true
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, permission := range e.permissions {
		if permission.Grantee != address || permission.PatientID != patientID {
			continue
		}
		if permission.Effective(now) && permission.Allows(action) {
			return true
		}
	}
	return false
}

// Revoke deactivates a permission. Only its grantor or an admin may revoke;
// revoking an inactive permission succeeds without effect.
func (e *Engine) Revoke(revoker string, permissionID int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	permission, exists := e.permissions[permissionID]
	if !exists {
		return types.NewNotFoundError(types.ErrCodePermissionNotFound, "permission does not exist").
			WithDetail("permission_id", permissionID)
	}

	user, err := e.directory.Lookup(revoker)
	if err != nil {
		return types.NewUnauthorizedError("revoker is not a registered user").WithDetail("revoker", revoker)
	}
	if permission.Grantor != revoker && !user.IsAdmin() {
		return types.NewUnauthorizedError("only the grantor or an admin can revoke this permission").
			WithDetail("permission_id", permissionID)
	}

	permission.Active = false
	return nil
}

// Get returns a permission by id
func (e *Engine) Get(permissionID int64) (*types.Permission, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	permission, exists := e.permissions[permissionID]
	if !exists {
		return nil, types.NewNotFoundError(types.ErrCodePermissionNotFound, "permission does not exist").
			WithDetail("permission_id", permissionID)
	}
	return copyPermission(permission), nil
}

// ForGrantee lists every permission ever granted to address, in id order
func (e *Engine) ForGrantee(address string) []*types.Permission {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var result []*types.Permission
	for _, permission := range e.permissions {
		if permission.Grantee == address {
			result = append(result, copyPermission(permission))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

// Counts returns the total number of permissions and how many are in effect now
func (e *Engine) Counts() (total, effective int) {
	now := e.clock.Now()

	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, permission := range e.permissions {
		if permission.Effective(now) {
			effective++
		}
	}
	return len(e.permissions), effective
}

// Snapshot returns a deterministic copy of the engine state
func (e *Engine) Snapshot() State {
	e.mu.RLock()
	defer e.mu.RUnlock()

	state := State{
		Permissions: make([]*types.Permission, 0, len(e.permissions)),
		NextID:      e.nextID,
	}
	for _, permission := range e.permissions {
		state.Permissions = append(state.Permissions, copyPermission(permission))
	}
	sort.Slice(state.Permissions, func(i, j int) bool { return state.Permissions[i].ID < state.Permissions[j].ID })
	return state
}

// Restore replaces the engine contents with state
func (e *Engine) Restore(state State) error {
	permissions := make(map[int64]*types.Permission, len(state.Permissions))
	next := state.NextID
	for _, permission := range state.Permissions {
		if _, dup := permissions[permission.ID]; dup {
			return fmt.Errorf("duplicate permission %d in permission state", permission.ID)
		}
		permissions[permission.ID] = copyPermission(permission)
		if permission.ID >= next {
			next = permission.ID + 1
		}
	}
	if next < 1 {
		next = 1
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.permissions = permissions
	e.nextID = next
	return nil
}

// normalizeActions applies set semantics: blanks are rejected and duplicates
// collapse, keeping first-seen order.
func normalizeActions(actions []types.Action) ([]types.Action, error) {
	if len(actions) == 0 {
		return nil, types.NewInvalidInputError("allowed_actions", "at least one action is required")
	}

	seen := make(map[types.Action]struct{}, len(actions))
	result := make([]types.Action, 0, len(actions))
	for _, action := range actions {
		action = types.Action(strings.TrimSpace(string(action)))
		if action == "" {
			return nil, types.NewInvalidInputError("allowed_actions", "action names cannot be blank")
		}
		if _, dup := seen[action]; dup {
			continue
		}
		seen[action] = struct{}{}
		result = append(result, action)
	}
	return result, nil
}

func copyPermission(permission *types.Permission) *types.Permission {
	p := *permission
	p.AllowedActions = append([]types.Action(nil), permission.AllowedActions...)
	return &p
}
