package ledger

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/medrex/medledger/internal/audit"
	"github.com/medrex/medledger/internal/identity"
	"github.com/medrex/medledger/internal/permission"
	"github.com/medrex/medledger/internal/records"
	"github.com/medrex/medledger/pkg/logger"
	"github.com/medrex/medledger/pkg/monitoring"
	"github.com/medrex/medledger/pkg/state"
	"github.com/medrex/medledger/pkg/types"
)

// State keys, one per component
const (
	KeyIdentity    = "identity"
	KeyPermissions = "permissions"
	KeyRecords     = "records"
	KeyAudit       = "audit"
)

var allKeys = []string{KeyIdentity, KeyPermissions, KeyRecords, KeyAudit}

// Options configures a Service
type Options struct {
	Backend state.Backend
	Logger  *logger.Logger
	Metrics *monitoring.LedgerMetrics
	Clock   types.Clock
	// TxID names each transaction for log correlation. Defaults to a random uuid.
	TxID func() string
}

// Service applies ledger operations one at a time over the four components
// and persists the resulting state after every successful mutation. A
// mutation whose state cannot be persisted is rolled back in memory.
type Service struct {
	mu sync.RWMutex

	backend state.Backend
	log     *logger.Logger
	metrics *monitoring.LedgerMetrics
	clock   types.Clock
	txID    func() string

	identity    *identity.Registry
	permissions *permission.Engine
	records     *records.Store
	audit       *audit.Log

	// committed holds the last persisted encoding of each component
	committed map[string][]byte
}

// Open builds a Service and restores any state already held by the backend
func Open(opts Options) (*Service, error) {
	if opts.Backend == nil {
		opts.Backend = state.NewMemoryBackend()
	}
	if opts.Logger == nil {
		opts.Logger = logger.Discard()
	}
	if opts.TxID == nil {
		opts.TxID = uuid.NewString
	}

	registry := identity.NewRegistry(opts.Clock)
	s := &Service{
		backend:     opts.Backend,
		log:         opts.Logger,
		metrics:     opts.Metrics,
		clock:       opts.Clock,
		txID:        opts.TxID,
		identity:    registry,
		permissions: permission.NewEngine(registry, opts.Clock),
		records:     records.NewStore(registry, opts.Clock),
		audit:       audit.NewLog(opts.Clock),
		committed:   make(map[string][]byte, len(allKeys)),
	}

	for _, key := range allKeys {
		data, err := s.backend.Load(key)
		if err != nil {
			return nil, types.NewInternalError(types.ErrCodeStorageFailure, "failed to load ledger state", err).
				WithDetail("key", key)
		}
		if data == nil {
			if data, err = s.encode(key); err != nil {
				return nil, err
			}
		} else if err := s.decode(key, data); err != nil {
			return nil, types.NewInternalError(types.ErrCodeStorageFailure, "failed to restore ledger state", err).
				WithDetail("key", key)
		}
		s.committed[key] = data
	}

	users, _, patients := s.identity.Counts()
	s.log.WithComponent("ledger").WithFields(map[string]interface{}{
		"users":         users,
		"patients":      patients,
		"audit_entries": s.audit.Count(),
	}).Info("Ledger state loaded")

	return s, nil
}

// Close releases the backend
func (s *Service) Close() error {
	return s.backend.Close()
}

// transact runs fn under the write lock and persists the keys it touched.
// Either every effect of fn is committed or none is.
func (s *Service) transact(operation, caller string, keys []string, fn func() error) error {
	start := time.Now()
	txID := s.txID()

	s.mu.Lock()
	defer s.mu.Unlock()

	err := fn()
	if err == nil {
		err = s.persist(keys)
	} else {
		// a multi-step operation may have mutated an earlier component
		s.rollback(keys)
	}

	s.observe(txID, operation, caller, time.Since(start), err)
	return err
}

// persist must be called with the write lock held
func (s *Service) persist(keys []string) error {
	entries := make(map[string][]byte, len(keys))
	for _, key := range keys {
		data, err := s.encode(key)
		if err != nil {
			s.rollback(keys)
			return err
		}
		entries[key] = data
	}

	if err := s.backend.Commit(entries); err != nil {
		s.metrics.RecordPersistFailure()
		s.rollback(keys)
		return types.NewInternalError(types.ErrCodeStorageFailure, "failed to commit ledger state", err)
	}

	for key, data := range entries {
		s.committed[key] = data
	}
	return nil
}

// rollback must be called with the write lock held
func (s *Service) rollback(keys []string) {
	for _, key := range keys {
		if err := s.decode(key, s.committed[key]); err != nil {
			s.log.WithComponent("ledger").WithError(err).WithField("key", key).Error("Failed to roll back component state")
		}
	}
}

func (s *Service) observe(txID, operation, caller string, duration time.Duration, err error) {
	outcome := monitoring.OutcomeOK
	if err != nil {
		outcome = string(types.KindOf(err))
	}
	s.metrics.RecordTransaction(operation, outcome, duration)
	s.log.Transaction(txID, operation, caller, duration, string(types.KindOf(err)), err)
}

func (s *Service) encode(key string) ([]byte, error) {
	var snapshot interface{}
	switch key {
	case KeyIdentity:
		snapshot = s.identity.Snapshot()
	case KeyPermissions:
		snapshot = s.permissions.Snapshot()
	case KeyRecords:
		snapshot = s.records.Snapshot()
	case KeyAudit:
		snapshot = s.audit.Snapshot()
	default:
		return nil, fmt.Errorf("unknown state key %q", key)
	}

	data, err := json.Marshal(snapshot)
	if err != nil {
		return nil, types.NewInternalError(types.ErrCodeStorageFailure, "failed to encode ledger state", err).
			WithDetail("key", key)
	}
	return data, nil
}

func (s *Service) decode(key string, data []byte) error {
	switch key {
	case KeyIdentity:
		var st identity.State
		if err := json.Unmarshal(data, &st); err != nil {
			return err
		}
		return s.identity.Restore(st)
	case KeyPermissions:
		var st permission.State
		if err := json.Unmarshal(data, &st); err != nil {
			return err
		}
		return s.permissions.Restore(st)
	case KeyRecords:
		var st records.State
		if err := json.Unmarshal(data, &st); err != nil {
			return err
		}
		return s.records.Restore(st)
	case KeyAudit:
		var st audit.State
		if err := json.Unmarshal(data, &st); err != nil {
			return err
		}
		return s.audit.Restore(st)
	}
	return fmt.Errorf("unknown state key %q", key)
}
