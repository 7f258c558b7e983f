package state

import (
	"errors"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
)

// keyPrefix namespaces ledger keys inside the database
const keyPrefix = "medledger:"

// LevelDBBackend stores committed state in a LevelDB database
type LevelDBBackend struct {
	db *leveldb.DB
}

// NewLevelDB opens or creates the database at path
func NewLevelDB(path string) (*LevelDBBackend, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open leveldb at %s: %w", path, err)
	}
	return &LevelDBBackend{db: db}, nil
}

// Load reads the value stored under key
func (b *LevelDBBackend) Load(key string) ([]byte, error) {
	value, err := b.db.Get([]byte(keyPrefix+key), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return value, nil
}

// Commit writes all entries in one synced batch
func (b *LevelDBBackend) Commit(entries map[string][]byte) error {
	batch := new(leveldb.Batch)
	for _, key := range sortedKeys(entries) {
		batch.Put([]byte(keyPrefix+key), entries[key])
	}
	if err := b.db.Write(batch, &opt.WriteOptions{Sync: true}); err != nil {
		return fmt.Errorf("failed to write batch: %w", err)
	}
	return nil
}

// Close releases the database
func (b *LevelDBBackend) Close() error {
	return b.db.Close()
}
