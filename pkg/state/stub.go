package state

import (
	"fmt"

	"github.com/hyperledger/fabric-chaincode-go/shim"
)

// StubBackend reads and writes world state through a chaincode stub. Writes
// only become durable when the surrounding transaction is committed by the
// peer, so Commit is atomic with the transaction.
type StubBackend struct {
	stub shim.ChaincodeStubInterface
}

// NewStubBackend wraps stub
func NewStubBackend(stub shim.ChaincodeStubInterface) *StubBackend {
	return &StubBackend{stub: stub}
}

// Load reads key from world state
func (b *StubBackend) Load(key string) ([]byte, error) {
	value, err := b.stub.GetState(key)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s from world state: %w", key, err)
	}
	return value, nil
}

// Commit puts every entry into the transaction write set
func (b *StubBackend) Commit(entries map[string][]byte) error {
	for _, key := range sortedKeys(entries) {
		if err := b.stub.PutState(key, entries[key]); err != nil {
			return fmt.Errorf("failed to put %s to world state: %w", key, err)
		}
	}
	return nil
}

func (b *StubBackend) Close() error { return nil }
