package entitlements

import (
	"errors"
	"sync/atomic"
)

// ErrNilPolicyTable is returned when a nil table is offered to a PolicyStore.
var ErrNilPolicyTable = errors.New("policy table is nil")

// PolicySource yields the policy snapshot for a single evaluation.
type PolicySource interface {
	Current() *PolicyTable
}

// PolicyStore holds the active PolicyTable and swaps it copy-on-write.
// Readers in flight keep the table they loaded; no reader sees a partial table.
type PolicyStore struct {
	current atomic.Pointer[PolicyTable]
}

// NewPolicyStore creates a store serving initial. A nil initial table serves
// an empty table, which denies every trial.
func NewPolicyStore(initial *PolicyTable) *PolicyStore {
	s := &PolicyStore{}
	if initial == nil {
		initial = &PolicyTable{entries: map[Capability]PolicyEntry{}}
	}
	s.current.Store(initial)
	return s
}

// Current returns the active table.
func (s *PolicyStore) Current() *PolicyTable {
	if s == nil {
		return nil
	}
	return s.current.Load()
}

// Swap installs next and returns the table it replaced. A nil next is
// rejected and the active table is kept.
func (s *PolicyStore) Swap(next *PolicyTable) (*PolicyTable, error) {
	if next == nil {
		return s.Current(), ErrNilPolicyTable
	}
	return s.current.Swap(next), nil
}
