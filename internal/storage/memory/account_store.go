package memory

import (
	"bytes"
	"context"
	"sort"
	"sync"

	"oraculo/internal/domain"
	"oraculo/internal/storage"
)

// DefaultMaxAttempts bounds how often Update re-runs a conflicting transaction.
const DefaultMaxAttempts = 64

// AccountStore is an in-memory implementation of storage.AccountStore.
//
// Transactions run optimistically: each one records the version of every
// account it reads and buffers its writes. Commit validates the recorded
// versions under the store lock and re-runs the transaction if any of them
// changed. A transaction that fails is validated the same way, so an error
// computed from stale reads is retried rather than returned. View validates
// its reads too: every read-only transaction observes a single committed
// state. Transactions over disjoint accounts never conflict.
type AccountStore struct {
	mu          sync.RWMutex
	data        map[domain.Address]*storage.Account
	maxAttempts int
}

// NewAccountStore creates a new in-memory account store.
func NewAccountStore() *AccountStore {
	return &AccountStore{
		data:        make(map[domain.Address]*storage.Account),
		maxAttempts: DefaultMaxAttempts,
	}
}

// Update runs fn in a read-write transaction.
func (s *AccountStore) Update(ctx context.Context, fn func(tx storage.Tx) error) error {
	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		tx := s.begin(false)
		if err := fn(tx); err != nil {
			if s.validate(tx) {
				return err
			}
			continue
		}
		if s.commit(tx) {
			return nil
		}
	}
	return storage.ErrConflict
}

// View runs fn against a read-only transaction. fn is re-run when an
// account it read changed before it returned.
func (s *AccountStore) View(ctx context.Context, fn func(tx storage.Tx) error) error {
	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		tx := s.begin(true)
		err := fn(tx)
		if s.validate(tx) {
			return err
		}
	}
	return storage.ErrConflict
}

// ListByKind returns all accounts of a kind ordered by address.
func (s *AccountStore) ListByKind(_ context.Context, kind domain.AccountKind) ([]*storage.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*storage.Account
	for _, acct := range s.data {
		if acct.Kind == kind {
			result = append(result, copyAccount(acct))
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return bytes.Compare(result[i].Address[:], result[j].Address[:]) < 0
	})

	return result, nil
}

// Len returns the number of stored accounts.
func (s *AccountStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

func (s *AccountStore) begin(readOnly bool) *memTx {
	return &memTx{
		store:    s,
		readOnly: readOnly,
		reads:    make(map[domain.Address]uint64),
		writes:   make(map[domain.Address]*storage.Account),
	}
}

// validate reports whether every account tx read is still at the version
// it saw.
func (s *AccountStore) validate(tx *memTx) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.readsCurrentLocked(tx)
}

// commit validates tx's read set and applies its writes atomically.
// Returns false if a read account changed since it was read.
func (s *AccountStore) commit(tx *memTx) bool {
	if len(tx.writes) == 0 {
		return s.validate(tx)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.readsCurrentLocked(tx) {
		return false
	}

	for addr, acct := range tx.writes {
		next := copyAccount(acct)
		next.Version = s.versionLocked(addr) + 1
		s.data[addr] = next
	}
	return true
}

// readsCurrentLocked is validate for callers that hold s.mu.
func (s *AccountStore) readsCurrentLocked(tx *memTx) bool {
	for addr, seen := range tx.reads {
		if s.versionLocked(addr) != seen {
			return false
		}
	}
	return true
}

// versionLocked returns the current version of addr, 0 if absent.
// Caller must hold s.mu.
func (s *AccountStore) versionLocked(addr domain.Address) uint64 {
	if acct, ok := s.data[addr]; ok {
		return acct.Version
	}
	return 0
}

type memTx struct {
	store    *AccountStore
	readOnly bool
	reads    map[domain.Address]uint64
	writes   map[domain.Address]*storage.Account
}

func (t *memTx) Get(_ context.Context, addr domain.Address) (*storage.Account, error) {
	if acct, ok := t.writes[addr]; ok {
		return copyAccount(acct), nil
	}

	t.store.mu.RLock()
	acct, exists := t.store.data[addr]
	var version uint64
	if exists {
		version = acct.Version
		acct = copyAccount(acct)
	}
	t.store.mu.RUnlock()

	if _, seen := t.reads[addr]; !seen {
		t.reads[addr] = version
	}
	if !exists {
		return nil, storage.ErrNotFound
	}
	return acct, nil
}

func (t *memTx) Create(ctx context.Context, acct *storage.Account) error {
	if err := t.checkWritable(acct); err != nil {
		return err
	}
	// The read pins the address as absent, so a concurrent create of the
	// same address fails validation at commit.
	if _, err := t.Get(ctx, acct.Address); err == nil {
		return storage.ErrDuplicateKey
	}
	t.writes[acct.Address] = copyAccount(acct)
	return nil
}

func (t *memTx) Put(_ context.Context, acct *storage.Account) error {
	if err := t.checkWritable(acct); err != nil {
		return err
	}
	t.writes[acct.Address] = copyAccount(acct)
	return nil
}

func (t *memTx) checkWritable(acct *storage.Account) error {
	if t.readOnly {
		return storage.ErrReadOnly
	}
	if acct == nil || acct.Address.IsZero() || !acct.Kind.IsValid() {
		return storage.ErrInvalidInput
	}
	return nil
}

func copyAccount(acct *storage.Account) *storage.Account {
	c := *acct
	c.Data = append([]byte(nil), acct.Data...)
	return &c
}

// Verify interface compliance at compile time.
var _ storage.AccountStore = (*AccountStore)(nil)
