package postgres

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5"

	"oraculo/internal/domain"
	"oraculo/internal/storage"
)

// DefaultMaxAttempts bounds how often Update re-runs a conflicting transaction.
const DefaultMaxAttempts = 16

// errRetry marks a transaction that lost a create race and must be re-run.
var errRetry = errors.New("postgres: retry transaction")

// AccountStore implements storage.AccountStore using PostgreSQL.
//
// Update runs in a READ COMMITTED transaction that locks every account it
// reads with SELECT ... FOR UPDATE, so two transactions touching the same
// account serialize on the row lock. A create that races another create of
// the same address fails with a unique violation and the whole transaction
// is re-run, as are deadlocks and serialization failures.
type AccountStore struct {
	pool        *Pool
	maxAttempts int
}

// NewAccountStore creates a new AccountStore.
func NewAccountStore(pool *Pool) *AccountStore {
	return &AccountStore{pool: pool, maxAttempts: DefaultMaxAttempts}
}

// Compile-time interface check.
var _ storage.AccountStore = (*AccountStore)(nil)

// Update runs fn in a read-write transaction, retrying on conflict.
func (s *AccountStore) Update(ctx context.Context, fn func(tx storage.Tx) error) error {
	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		err := s.runTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, false, fn)
		if err == nil {
			return nil
		}
		if errors.Is(err, errRetry) || isRetryableError(err) {
			continue
		}
		return err
	}
	return storage.ErrConflict
}

// View runs fn in a read-only REPEATABLE READ transaction.
func (s *AccountStore) View(ctx context.Context, fn func(tx storage.Tx) error) error {
	return s.runTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.RepeatableRead,
		AccessMode: pgx.ReadOnly,
	}, true, fn)
}

func (s *AccountStore) runTx(ctx context.Context, opts pgx.TxOptions, readOnly bool, fn func(tx storage.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&pgTx{tx: tx, readOnly: readOnly}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// ListByKind returns all accounts of a kind ordered by address bytes.
func (s *AccountStore) ListByKind(ctx context.Context, kind domain.AccountKind) ([]*storage.Account, error) {
	query := `
		SELECT address, kind, data, version
		FROM accounts
		WHERE kind = $1
	`

	rows, err := s.pool.Query(ctx, query, string(kind))
	if err != nil {
		return nil, fmt.Errorf("query accounts by kind: %w", err)
	}
	defer rows.Close()

	var result []*storage.Account
	for rows.Next() {
		acct, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, acct)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate accounts: %w", err)
	}

	// Addresses are stored base58-encoded, which does not sort like the raw bytes.
	sort.Slice(result, func(i, j int) bool {
		return bytes.Compare(result[i].Address[:], result[j].Address[:]) < 0
	})
	return result, nil
}

type pgTx struct {
	tx       pgx.Tx
	readOnly bool
}

func (t *pgTx) Get(ctx context.Context, addr domain.Address) (*storage.Account, error) {
	query := `
		SELECT address, kind, data, version
		FROM accounts
		WHERE address = $1
	`
	if !t.readOnly {
		query += " FOR UPDATE"
	}

	return scanAccount(t.tx.QueryRow(ctx, query, addr.String()))
}

func (t *pgTx) Create(ctx context.Context, acct *storage.Account) error {
	if err := t.checkWritable(acct); err != nil {
		return err
	}
	if _, err := t.Get(ctx, acct.Address); err == nil {
		return storage.ErrDuplicateKey
	} else if !errors.Is(err, storage.ErrNotFound) {
		return err
	}

	query := `
		INSERT INTO accounts (address, kind, data, version)
		VALUES ($1, $2, $3, 1)
	`

	_, err := t.tx.Exec(ctx, query, acct.Address.String(), string(acct.Kind), acct.Data)
	if err != nil {
		// The address was absent when read, so a concurrent create won.
		// The failed statement aborted the transaction; re-run it.
		if isDuplicateKeyError(err) {
			return errRetry
		}
		return fmt.Errorf("insert account: %w", err)
	}
	return nil
}

func (t *pgTx) Put(ctx context.Context, acct *storage.Account) error {
	if err := t.checkWritable(acct); err != nil {
		return err
	}

	query := `
		INSERT INTO accounts (address, kind, data, version)
		VALUES ($1, $2, $3, 1)
		ON CONFLICT (address) DO UPDATE SET
			kind = EXCLUDED.kind,
			data = EXCLUDED.data,
			version = accounts.version + 1,
			updated_at = NOW()
	`

	_, err := t.tx.Exec(ctx, query, acct.Address.String(), string(acct.Kind), acct.Data)
	if err != nil {
		return fmt.Errorf("put account: %w", err)
	}
	return nil
}

func (t *pgTx) checkWritable(acct *storage.Account) error {
	if t.readOnly {
		return storage.ErrReadOnly
	}
	if acct == nil || acct.Address.IsZero() || !acct.Kind.IsValid() {
		return storage.ErrInvalidInput
	}
	return nil
}

func scanAccount(row pgx.Row) (*storage.Account, error) {
	var (
		addr    string
		kind    string
		data    []byte
		version int64
	)
	if err := row.Scan(&addr, &kind, &data, &version); err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("scan account: %w", err)
	}

	parsed, err := domain.ParseAddress(addr)
	if err != nil {
		return nil, fmt.Errorf("decode account address %q: %w", addr, err)
	}
	return &storage.Account{
		Address: parsed,
		Kind:    domain.AccountKind(kind),
		Data:    data,
		Version: uint64(version),
	}, nil
}
