package memory

import (
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"testing"

	"oraculo/internal/domain"
	"oraculo/internal/storage"
)

func addr(b byte) domain.Address {
	var a domain.Address
	a[0] = b
	a[31] = 1
	return a
}

func counter(a domain.Address, n uint64) *storage.Account {
	data := make([]byte, 8)
	binary.LittleEndian.PutUint64(data, n)
	return &storage.Account{Address: a, Kind: domain.AccountKindMarket, Data: data}
}

func readCounter(t *testing.T, tx storage.Tx, a domain.Address) uint64 {
	t.Helper()
	acct, err := tx.Get(context.Background(), a)
	if err != nil {
		t.Fatalf("Get(%s): %v", a, err)
	}
	return binary.LittleEndian.Uint64(acct.Data)
}

func TestAccountStore_CreateAndGet(t *testing.T) {
	store := NewAccountStore()
	ctx := context.Background()

	err := store.Update(ctx, func(tx storage.Tx) error {
		return tx.Create(ctx, counter(addr(1), 7))
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	err = store.View(ctx, func(tx storage.Tx) error {
		if got := readCounter(t, tx, addr(1)); got != 7 {
			t.Errorf("counter = %d, want 7", got)
		}
		acct, err := tx.Get(ctx, addr(1))
		if err != nil {
			return err
		}
		if acct.Version != 1 {
			t.Errorf("version = %d, want 1", acct.Version)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("View failed: %v", err)
	}
}

func TestAccountStore_DuplicateCreate(t *testing.T) {
	store := NewAccountStore()
	ctx := context.Background()

	create := func(tx storage.Tx) error { return tx.Create(ctx, counter(addr(1), 1)) }
	if err := store.Update(ctx, create); err != nil {
		t.Fatalf("first create: %v", err)
	}
	if err := store.Update(ctx, create); !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("second create: err = %v, want ErrDuplicateKey", err)
	}
}

func TestAccountStore_GetMissing(t *testing.T) {
	store := NewAccountStore()
	ctx := context.Background()

	err := store.View(ctx, func(tx storage.Tx) error {
		_, err := tx.Get(ctx, addr(9))
		return err
	})
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestAccountStore_ErrorDiscardsAllWrites(t *testing.T) {
	store := NewAccountStore()
	ctx := context.Background()
	boom := errors.New("boom")

	err := store.Update(ctx, func(tx storage.Tx) error {
		if err := tx.Put(ctx, counter(addr(1), 1)); err != nil {
			return err
		}
		if err := tx.Put(ctx, counter(addr(2), 2)); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	if store.Len() != 0 {
		t.Errorf("store has %d accounts after failed tx, want 0", store.Len())
	}
}

func TestAccountStore_StaleErrorRetried(t *testing.T) {
	store := NewAccountStore()
	ctx := context.Background()
	errShort := errors.New("balance below 10")

	if err := store.Update(ctx, func(tx storage.Tx) error {
		return tx.Create(ctx, counter(addr(1), 0))
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	calls := 0
	err := store.Update(ctx, func(tx storage.Tx) error {
		calls++
		n := readCounter(t, tx, addr(1))
		if calls == 1 {
			// A deposit lands after the read; the refusal below is stale.
			if err := store.Update(ctx, func(tx storage.Tx) error {
				return tx.Put(ctx, counter(addr(1), 10))
			}); err != nil {
				t.Fatalf("deposit: %v", err)
			}
		}
		if n < 10 {
			return errShort
		}
		return tx.Put(ctx, counter(addr(1), n-10))
	})
	if err != nil {
		t.Fatalf("err = %v, want nil after retry", err)
	}
	if calls != 2 {
		t.Errorf("fn ran %d times, want 2", calls)
	}

	// An error from current reads is returned as is.
	err = store.Update(ctx, func(tx storage.Tx) error {
		if readCounter(t, tx, addr(1)) < 10 {
			return errShort
		}
		return nil
	})
	if !errors.Is(err, errShort) {
		t.Errorf("err = %v, want errShort", err)
	}
}

func TestAccountStore_ViewSeesOneState(t *testing.T) {
	store := NewAccountStore()
	ctx := context.Background()
	transfer := func(a, b uint64) {
		t.Helper()
		if err := store.Update(ctx, func(tx storage.Tx) error {
			if err := tx.Put(ctx, counter(addr(1), a)); err != nil {
				return err
			}
			return tx.Put(ctx, counter(addr(2), b))
		}); err != nil {
			t.Fatalf("transfer: %v", err)
		}
	}
	transfer(10, 0)

	calls := 0
	var sum uint64
	err := store.View(ctx, func(tx storage.Tx) error {
		calls++
		a := readCounter(t, tx, addr(1))
		if calls == 1 {
			transfer(0, 10)
		}
		sum = a + readCounter(t, tx, addr(2))
		return nil
	})
	if err != nil {
		t.Fatalf("View failed: %v", err)
	}
	if sum != 10 {
		t.Errorf("sum = %d, want 10 (mixed snapshot)", sum)
	}
	if calls != 2 {
		t.Errorf("fn ran %d times, want 2", calls)
	}
}

func TestAccountStore_ReadYourWrites(t *testing.T) {
	store := NewAccountStore()
	ctx := context.Background()

	err := store.Update(ctx, func(tx storage.Tx) error {
		if err := tx.Put(ctx, counter(addr(1), 5)); err != nil {
			return err
		}
		if got := readCounter(t, tx, addr(1)); got != 5 {
			t.Errorf("read own write = %d, want 5", got)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
}

func TestAccountStore_ViewIsReadOnly(t *testing.T) {
	store := NewAccountStore()
	ctx := context.Background()

	err := store.View(ctx, func(tx storage.Tx) error {
		return tx.Put(ctx, counter(addr(1), 1))
	})
	if !errors.Is(err, storage.ErrReadOnly) {
		t.Errorf("err = %v, want ErrReadOnly", err)
	}
}

func TestAccountStore_InvalidInput(t *testing.T) {
	store := NewAccountStore()
	ctx := context.Background()

	err := store.Update(ctx, func(tx storage.Tx) error {
		return tx.Put(ctx, &storage.Account{Address: addr(1), Kind: "bogus"})
	})
	if !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("err = %v, want ErrInvalidInput", err)
	}
}

func TestAccountStore_ConcurrentIncrementsSerialize(t *testing.T) {
	store := NewAccountStore()
	ctx := context.Background()

	if err := store.Update(ctx, func(tx storage.Tx) error {
		return tx.Create(ctx, counter(addr(1), 0))
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	const workers = 32
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- store.Update(ctx, func(tx storage.Tx) error {
				acct, err := tx.Get(ctx, addr(1))
				if err != nil {
					return err
				}
				n := binary.LittleEndian.Uint64(acct.Data)
				return tx.Put(ctx, counter(addr(1), n+1))
			})
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("increment failed: %v", err)
		}
	}

	_ = store.View(ctx, func(tx storage.Tx) error {
		if got := readCounter(t, tx, addr(1)); got != workers {
			t.Errorf("counter = %d, want %d (lost update)", got, workers)
		}
		return nil
	})
}

func TestAccountStore_ConcurrentCreateSingleWinner(t *testing.T) {
	store := NewAccountStore()
	ctx := context.Background()

	const workers = 16
	var wg sync.WaitGroup
	results := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results <- store.Update(ctx, func(tx storage.Tx) error {
				return tx.Create(ctx, counter(addr(3), uint64(i)))
			})
		}(i)
	}
	wg.Wait()
	close(results)

	var ok, dup int
	for err := range results {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, storage.ErrDuplicateKey):
			dup++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 1 || dup != workers-1 {
		t.Errorf("ok=%d dup=%d, want 1 and %d", ok, dup, workers-1)
	}
}

func TestAccountStore_ListByKind(t *testing.T) {
	store := NewAccountStore()
	ctx := context.Background()

	err := store.Update(ctx, func(tx storage.Tx) error {
		if err := tx.Put(ctx, counter(addr(2), 2)); err != nil {
			return err
		}
		if err := tx.Put(ctx, counter(addr(1), 1)); err != nil {
			return err
		}
		return tx.Put(ctx, &storage.Account{Address: addr(3), Kind: domain.AccountKindMint, Data: []byte("{}")})
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	markets, err := store.ListByKind(ctx, domain.AccountKindMarket)
	if err != nil {
		t.Fatalf("ListByKind failed: %v", err)
	}
	if len(markets) != 2 {
		t.Fatalf("got %d markets, want 2", len(markets))
	}
	if markets[0].Address != addr(1) || markets[1].Address != addr(2) {
		t.Errorf("not ordered by address: %s, %s", markets[0].Address, markets[1].Address)
	}
}
