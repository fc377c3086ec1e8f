package lock

import (
	"context"
	"errors"
	"testing"

	"github.com/hashicorp/go-hclog"

	"github.com/nicholasgasior/datashare/internal/retry"
	"github.com/nicholasgasior/datashare/internal/store"
)

func testLock(s store.LockStore, attempts int) *DatasetLock {
	return New(s, retry.Policy{MaxAttempts: attempts}, hclog.NewNullLogger())
}

func TestAcquireCreatesLockRow(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()

	l := testLock(m, 1)
	ok, err := l.Acquire(ctx, "dataset-1", "share-a")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if !ok {
		t.Fatal("acquire on fresh dataset failed")
	}
}

func TestAcquireRetriesUntilReleased(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()

	holder := testLock(m, 1)
	if ok, err := holder.Acquire(ctx, "dataset-1", "share-a"); err != nil || !ok {
		t.Fatalf("seed acquire: ok=%v err=%v", ok, err)
	}

	// Releasing store shim: frees the lock after the contender's second try.
	rs := &releasingStore{LockStore: m, releaseAfter: 2, datasetURI: "dataset-1", holderURI: "share-a"}
	contender := testLock(rs, 5)
	ok, err := contender.Acquire(ctx, "dataset-1", "share-b")
	if err != nil {
		t.Fatalf("contended acquire: %v", err)
	}
	if !ok {
		t.Fatal("contender never got the lock")
	}
	if rs.attempts < 3 {
		t.Fatalf("expected at least 3 attempts, got %d", rs.attempts)
	}
}

func TestAcquireGivesUpAfterMaxAttempts(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()

	holder := testLock(m, 1)
	if ok, err := holder.Acquire(ctx, "dataset-1", "share-a"); err != nil || !ok {
		t.Fatalf("seed acquire: ok=%v err=%v", ok, err)
	}

	contender := testLock(m, 3)
	ok, err := contender.Acquire(ctx, "dataset-1", "share-b")
	if err != nil {
		t.Fatalf("contended acquire: %v", err)
	}
	if ok {
		t.Fatal("contender acquired a held lock")
	}
}

func TestAcquireAbortsOnStoreError(t *testing.T) {
	boom := errors.New("connection reset")
	fs := &failingStore{err: boom}
	l := testLock(fs, 5)

	_, err := l.Acquire(context.Background(), "dataset-1", "share-a")
	if !errors.Is(err, boom) {
		t.Fatalf("expected store error, got %v", err)
	}
	if fs.attempts != 1 {
		t.Fatalf("store errors must abort, got %d attempts", fs.attempts)
	}
}

func TestReleaseByWrongHolderIsSwallowed(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()

	l := testLock(m, 1)
	if ok, err := l.Acquire(ctx, "dataset-1", "share-a"); err != nil || !ok {
		t.Fatalf("acquire: ok=%v err=%v", ok, err)
	}

	// Wrong holder: logged, not fatal, lock stays held.
	l.Release(ctx, "dataset-1", "share-b")
	if ok, err := m.TryAcquireLock(ctx, "dataset-1", "share-c"); err != nil || ok {
		t.Fatalf("lock should still be held: ok=%v err=%v", ok, err)
	}

	l.Release(ctx, "dataset-1", "share-a")
	if ok, err := m.TryAcquireLock(ctx, "dataset-1", "share-c"); err != nil || !ok {
		t.Fatalf("lock should be free after holder release: ok=%v err=%v", ok, err)
	}
}

// releasingStore wraps a LockStore and releases the contended lock after a
// set number of TryAcquireLock calls.
type releasingStore struct {
	store.LockStore
	releaseAfter int
	datasetURI   string
	holderURI    string
	attempts     int
}

func (r *releasingStore) TryAcquireLock(ctx context.Context, datasetURI, holderURI string) (bool, error) {
	r.attempts++
	if r.attempts == r.releaseAfter {
		if _, err := r.LockStore.ReleaseLock(ctx, r.datasetURI, r.holderURI); err != nil {
			return false, err
		}
	}
	return r.LockStore.TryAcquireLock(ctx, datasetURI, holderURI)
}

type failingStore struct {
	err      error
	attempts int
}

func (f *failingStore) CreateLock(context.Context, string) error { return nil }

func (f *failingStore) TryAcquireLock(context.Context, string, string) (bool, error) {
	f.attempts++
	return false, f.err
}

func (f *failingStore) ReleaseLock(context.Context, string, string) (bool, error) {
	return false, f.err
}
