package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nicholasgasior/datashare/internal/share"
)

func newTestShare() *share.Object {
	return share.NewObject("dataset-1", "env-src", "env-tgt", "team-a",
		"team-a", share.PrincipalGroup, "team-a-role", "alice",
		[]share.Permission{share.PermissionRead})
}

func TestCreateShareDuplicatePrincipal(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	first := newTestShare()
	if err := m.CreateShare(ctx, first); err != nil {
		t.Fatalf("create first share: %v", err)
	}

	dup := newTestShare()
	if err := m.CreateShare(ctx, dup); !errors.Is(err, ErrDuplicateShare) {
		t.Fatalf("expected ErrDuplicateShare, got %v", err)
	}

	// Soft-deleting the first share frees the principal slot.
	if err := m.DeleteShare(ctx, first.URI); err != nil {
		t.Fatalf("delete share: %v", err)
	}
	if err := m.CreateShare(ctx, dup); err != nil {
		t.Fatalf("create after delete: %v", err)
	}
}

func TestUpdateItemStatusBatch(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	obj := newTestShare()
	if err := m.CreateShare(ctx, obj); err != nil {
		t.Fatalf("create share: %v", err)
	}

	approved := share.NewItem(obj.URI, share.KindTable, "table-1", "orders")
	approved.Status = share.ItemShareApproved
	succeeded := share.NewItem(obj.URI, share.KindTable, "table-2", "customers")
	succeeded.Status = share.ItemShareSucceeded
	for _, item := range []*share.Item{approved, succeeded} {
		if err := m.CreateItem(ctx, item); err != nil {
			t.Fatalf("create item: %v", err)
		}
	}

	n, err := m.UpdateItemStatusBatch(ctx, obj.URI, share.ItemShareApproved, share.ItemShareFailed)
	if err != nil {
		t.Fatalf("batch update: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 item moved, got %d", n)
	}

	got, err := m.GetItem(ctx, succeeded.URI)
	if err != nil {
		t.Fatalf("get item: %v", err)
	}
	if got.Status != share.ItemShareSucceeded {
		t.Fatalf("succeeded item touched by batch update: %s", got.Status)
	}
}

func TestUpdateItemHealth(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	obj := newTestShare()
	if err := m.CreateShare(ctx, obj); err != nil {
		t.Fatalf("create share: %v", err)
	}
	item := share.NewItem(obj.URI, share.KindBucket, "bucket-1", "raw-data")
	item.Status = share.ItemShareSucceeded
	if err := m.CreateItem(ctx, item); err != nil {
		t.Fatalf("create item: %v", err)
	}

	at := time.Now().UTC()
	if err := m.UpdateItemHealth(ctx, item.URI, share.HealthUnhealthy, "bucket policy missing delegation statement", at); err != nil {
		t.Fatalf("update health: %v", err)
	}

	got, err := m.GetItem(ctx, item.URI)
	if err != nil {
		t.Fatalf("get item: %v", err)
	}
	if got.Health != share.HealthUnhealthy || got.HealthMessage == "" {
		t.Fatalf("health not persisted: %s %q", got.Health, got.HealthMessage)
	}
	if got.LastVerified == nil || !got.LastVerified.Equal(at) {
		t.Fatalf("last verified not persisted: %v", got.LastVerified)
	}

	unhealthy, err := m.ListItemsByHealth(ctx, obj.URI, share.HealthUnhealthy, share.ItemShareSucceeded)
	if err != nil {
		t.Fatalf("list by health: %v", err)
	}
	if len(unhealthy) != 1 || unhealthy[0].URI != item.URI {
		t.Fatalf("expected the unhealthy item, got %d items", len(unhealthy))
	}
}

func TestCountOtherSharedItems(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	mine := newTestShare()
	if err := m.CreateShare(ctx, mine); err != nil {
		t.Fatalf("create share: %v", err)
	}
	other := newTestShare()
	other.PrincipalID = "team-b"
	if err := m.CreateShare(ctx, other); err != nil {
		t.Fatalf("create other share: %v", err)
	}
	sameEnvElsewhere := newTestShare()
	sameEnvElsewhere.PrincipalID = "team-c"
	sameEnvElsewhere.TargetEnvURI = "env-other"
	if err := m.CreateShare(ctx, sameEnvElsewhere); err != nil {
		t.Fatalf("create third share: %v", err)
	}

	add := func(shareURI string, status share.ItemStatus) {
		t.Helper()
		item := share.NewItem(shareURI, share.KindStorageLocation, "loc-1", "folder")
		item.Status = status
		if err := m.CreateItem(ctx, item); err != nil {
			t.Fatalf("create item: %v", err)
		}
	}
	add(mine.URI, share.ItemRevokeApproved)
	add(other.URI, share.ItemShareSucceeded)        // counts: live, same env, other share
	add(sameEnvElsewhere.URI, share.ItemShareSucceeded) // different env, ignored

	failed := share.NewItem(other.URI, share.KindStorageLocation, "loc-1", "folder")
	failed.Status = share.ItemShareFailed // not a live grant, ignored
	if err := m.CreateItem(ctx, failed); err != nil {
		t.Fatalf("create failed item: %v", err)
	}

	n, err := m.CountOtherSharedItems(ctx, "loc-1", "env-tgt", mine.URI)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 other shared item, got %d", n)
	}
}

func TestLockMutualExclusion(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	if err := m.CreateLock(ctx, "dataset-1"); err != nil {
		t.Fatalf("create lock: %v", err)
	}
	// CreateLock is idempotent.
	if err := m.CreateLock(ctx, "dataset-1"); err != nil {
		t.Fatalf("recreate lock: %v", err)
	}

	ok, err := m.TryAcquireLock(ctx, "dataset-1", "share-a")
	if err != nil || !ok {
		t.Fatalf("first acquire: ok=%v err=%v", ok, err)
	}
	ok, err = m.TryAcquireLock(ctx, "dataset-1", "share-b")
	if err != nil {
		t.Fatalf("second acquire: %v", err)
	}
	if ok {
		t.Fatal("second acquire succeeded while lock held")
	}

	// Wrong holder cannot release.
	released, err := m.ReleaseLock(ctx, "dataset-1", "share-b")
	if err != nil {
		t.Fatalf("release by wrong holder: %v", err)
	}
	if released {
		t.Fatal("wrong holder released the lock")
	}

	released, err = m.ReleaseLock(ctx, "dataset-1", "share-a")
	if err != nil || !released {
		t.Fatalf("release by holder: released=%v err=%v", released, err)
	}

	ok, err = m.TryAcquireLock(ctx, "dataset-1", "share-b")
	if err != nil || !ok {
		t.Fatalf("acquire after release: ok=%v err=%v", ok, err)
	}
}

func TestTryAcquireLockUnknownDataset(t *testing.T) {
	m := NewMemory()
	if _, err := m.TryAcquireLock(context.Background(), "nope", "share-a"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
