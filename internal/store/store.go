// Package store persists share objects, share items, dataset locks, and the
// read-only environment context the sharing engine resolves per operation.
// Two implementations exist: Memory (tests, single-process development) and
// Postgres (production rows, SELECT ... FOR UPDATE lock acquisition).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/nicholasgasior/datashare/internal/share"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicateShare is returned when creating a share would violate the
// one-non-deleted-share-per-(dataset, environment, principal) invariant.
var ErrDuplicateShare = errors.New("share already exists for dataset, environment, and principal")

// ShareStore reads and mutates share objects and their items.
type ShareStore interface {
	CreateShare(ctx context.Context, obj *share.Object) error
	GetShare(ctx context.Context, shareURI string) (*share.Object, error)
	UpdateShareStatus(ctx context.Context, shareURI string, status share.ObjectStatus) error
	DeleteShare(ctx context.Context, shareURI string) error

	CreateItem(ctx context.Context, item *share.Item) error
	GetItem(ctx context.Context, itemURI string) (*share.Item, error)
	// ListItems returns the share's items filtered by kind and status; a zero
	// kind or empty status matches everything.
	ListItems(ctx context.Context, shareURI string, kind share.ItemKind, status share.ItemStatus) ([]*share.Item, error)
	// ListItemsByHealth returns the share's items in the given health status;
	// status further filters by item status when non-empty.
	ListItemsByHealth(ctx context.Context, shareURI string, health share.HealthStatus, status share.ItemStatus) ([]*share.Item, error)
	UpdateItemStatus(ctx context.Context, itemURI string, status share.ItemStatus) error
	// UpdateItemStatusBatch moves every item of the share from one status to
	// another and returns how many rows changed.
	UpdateItemStatusBatch(ctx context.Context, shareURI string, from, to share.ItemStatus) (int, error)
	UpdateItemHealth(ctx context.Context, itemURI string, health share.HealthStatus, message string, verifiedAt time.Time) error
	DeleteItem(ctx context.Context, itemURI string) error

	// CountOtherSharedItems counts items in live shared states that reference
	// targetURI from shares other than excludeShareURI whose target
	// environment is envURI. Resource-level cleanup is gated on this being
	// zero.
	CountOtherSharedItems(ctx context.Context, targetURI, envURI, excludeShareURI string) (int, error)
	// HasPendingItems reports whether any of the share's items is still in a
	// non-terminal or still-shared state, which blocks share deletion and
	// selects FinishPending over Finish on revoke.
	HasPendingItems(ctx context.Context, shareURI string) (bool, error)

	GetDataFilter(ctx context.Context, itemURI string) (*share.DataFilter, error)
}

// LockStore implements the dataset advisory lock rows.
type LockStore interface {
	// CreateLock inserts the dataset's lock row, unlocked. Called once at
	// dataset creation; creating an existing lock is a no-op.
	CreateLock(ctx context.Context, datasetURI string) error
	// TryAcquireLock atomically locks the dataset for holderURI if unlocked,
	// returning whether the lock was taken. It never blocks.
	TryAcquireLock(ctx context.Context, datasetURI, holderURI string) (bool, error)
	// ReleaseLock unlocks the dataset only when holderURI holds it, returning
	// whether a release happened.
	ReleaseLock(ctx context.Context, datasetURI, holderURI string) (bool, error)
}

// EnvStore resolves the read-only facts about datasets, environments, and
// principals. The sharing engine never writes these.
type EnvStore interface {
	GetDataset(ctx context.Context, datasetURI string) (*share.Dataset, error)
	GetEnvironment(ctx context.Context, envURI string) (*share.Environment, error)
	GetEnvironmentGroup(ctx context.Context, groupURI, envURI string) (*share.EnvironmentGroup, error)
	GetConsumptionRole(ctx context.Context, roleURI string) (*share.ConsumptionRole, error)
	GetTable(ctx context.Context, tableURI string) (*share.Table, error)
	GetStorageLocation(ctx context.Context, locationURI string) (*share.StorageLocation, error)
	GetBucket(ctx context.Context, bucketURI string) (*share.Bucket, error)
}

// Store is the full persistence surface the sharing engine consumes.
type Store interface {
	ShareStore
	LockStore
	EnvStore
}
