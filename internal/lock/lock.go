// Package lock serializes sharing work per dataset. Every mutating sharing
// operation (approve, revoke, reapply) takes the dataset's advisory lock
// before touching AWS so two shares of the same dataset never interleave
// policy read-modify-write cycles.
package lock

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-hclog"

	"github.com/nicholasgasior/datashare/internal/retry"
	"github.com/nicholasgasior/datashare/internal/store"
)

// DatasetLock acquires and releases the advisory lock for one dataset on
// behalf of one holder (a share URI).
type DatasetLock struct {
	store  store.LockStore
	policy retry.Policy
	logger hclog.Logger
}

// New builds a DatasetLock using the given retry policy for acquisition.
func New(s store.LockStore, policy retry.Policy, logger hclog.Logger) *DatasetLock {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &DatasetLock{store: s, policy: policy, logger: logger}
}

// Acquire tries to take the dataset lock for holderURI, retrying per the
// policy. It returns false without error when every attempt found the lock
// held by someone else; callers treat that as a retriable business outcome,
// not a failure.
func (l *DatasetLock) Acquire(ctx context.Context, datasetURI, holderURI string) (bool, error) {
	if err := l.store.CreateLock(ctx, datasetURI); err != nil {
		return false, fmt.Errorf("ensure lock row for dataset %s: %w", datasetURI, err)
	}
	acquired, err := l.policy.Until(ctx, func(ctx context.Context) (bool, error) {
		ok, err := l.store.TryAcquireLock(ctx, datasetURI, holderURI)
		if err != nil {
			return false, err
		}
		if !ok {
			l.logger.Info("dataset lock busy, will retry",
				"dataset_uri", datasetURI, "holder_uri", holderURI)
		}
		return ok, nil
	})
	if err != nil {
		return false, fmt.Errorf("acquire lock for dataset %s: %w", datasetURI, err)
	}
	if acquired {
		l.logger.Info("dataset lock acquired", "dataset_uri", datasetURI, "holder_uri", holderURI)
	}
	return acquired, nil
}

// Release unlocks the dataset if holderURI still holds it. A mismatched or
// already-released lock is logged and swallowed: release runs in deferred
// cleanup paths where a secondary failure must not mask the primary result.
func (l *DatasetLock) Release(ctx context.Context, datasetURI, holderURI string) {
	released, err := l.store.ReleaseLock(ctx, datasetURI, holderURI)
	if err != nil {
		l.logger.Error("dataset lock release failed",
			"dataset_uri", datasetURI, "holder_uri", holderURI, "error", err)
		return
	}
	if !released {
		l.logger.Warn("dataset lock not held by caller at release",
			"dataset_uri", datasetURI, "holder_uri", holderURI)
		return
	}
	l.logger.Info("dataset lock released", "dataset_uri", datasetURI, "holder_uri", holderURI)
}
