package sharing

import (
	"context"

	"github.com/hashicorp/go-multierror"

	"github.com/nicholasgasior/datashare/internal/share"
)

// ApproveShare processes every approved item of the share: folders first,
// then buckets, then tables, each item isolated so one failure never aborts
// its siblings. The dataset lock is held across all AWS mutation and released
// on every path. The returned error aggregates per-item failures; item and
// share statuses are already persisted when it returns.
func (s *Service) ApproveShare(ctx context.Context, shareURI string) error {
	data, err := s.resolveData(ctx, shareURI)
	if err != nil {
		return err
	}
	s.logger.Info("processing share approval",
		"share_uri", shareURI, "dataset_uri", data.Share.DatasetURI, "principal", data.Share.PrincipalRoleName)

	if err := s.transitionShare(ctx, data.Share, share.ActionStart); err != nil {
		return err
	}

	acquired, err := s.locks.Acquire(ctx, data.Share.DatasetURI, shareURI)
	if err != nil {
		return err
	}
	if !acquired {
		return s.failLockAcquisition(ctx, data, share.ItemShareApproved, share.ItemShareFailed)
	}
	defer s.locks.Release(ctx, data.Share.DatasetURI, shareURI)

	var result *multierror.Error
	result = multierror.Append(result, s.processItems(ctx, data, share.KindStorageLocation, false, s.grantFolder))
	result = multierror.Append(result, s.processItems(ctx, data, share.KindBucket, false, s.grantBucket))
	result = multierror.Append(result, s.processItems(ctx, data, share.KindTable, false, s.grantTable))

	if err := s.transitionShare(ctx, data.Share, share.ActionFinish); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

// processItems runs one grant or revoke function over the share's items of a
// kind, transitioning each item independently. A failed item is recorded,
// alarmed, and skipped; its siblings continue.
func (s *Service) processItems(ctx context.Context, data *share.Data, kind share.ItemKind, revoke bool, fn func(context.Context, *share.Data, *share.Item) error) error {
	waiting := share.ItemShareApproved
	if revoke {
		waiting = share.ItemRevokeApproved
	}
	items, err := s.store.ListItems(ctx, data.Share.URI, kind, waiting)
	if err != nil {
		return err
	}

	var result *multierror.Error
	for _, item := range items {
		if err := s.transitionItem(ctx, item, share.ActionStart); err != nil {
			result = multierror.Append(result, err)
			continue
		}
		if err := fn(ctx, data, item); err != nil {
			s.logger.Error("item processing failed",
				"share_uri", data.Share.URI, "item_uri", item.URI, "kind", kind, "error", err)
			result = multierror.Append(result, s.failItem(ctx, data, item, revoke, err))
			continue
		}
		if err := s.transitionItem(ctx, item, share.ActionSuccess); err != nil {
			result = multierror.Append(result, err)
			continue
		}
		if err := s.store.UpdateItemHealth(ctx, item.URI, share.HealthHealthy, "", s.now()); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// failItem records an item failure: status, health message, and the operator
// alarm. The original error is returned for aggregation.
func (s *Service) failItem(ctx context.Context, data *share.Data, item *share.Item, revoke bool, cause error) error {
	if err := s.transitionItem(ctx, item, share.ActionFailure); err != nil {
		return err
	}
	if err := s.store.UpdateItemHealth(ctx, item.URI, share.HealthUnhealthy, cause.Error(), s.now()); err != nil {
		s.logger.Error("could not persist item health", "item_uri", item.URI, "error", err)
	}
	if s.alarms != nil {
		if revoke {
			s.alarms.RevokeFailure(ctx, data, item)
		} else {
			s.alarms.ShareFailure(ctx, data, item)
		}
	}
	return cause
}

// grantFolder shares one S3 prefix through an access point.
func (s *Service) grantFolder(ctx context.Context, data *share.Data, item *share.Item) error {
	location, err := s.store.GetStorageLocation(ctx, item.TargetURI)
	if err != nil {
		return err
	}
	mgr := s.managers.Folder(data, location)

	if err := mgr.GrantDelegationInBucketPolicy(ctx); err != nil {
		return err
	}
	if err := mgr.GrantIAMAccess(ctx); err != nil {
		return err
	}
	arn, err := mgr.EnsureAccessPoint(ctx)
	if err != nil {
		return err
	}
	if err := mgr.GrantAccessPointPolicy(ctx, arn); err != nil {
		return err
	}
	return mgr.GrantKeyPolicy(ctx)
}

// grantBucket shares one whole bucket.
func (s *Service) grantBucket(ctx context.Context, data *share.Data, item *share.Item) error {
	bucket, err := s.store.GetBucket(ctx, item.TargetURI)
	if err != nil {
		return err
	}
	mgr := s.managers.Bucket(data, bucket)

	if err := mgr.GrantBucketPolicy(ctx); err != nil {
		return err
	}
	if err := mgr.GrantIAMAccess(ctx); err != nil {
		return err
	}
	return mgr.GrantKeyPolicy(ctx)
}

// grantTable shares one Glue table through Lake Formation.
func (s *Service) grantTable(ctx context.Context, data *share.Data, item *share.Item) error {
	table, err := s.store.GetTable(ctx, item.TargetURI)
	if err != nil {
		return err
	}
	filter, err := s.itemFilter(ctx, item)
	if err != nil {
		return err
	}
	mgr := s.managers.Table(data, table, filter)

	exists, err := mgr.SourceTableExists(ctx)
	if err != nil {
		return err
	}
	if !exists {
		return &missingTableError{database: table.DatabaseName, table: table.Name}
	}
	if data.CrossAccount() {
		if err := mgr.UpgradeDataLakeSettings(ctx); err != nil {
			return err
		}
	}
	if err := mgr.RevokeIAMAllowedPrincipals(ctx); err != nil {
		return err
	}
	if err := mgr.GrantPivotRoleDatabasePermissions(ctx); err != nil {
		return err
	}
	if err := mgr.GrantPrincipalsToSourceTable(ctx); err != nil {
		return err
	}
	if err := mgr.EnsureSharedDatabase(ctx); err != nil {
		return err
	}
	return mgr.EnsureResourceLink(ctx)
}

type missingTableError struct {
	database, table string
}

func (e *missingTableError) Error() string {
	return "source table " + e.database + "." + e.table + " does not exist"
}
