package sharing

import (
	"context"

	"github.com/hashicorp/go-multierror"

	"github.com/nicholasgasior/datashare/internal/share"
)

// VerifyShare re-runs every manager's read-only checks for the share's
// succeeded items and persists per-item health. It takes no lock and mutates
// nothing in AWS. Infrastructure errors are returned; drift findings land in
// the item health records instead.
func (s *Service) VerifyShare(ctx context.Context, shareURI string) error {
	data, err := s.resolveData(ctx, shareURI)
	if err != nil {
		return err
	}
	s.logger.Info("verifying share", "share_uri", shareURI, "dataset_uri", data.Share.DatasetURI)

	items, err := s.store.ListItems(ctx, shareURI, "", share.ItemShareSucceeded)
	if err != nil {
		return err
	}

	var result *multierror.Error
	for _, item := range items {
		findings, err := s.verifyItem(ctx, data, item)
		if err != nil {
			result = multierror.Append(result, err)
			continue
		}
		health, message := share.HealthHealthy, ""
		if findings != nil {
			health, message = share.HealthUnhealthy, findings.Error()
		}
		if err := s.store.UpdateItemHealth(ctx, item.URI, health, message, s.now()); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// verifyItem runs the per-kind checks. The returned findings error is the
// manager's aggregated drift report, nil when the item is healthy.
func (s *Service) verifyItem(ctx context.Context, data *share.Data, item *share.Item) (findings error, err error) {
	switch item.Kind {
	case share.KindBucket:
		bucket, err := s.store.GetBucket(ctx, item.TargetURI)
		if err != nil {
			return nil, err
		}
		mgr := s.managers.Bucket(data, bucket)
		for _, check := range []func(context.Context) error{
			mgr.CheckBucketPolicy, mgr.CheckIAMAccess, mgr.CheckKeyPolicy,
		} {
			if err := check(ctx); err != nil {
				return nil, err
			}
		}
		return mgr.CheckErrors(), nil

	case share.KindStorageLocation:
		location, err := s.store.GetStorageLocation(ctx, item.TargetURI)
		if err != nil {
			return nil, err
		}
		mgr := s.managers.Folder(data, location)
		for _, check := range []func(context.Context) error{
			mgr.CheckDelegationInBucketPolicy, mgr.CheckIAMAccess,
			mgr.CheckAccessPointPolicy, mgr.CheckKeyPolicy,
		} {
			if err := check(ctx); err != nil {
				return nil, err
			}
		}
		return mgr.CheckErrors(), nil

	case share.KindTable:
		table, err := s.store.GetTable(ctx, item.TargetURI)
		if err != nil {
			return nil, err
		}
		filter, err := s.itemFilter(ctx, item)
		if err != nil {
			return nil, err
		}
		mgr := s.managers.Table(data, table, filter)
		if err := mgr.CheckSourceTableAccess(ctx); err != nil {
			return nil, err
		}
		if err := mgr.CheckResourceLink(ctx); err != nil {
			return nil, err
		}
		return mgr.CheckErrors(), nil
	}
	return nil, nil
}

// ReapplyShare re-runs the grant path for items flagged PendingReApply,
// under the same lock discipline as ApproveShare. Item statuses stay
// Share_Succeeded; only health is updated.
func (s *Service) ReapplyShare(ctx context.Context, shareURI string) error {
	data, err := s.resolveData(ctx, shareURI)
	if err != nil {
		return err
	}
	s.logger.Info("reapplying share", "share_uri", shareURI, "dataset_uri", data.Share.DatasetURI)

	items, err := s.store.ListItemsByHealth(ctx, shareURI, share.HealthPendingReApply, share.ItemShareSucceeded)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		return nil
	}

	acquired, err := s.locks.Acquire(ctx, data.Share.DatasetURI, shareURI)
	if err != nil {
		return err
	}
	if !acquired {
		return &lockError{datasetURI: data.Share.DatasetURI}
	}
	defer s.locks.Release(ctx, data.Share.DatasetURI, shareURI)

	var result *multierror.Error
	for _, item := range items {
		var grant func(context.Context, *share.Data, *share.Item) error
		switch item.Kind {
		case share.KindStorageLocation:
			grant = s.grantFolder
		case share.KindBucket:
			grant = s.grantBucket
		case share.KindTable:
			grant = s.grantTable
		default:
			continue
		}
		health, message := share.HealthHealthy, ""
		if err := grant(ctx, data, item); err != nil {
			s.logger.Error("reapply failed", "item_uri", item.URI, "error", err)
			health, message = share.HealthUnhealthy, err.Error()
			result = multierror.Append(result, err)
		}
		if err := s.store.UpdateItemHealth(ctx, item.URI, health, message, s.now()); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

type lockError struct {
	datasetURI string
}

func (e *lockError) Error() string {
	return "dataset " + e.datasetURI + ": dataset lock not acquired"
}

func (e *lockError) Unwrap() error { return ErrLockNotAcquired }
