package sharing

import (
	"context"

	"github.com/hashicorp/go-multierror"

	"github.com/nicholasgasior/datashare/internal/share"
)

// RevokeShare processes every revoke-approved item of the share, mirroring
// ApproveShare's ordering and isolation. Resource-level cleanup (access
// points, resource links, the shared database, the delegation statement)
// only happens when no other active share still needs the resource. The
// share finishes via FinishPending when items remain pending, Finish
// otherwise.
func (s *Service) RevokeShare(ctx context.Context, shareURI string) error {
	data, err := s.resolveData(ctx, shareURI)
	if err != nil {
		return err
	}
	s.logger.Info("processing share revocation",
		"share_uri", shareURI, "dataset_uri", data.Share.DatasetURI, "principal", data.Share.PrincipalRoleName)

	if err := s.transitionShare(ctx, data.Share, share.ActionStart); err != nil {
		return err
	}

	acquired, err := s.locks.Acquire(ctx, data.Share.DatasetURI, shareURI)
	if err != nil {
		return err
	}
	if !acquired {
		return s.failLockAcquisition(ctx, data, share.ItemRevokeApproved, share.ItemRevokeFailed)
	}
	defer s.locks.Release(ctx, data.Share.DatasetURI, shareURI)

	var result *multierror.Error
	result = multierror.Append(result, s.processItems(ctx, data, share.KindStorageLocation, true, s.revokeFolder))
	result = multierror.Append(result, s.processItems(ctx, data, share.KindBucket, true, s.revokeBucket))
	result = multierror.Append(result, s.revokeTables(ctx, data))

	finish := share.ActionFinish
	pending, err := s.store.HasPendingItems(ctx, shareURI)
	if err != nil {
		result = multierror.Append(result, err)
	} else if pending {
		finish = share.ActionFinishPending
	}
	if err := s.transitionShare(ctx, data.Share, finish); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

// revokeFolder removes one folder share. The access point and the bucket
// delegation statement are torn down only when the revoked principal was the
// access point's last requester and no other share still covers the folder.
func (s *Service) revokeFolder(ctx context.Context, data *share.Data, item *share.Item) error {
	location, err := s.store.GetStorageLocation(ctx, item.TargetURI)
	if err != nil {
		return err
	}
	mgr := s.managers.Folder(data, location)

	remaining, err := mgr.RevokeAccessPointPolicy(ctx)
	if err != nil {
		return err
	}
	if err := mgr.RevokeIAMAccess(ctx); err != nil {
		return err
	}
	if err := mgr.RevokeKeyPolicy(ctx); err != nil {
		return err
	}
	if remaining {
		return nil
	}
	if err := mgr.DeleteAccessPoint(ctx); err != nil {
		return err
	}
	others, err := s.store.CountOtherSharedItems(ctx, item.TargetURI, data.Share.TargetEnvURI, data.Share.URI)
	if err != nil {
		return err
	}
	if others == 0 {
		return mgr.RevokeDelegationInBucketPolicy(ctx)
	}
	return nil
}

// revokeBucket removes one bucket share. All statements are principal-scoped
// so no resource-level cleanup applies.
func (s *Service) revokeBucket(ctx context.Context, data *share.Data, item *share.Item) error {
	bucket, err := s.store.GetBucket(ctx, item.TargetURI)
	if err != nil {
		return err
	}
	mgr := s.managers.Bucket(data, bucket)

	if err := mgr.RevokeBucketPolicy(ctx); err != nil {
		return err
	}
	if err := mgr.RevokeIAMAccess(ctx); err != nil {
		return err
	}
	return mgr.RevokeKeyPolicy(ctx)
}

// revokeTables revokes the share's table items, then deletes the shared
// database when the revocation left it empty: no table of this share still
// shared, and no other share's table items live in the target environment.
func (s *Service) revokeTables(ctx context.Context, data *share.Data) error {
	err := s.processItems(ctx, data, share.KindTable, true, s.revokeTable)

	var result *multierror.Error
	result = multierror.Append(result, err)
	if cleanupErr := s.cleanupSharedDatabase(ctx, data); cleanupErr != nil {
		result = multierror.Append(result, cleanupErr)
	}
	return result.ErrorOrNil()
}

// revokeTable removes one table share: resource link grants first, then
// source table grants, then the resource link itself when no other share
// needs it. Cleanup order matters: deleting the link before revoking grants
// would orphan permissions.
func (s *Service) revokeTable(ctx context.Context, data *share.Data, item *share.Item) error {
	table, err := s.store.GetTable(ctx, item.TargetURI)
	if err != nil {
		return err
	}
	filter, err := s.itemFilter(ctx, item)
	if err != nil {
		return err
	}
	mgr := s.managers.Table(data, table, filter)

	if err := mgr.RevokePrincipalsFromResourceLink(ctx); err != nil {
		return err
	}
	if err := mgr.RevokePrincipalsFromSourceTable(ctx); err != nil {
		return err
	}
	others, err := s.store.CountOtherSharedItems(ctx, item.TargetURI, data.Share.TargetEnvURI, data.Share.URI)
	if err != nil {
		return err
	}
	if others == 0 {
		return mgr.DeleteResourceLink(ctx)
	}
	return nil
}

// cleanupSharedDatabase drops the consumer-side shared database once the
// share holds no live table grants and no other share's table items remain
// shared into the environment.
func (s *Service) cleanupSharedDatabase(ctx context.Context, data *share.Data) error {
	revoked, err := s.store.ListItems(ctx, data.Share.URI, share.KindTable, share.ItemRevokeSucceeded)
	if err != nil {
		return err
	}
	if len(revoked) == 0 {
		return nil
	}
	stillShared, err := s.store.ListItems(ctx, data.Share.URI, share.KindTable, share.ItemShareSucceeded)
	if err != nil {
		return err
	}
	if len(stillShared) > 0 {
		return nil
	}
	for _, item := range revoked {
		others, err := s.store.CountOtherSharedItems(ctx, item.TargetURI, data.Share.TargetEnvURI, data.Share.URI)
		if err != nil {
			return err
		}
		if others > 0 {
			return nil
		}
	}

	table, err := s.store.GetTable(ctx, revoked[0].TargetURI)
	if err != nil {
		return err
	}
	mgr := s.managers.Table(data, table, nil)
	return mgr.DeleteSharedDatabase(ctx)
}
