// Package sharing implements the orchestration entry points over a share:
// approve, revoke, verify, and reapply, plus the request lifecycle
// transitions. Each entry point is a unit of work keyed by share URI, safe to
// re-run from the top: the dataset lock serializes AWS mutation per dataset
// and every grant/revoke underneath is idempotent.
package sharing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/nicholasgasior/datashare/internal/alarm"
	"github.com/nicholasgasior/datashare/internal/lock"
	"github.com/nicholasgasior/datashare/internal/share"
	"github.com/nicholasgasior/datashare/internal/store"
)

// ErrLockNotAcquired is returned when the dataset lock stayed contended for
// the whole retry budget. Affected items are already transitioned to their
// failed state when this is returned; no AWS call was made.
var ErrLockNotAcquired = errors.New("dataset lock not acquired")

// Service drives share operations end to end.
type Service struct {
	store    store.Store
	locks    *lock.DatasetLock
	managers Managers
	alarms   *alarm.Service
	logger   hclog.Logger
	now      func() time.Time
}

// New builds the orchestration service.
func New(st store.Store, locks *lock.DatasetLock, managers Managers, alarms *alarm.Service, logger hclog.Logger) *Service {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Service{
		store:    st,
		locks:    locks,
		managers: managers,
		alarms:   alarms,
		logger:   logger.Named("sharing"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// resolveData loads the share and its read-only context in one place, so
// every entry point operates on the same resolved view.
func (s *Service) resolveData(ctx context.Context, shareURI string) (*share.Data, error) {
	obj, err := s.store.GetShare(ctx, shareURI)
	if err != nil {
		return nil, fmt.Errorf("load share %s: %w", shareURI, err)
	}
	ds, err := s.store.GetDataset(ctx, obj.DatasetURI)
	if err != nil {
		return nil, fmt.Errorf("load dataset %s: %w", obj.DatasetURI, err)
	}
	srcEnv, err := s.store.GetEnvironment(ctx, obj.SourceEnvURI)
	if err != nil {
		return nil, fmt.Errorf("load source environment %s: %w", obj.SourceEnvURI, err)
	}
	tgtEnv, err := s.store.GetEnvironment(ctx, obj.TargetEnvURI)
	if err != nil {
		return nil, fmt.Errorf("load target environment %s: %w", obj.TargetEnvURI, err)
	}
	data := &share.Data{
		Share:             obj,
		Dataset:           ds,
		SourceEnvironment: srcEnv,
		TargetEnvironment: tgtEnv,
	}
	if obj.PrincipalType == share.PrincipalGroup {
		grp, err := s.store.GetEnvironmentGroup(ctx, obj.GroupURI, obj.TargetEnvURI)
		if err != nil {
			return nil, fmt.Errorf("load environment group %s: %w", obj.GroupURI, err)
		}
		data.TargetEnvGroup = grp
	}
	return data, nil
}

// transitionShare runs one share-level action and persists the result.
func (s *Service) transitionShare(ctx context.Context, obj *share.Object, action share.Action) error {
	machine := share.NewObjectMachine(obj.Status)
	next, err := machine.Run(action)
	if err != nil {
		return err
	}
	if err := s.store.UpdateShareStatus(ctx, obj.URI, next); err != nil {
		return fmt.Errorf("persist share status %s: %w", next, err)
	}
	s.logger.Debug("share transition", "share_uri", obj.URI, "action", action, "from", obj.Status, "to", next)
	obj.Status = next
	return nil
}

// transitionItem runs one item-level action and persists the result.
func (s *Service) transitionItem(ctx context.Context, item *share.Item, action share.Action) error {
	machine := share.NewItemMachine(item.Status)
	next, err := machine.Run(action)
	if err != nil {
		return err
	}
	if err := s.store.UpdateItemStatus(ctx, item.URI, next); err != nil {
		return fmt.Errorf("persist item status %s: %w", next, err)
	}
	item.Status = next
	return nil
}

// ---------------------------------------------------------------------------
// Request lifecycle
// ---------------------------------------------------------------------------

// SubmitShare moves a draft or rejected share back to Submitted, resetting
// previously rejected or failed items to PendingApproval.
func (s *Service) SubmitShare(ctx context.Context, shareURI string) error {
	obj, err := s.store.GetShare(ctx, shareURI)
	if err != nil {
		return err
	}
	if err := s.transitionShare(ctx, obj, share.ActionSubmit); err != nil {
		return err
	}
	return s.transitionItems(ctx, shareURI, share.ActionSubmit)
}

// ApproveRequest approves a submitted share; its pending items become
// Share_Approved and wait for ApproveShare to process them.
func (s *Service) ApproveRequest(ctx context.Context, shareURI string) error {
	obj, err := s.store.GetShare(ctx, shareURI)
	if err != nil {
		return err
	}
	if err := s.transitionShare(ctx, obj, share.ActionApprove); err != nil {
		return err
	}
	return s.transitionItems(ctx, shareURI, share.ActionApprove)
}

// RejectRequest rejects a submitted share; pending items become
// Share_Rejected.
func (s *Service) RejectRequest(ctx context.Context, shareURI string) error {
	obj, err := s.store.GetShare(ctx, shareURI)
	if err != nil {
		return err
	}
	if err := s.transitionShare(ctx, obj, share.ActionReject); err != nil {
		return err
	}
	return s.transitionItems(ctx, shareURI, share.ActionReject)
}

// RequestRevoke flags the given succeeded items (all of them when itemURIs is
// empty) for revocation and moves the share to Revoked, ready for
// RevokeShare.
func (s *Service) RequestRevoke(ctx context.Context, shareURI string, itemURIs []string) error {
	obj, err := s.store.GetShare(ctx, shareURI)
	if err != nil {
		return err
	}
	if err := s.transitionShare(ctx, obj, share.ActionRevokeItems); err != nil {
		return err
	}
	if len(itemURIs) == 0 {
		items, err := s.store.ListItems(ctx, shareURI, "", share.ItemShareSucceeded)
		if err != nil {
			return err
		}
		for _, item := range items {
			itemURIs = append(itemURIs, item.URI)
		}
	}
	for _, uri := range itemURIs {
		item, err := s.store.GetItem(ctx, uri)
		if err != nil {
			return err
		}
		if err := s.transitionItem(ctx, item, share.ActionRevokeItems); err != nil {
			return err
		}
	}
	return nil
}

// DeleteShare soft-deletes a share once no item backs a live AWS grant.
func (s *Service) DeleteShare(ctx context.Context, shareURI string) error {
	obj, err := s.store.GetShare(ctx, shareURI)
	if err != nil {
		return err
	}
	items, err := s.store.ListItems(ctx, shareURI, "", "")
	if err != nil {
		return err
	}
	for _, item := range items {
		if item.InSharedState() {
			return fmt.Errorf("share %s has item %s still in state %s", shareURI, item.URI, item.Status)
		}
	}
	machine := share.NewObjectMachine(obj.Status)
	if _, err := machine.Run(share.ActionDelete); err != nil {
		return err
	}
	return s.store.DeleteShare(ctx, shareURI)
}

// transitionItems applies action to every item of the share, skipping items
// whose state the action lists as a tolerated no-op.
func (s *Service) transitionItems(ctx context.Context, shareURI string, action share.Action) error {
	items, err := s.store.ListItems(ctx, shareURI, "", "")
	if err != nil {
		return err
	}
	for _, item := range items {
		if item.Status == share.ItemDeleted {
			continue
		}
		if err := s.transitionItem(ctx, item, action); err != nil {
			return err
		}
	}
	return nil
}

// failLockAcquisition applies the AcquireLockFailure side entry: every item
// still waiting in fromStatus fails without any AWS call, and the share
// finishes.
func (s *Service) failLockAcquisition(ctx context.Context, data *share.Data, fromStatus, toStatus share.ItemStatus) error {
	n, err := s.store.UpdateItemStatusBatch(ctx, data.Share.URI, fromStatus, toStatus)
	if err != nil {
		return err
	}
	s.logger.Error("dataset lock not acquired, failing items",
		"share_uri", data.Share.URI, "dataset_uri", data.Share.DatasetURI, "items", n)
	if err := s.transitionShare(ctx, data.Share, share.ActionAcquireLockFailure); err != nil {
		return err
	}
	return fmt.Errorf("dataset %s: %w", data.Share.DatasetURI, ErrLockNotAcquired)
}

// itemFilter resolves the optional data filter attached to a table item.
func (s *Service) itemFilter(ctx context.Context, item *share.Item) (*share.DataFilter, error) {
	if item.DataFilterURI == "" {
		return nil, nil
	}
	filter, err := s.store.GetDataFilter(ctx, item.URI)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	return filter, err
}
