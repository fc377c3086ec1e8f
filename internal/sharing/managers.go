package sharing

import (
	"context"

	"github.com/nicholasgasior/datashare/internal/manager"
	"github.com/nicholasgasior/datashare/internal/share"
)

// BucketManager is the per-item surface of the bucket share manager the
// orchestrator drives.
type BucketManager interface {
	GrantIAMAccess(ctx context.Context) error
	GrantBucketPolicy(ctx context.Context) error
	GrantKeyPolicy(ctx context.Context) error
	RevokeIAMAccess(ctx context.Context) error
	RevokeBucketPolicy(ctx context.Context) error
	RevokeKeyPolicy(ctx context.Context) error
	CheckIAMAccess(ctx context.Context) error
	CheckBucketPolicy(ctx context.Context) error
	CheckKeyPolicy(ctx context.Context) error
	CheckErrors() error
}

// FolderManager is the per-item surface of the access point share manager.
type FolderManager interface {
	GrantIAMAccess(ctx context.Context) error
	GrantDelegationInBucketPolicy(ctx context.Context) error
	EnsureAccessPoint(ctx context.Context) (string, error)
	GrantAccessPointPolicy(ctx context.Context, accessPointARN string) error
	GrantKeyPolicy(ctx context.Context) error
	RevokeIAMAccess(ctx context.Context) error
	RevokeAccessPointPolicy(ctx context.Context) (remaining bool, err error)
	DeleteAccessPoint(ctx context.Context) error
	RevokeDelegationInBucketPolicy(ctx context.Context) error
	RevokeKeyPolicy(ctx context.Context) error
	CheckIAMAccess(ctx context.Context) error
	CheckDelegationInBucketPolicy(ctx context.Context) error
	CheckAccessPointPolicy(ctx context.Context) error
	CheckKeyPolicy(ctx context.Context) error
	CheckErrors() error
}

// TableManager is the per-item surface of the Lake Formation share manager.
type TableManager interface {
	SourceTableExists(ctx context.Context) (bool, error)
	UpgradeDataLakeSettings(ctx context.Context) error
	RevokeIAMAllowedPrincipals(ctx context.Context) error
	GrantPivotRoleDatabasePermissions(ctx context.Context) error
	GrantPrincipalsToSourceTable(ctx context.Context) error
	EnsureSharedDatabase(ctx context.Context) error
	EnsureResourceLink(ctx context.Context) error
	RevokePrincipalsFromResourceLink(ctx context.Context) error
	RevokePrincipalsFromSourceTable(ctx context.Context) error
	DeleteResourceLink(ctx context.Context) error
	DeleteSharedDatabase(ctx context.Context) error
	CheckSourceTableAccess(ctx context.Context) error
	CheckResourceLink(ctx context.Context) error
	CheckErrors() error
}

// Managers builds one manager per share item. Production wiring constructs
// AWS clients per account pair in cmd; tests inject fakes.
type Managers interface {
	Bucket(data *share.Data, bucket *share.Bucket) BucketManager
	Folder(data *share.Data, location *share.StorageLocation) FolderManager
	Table(data *share.Data, table *share.Table, filter *share.DataFilter) TableManager
}

// The concrete managers satisfy the orchestrator's interfaces.
var (
	_ BucketManager = (*manager.Bucket)(nil)
	_ FolderManager = (*manager.AccessPoint)(nil)
	_ TableManager  = (*manager.TableShare)(nil)
)
