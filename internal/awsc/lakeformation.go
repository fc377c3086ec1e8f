// This file defines narrow interfaces for the Lake Formation and Glue
// operations used by the table share manager: permission grant/revoke/list,
// catalog settings, and shared database / resource link lifecycle.
package awsc

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/glue"
	"github.com/aws/aws-sdk-go-v2/service/lakeformation"
)

// GrantPermissionsAPI grants Lake Formation permissions to a principal.
type GrantPermissionsAPI interface {
	GrantPermissions(ctx context.Context, params *lakeformation.GrantPermissionsInput, optFns ...func(*lakeformation.Options)) (*lakeformation.GrantPermissionsOutput, error)
}

// RevokePermissionsAPI revokes Lake Formation permissions from a principal.
type RevokePermissionsAPI interface {
	RevokePermissions(ctx context.Context, params *lakeformation.RevokePermissionsInput, optFns ...func(*lakeformation.Options)) (*lakeformation.RevokePermissionsOutput, error)
}

// ListPermissionsAPI lists effective Lake Formation permissions on a resource.
// Used by drift verification.
type ListPermissionsAPI interface {
	ListPermissions(ctx context.Context, params *lakeformation.ListPermissionsInput, optFns ...func(*lakeformation.Options)) (*lakeformation.ListPermissionsOutput, error)
}

// GetDataLakeSettingsAPI reads catalog-level Lake Formation settings.
type GetDataLakeSettingsAPI interface {
	GetDataLakeSettings(ctx context.Context, params *lakeformation.GetDataLakeSettingsInput, optFns ...func(*lakeformation.Options)) (*lakeformation.GetDataLakeSettingsOutput, error)
}

// PutDataLakeSettingsAPI writes catalog-level Lake Formation settings. Used to
// raise the cross-account permission mode before the first table share.
type PutDataLakeSettingsAPI interface {
	PutDataLakeSettings(ctx context.Context, params *lakeformation.PutDataLakeSettingsInput, optFns ...func(*lakeformation.Options)) (*lakeformation.PutDataLakeSettingsOutput, error)
}

// LakeFormationAPI groups every Lake Formation operation the table share
// manager needs into a single interface for mock injection in tests.
type LakeFormationAPI interface {
	GrantPermissionsAPI
	RevokePermissionsAPI
	ListPermissionsAPI
	GetDataLakeSettingsAPI
	PutDataLakeSettingsAPI
}

// GetDatabaseAPI reads Glue database metadata.
type GetDatabaseAPI interface {
	GetDatabase(ctx context.Context, params *glue.GetDatabaseInput, optFns ...func(*glue.Options)) (*glue.GetDatabaseOutput, error)
}

// CreateDatabaseAPI creates a Glue database (the consumer-side shared db).
type CreateDatabaseAPI interface {
	CreateDatabase(ctx context.Context, params *glue.CreateDatabaseInput, optFns ...func(*glue.Options)) (*glue.CreateDatabaseOutput, error)
}

// DeleteDatabaseAPI deletes a Glue database once no share references it.
type DeleteDatabaseAPI interface {
	DeleteDatabase(ctx context.Context, params *glue.DeleteDatabaseInput, optFns ...func(*glue.Options)) (*glue.DeleteDatabaseOutput, error)
}

// GetTableAPI reads Glue table metadata (source table or resource link).
type GetTableAPI interface {
	GetTable(ctx context.Context, params *glue.GetTableInput, optFns ...func(*glue.Options)) (*glue.GetTableOutput, error)
}

// CreateTableAPI creates a Glue table; the table share manager uses it with a
// TargetTable block to create resource links.
type CreateTableAPI interface {
	CreateTable(ctx context.Context, params *glue.CreateTableInput, optFns ...func(*glue.Options)) (*glue.CreateTableOutput, error)
}

// DeleteTableAPI deletes a Glue table (resource link cleanup).
type DeleteTableAPI interface {
	DeleteTable(ctx context.Context, params *glue.DeleteTableInput, optFns ...func(*glue.Options)) (*glue.DeleteTableOutput, error)
}

// GlueCatalogAPI groups every Glue operation the table share manager needs.
type GlueCatalogAPI interface {
	GetDatabaseAPI
	CreateDatabaseAPI
	DeleteDatabaseAPI
	GetTableAPI
	CreateTableAPI
	DeleteTableAPI
}

var (
	_ GrantPermissionsAPI    = (*lakeformation.Client)(nil)
	_ RevokePermissionsAPI   = (*lakeformation.Client)(nil)
	_ ListPermissionsAPI     = (*lakeformation.Client)(nil)
	_ GetDataLakeSettingsAPI = (*lakeformation.Client)(nil)
	_ PutDataLakeSettingsAPI = (*lakeformation.Client)(nil)
	_ LakeFormationAPI       = (*lakeformation.Client)(nil)
	_ GetDatabaseAPI         = (*glue.Client)(nil)
	_ CreateDatabaseAPI      = (*glue.Client)(nil)
	_ DeleteDatabaseAPI      = (*glue.Client)(nil)
	_ GetTableAPI            = (*glue.Client)(nil)
	_ CreateTableAPI         = (*glue.Client)(nil)
	_ DeleteTableAPI         = (*glue.Client)(nil)
	_ GlueCatalogAPI         = (*glue.Client)(nil)
)
