package manager

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/glue"
	gluetypes "github.com/aws/aws-sdk-go-v2/service/glue/types"
	"github.com/aws/aws-sdk-go-v2/service/lakeformation"
	lftypes "github.com/aws/aws-sdk-go-v2/service/lakeformation/types"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"

	"github.com/nicholasgasior/datashare/internal/awsc"
	"github.com/nicholasgasior/datashare/internal/share"
)

// crossAccountVersion is the catalog settings parameter value required for
// cross-account grants to named principals instead of account ids.
const crossAccountVersion = "3"

// iamAllowedPrincipals is the Lake Formation pseudo-principal carrying
// IAM-only access on catalogs that never opted into LF permissions.
const iamAllowedPrincipals = "IAM_ALLOWED_PRINCIPALS"

// TableClients bundles the AWS surface the table share manager touches,
// split by account: source holds the dataset catalog, target holds the
// requester's shared database and resource links.
type TableClients struct {
	SourceLF   awsc.LakeFormationAPI
	SourceGlue awsc.GlueCatalogAPI
	TargetLF   awsc.LakeFormationAPI
	TargetGlue awsc.GlueCatalogAPI
}

// TableShare manages Glue table shares through Lake Formation: permissions
// on the source table, a shared database plus resource link in the target
// account, and optional row/column filter grants.
type TableShare struct {
	clients       TableClients
	data          *share.Data
	table         *share.Table
	filter        *share.DataFilter
	pivotRoleName string
	logger        hclog.Logger

	checkErrs *multierror.Error
}

// NewTableShare builds a manager for one table share item. filter is nil for
// unfiltered shares.
func NewTableShare(clients TableClients, data *share.Data, table *share.Table, filter *share.DataFilter, pivotRoleName string, logger hclog.Logger) *TableShare {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &TableShare{
		clients:       clients,
		data:          data,
		table:         table,
		filter:        filter,
		pivotRoleName: pivotRoleName,
		logger:        logger.With("table", table.Name, "share_uri", data.Share.URI),
	}
}

// CheckErrors returns the drift findings accumulated by the Check methods,
// nil when every check passed.
func (m *TableShare) CheckErrors() error {
	return m.checkErrs.ErrorOrNil()
}

func (m *TableShare) principalARN() string {
	return m.data.PrincipalRoleARN()
}

func (m *TableShare) pivotRoleARN(accountID string) string {
	return fmt.Sprintf("arn:aws:iam::%s:role/%s", accountID, m.pivotRoleName)
}

func (m *TableShare) sourceTableResource() *lftypes.Resource {
	return &lftypes.Resource{
		Table: &lftypes.TableResource{
			CatalogId:    aws.String(m.table.AccountID),
			DatabaseName: aws.String(m.table.DatabaseName),
			Name:         aws.String(m.table.Name),
		},
	}
}

func (m *TableShare) resourceLinkResource() *lftypes.Resource {
	return &lftypes.Resource{
		Table: &lftypes.TableResource{
			CatalogId:    aws.String(m.data.TargetEnvironment.AccountID),
			DatabaseName: aws.String(m.data.SharedDatabaseName()),
			Name:         aws.String(m.table.Name),
		},
	}
}

func (m *TableShare) sharedDatabaseResource() *lftypes.Resource {
	return &lftypes.Resource{
		Database: &lftypes.DatabaseResource{
			CatalogId: aws.String(m.data.TargetEnvironment.AccountID),
			Name:      aws.String(m.data.SharedDatabaseName()),
		},
	}
}

func principalOf(arn string) *lftypes.DataLakePrincipal {
	return &lftypes.DataLakePrincipal{DataLakePrincipalIdentifier: aws.String(arn)}
}

// ---------------------------------------------------------------------------
// Source account preparation
// ---------------------------------------------------------------------------

// SourceTableExists reports whether the shared table is still present in the
// source Glue catalog.
func (m *TableShare) SourceTableExists(ctx context.Context) (bool, error) {
	_, err := m.clients.SourceGlue.GetTable(ctx, &glue.GetTableInput{
		CatalogId:    aws.String(m.table.AccountID),
		DatabaseName: aws.String(m.table.DatabaseName),
		Name:         aws.String(m.table.Name),
	})
	if awsc.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get table %s.%s: %w", m.table.DatabaseName, m.table.Name, err)
	}
	return true, nil
}

// UpgradeDataLakeSettings raises the source catalog's cross-account grant
// version. Grants to role principals in another account need version 3; the
// upgrade is a no-op once applied.
func (m *TableShare) UpgradeDataLakeSettings(ctx context.Context) error {
	out, err := m.clients.SourceLF.GetDataLakeSettings(ctx, &lakeformation.GetDataLakeSettingsInput{
		CatalogId: aws.String(m.table.AccountID),
	})
	if err != nil {
		return fmt.Errorf("get data lake settings: %w", err)
	}
	settings := out.DataLakeSettings
	if settings == nil {
		settings = &lftypes.DataLakeSettings{}
	}
	if settings.Parameters == nil {
		settings.Parameters = map[string]string{}
	}
	if settings.Parameters["CROSS_ACCOUNT_VERSION"] == crossAccountVersion {
		return nil
	}
	settings.Parameters["CROSS_ACCOUNT_VERSION"] = crossAccountVersion

	m.logger.Info("upgrading cross-account data lake settings", "account", m.table.AccountID)
	_, err = m.clients.SourceLF.PutDataLakeSettings(ctx, &lakeformation.PutDataLakeSettingsInput{
		CatalogId:        aws.String(m.table.AccountID),
		DataLakeSettings: settings,
	})
	if err != nil {
		return fmt.Errorf("put data lake settings: %w", err)
	}
	return nil
}

// RevokeIAMAllowedPrincipals removes the legacy IAM passthrough grant from
// the source table so Lake Formation permissions become authoritative.
// Absent grants are ignored.
func (m *TableShare) RevokeIAMAllowedPrincipals(ctx context.Context) error {
	_, err := m.clients.SourceLF.RevokePermissions(ctx, &lakeformation.RevokePermissionsInput{
		CatalogId:   aws.String(m.table.AccountID),
		Principal:   principalOf(iamAllowedPrincipals),
		Resource:    m.sourceTableResource(),
		Permissions: []lftypes.Permission{lftypes.PermissionAll},
	})
	if err != nil && !awsc.IsNotFound(err) && !awsc.IsErrorCode(err, "InvalidInputException") {
		return fmt.Errorf("revoke IAM allowed principals on %s: %w", m.table.Name, err)
	}
	return nil
}

// GrantPivotRoleDatabasePermissions keeps the engine's delegation role able
// to administer the source database after IAM passthrough is revoked.
func (m *TableShare) GrantPivotRoleDatabasePermissions(ctx context.Context) error {
	_, err := m.clients.SourceLF.GrantPermissions(ctx, &lakeformation.GrantPermissionsInput{
		CatalogId: aws.String(m.table.AccountID),
		Principal: principalOf(m.pivotRoleARN(m.table.AccountID)),
		Resource: &lftypes.Resource{
			Database: &lftypes.DatabaseResource{
				CatalogId: aws.String(m.table.AccountID),
				Name:      aws.String(m.table.DatabaseName),
			},
		},
		Permissions: []lftypes.Permission{lftypes.PermissionAll},
	})
	if err != nil && !awsc.IsAlreadyExists(err) {
		return fmt.Errorf("grant pivot role on database %s: %w", m.table.DatabaseName, err)
	}
	return nil
}

// GrantPrincipalsToSourceTable grants the share's permission levels on the
// source table to the principal role. Cross-account shares carry the grant
// option so the target account can cascade access. Filtered shares grant
// SELECT through the named data filters instead of the whole table.
func (m *TableShare) GrantPrincipalsToSourceTable(ctx context.Context) error {
	m.logger.Info("granting principal on source table")
	perms := share.LakeFormationPermissions(m.data.Share.Permissions, share.LFScopeTable)

	if m.filter != nil {
		return m.grantDataFilters(ctx)
	}

	input := &lakeformation.GrantPermissionsInput{
		CatalogId:   aws.String(m.table.AccountID),
		Principal:   principalOf(m.principalARN()),
		Resource:    m.sourceTableResource(),
		Permissions: toLFPermissions(perms),
	}
	if m.data.CrossAccount() {
		input.PermissionsWithGrantOption = toLFPermissions(perms)
	}
	_, err := m.clients.SourceLF.GrantPermissions(ctx, input)
	if err != nil && !awsc.IsAlreadyExists(err) {
		return fmt.Errorf("grant principal on table %s: %w", m.table.Name, err)
	}
	return nil
}

// grantDataFilters grants SELECT through each named row/column filter, plus
// DESCRIBE on the table so the resource link stays resolvable.
func (m *TableShare) grantDataFilters(ctx context.Context) error {
	_, err := m.clients.SourceLF.GrantPermissions(ctx, &lakeformation.GrantPermissionsInput{
		CatalogId:   aws.String(m.table.AccountID),
		Principal:   principalOf(m.principalARN()),
		Resource:    m.sourceTableResource(),
		Permissions: []lftypes.Permission{lftypes.PermissionDescribe},
	})
	if err != nil && !awsc.IsAlreadyExists(err) {
		return fmt.Errorf("grant describe on table %s: %w", m.table.Name, err)
	}
	for _, name := range m.filter.FilterNames {
		_, err := m.clients.SourceLF.GrantPermissions(ctx, &lakeformation.GrantPermissionsInput{
			CatalogId:   aws.String(m.table.AccountID),
			Principal:   principalOf(m.principalARN()),
			Resource:    m.dataFilterResource(name),
			Permissions: []lftypes.Permission{lftypes.PermissionSelect},
		})
		if err != nil && !awsc.IsAlreadyExists(err) {
			return fmt.Errorf("grant data filter %s: %w", name, err)
		}
	}
	return nil
}

func (m *TableShare) dataFilterResource(name string) *lftypes.Resource {
	return &lftypes.Resource{
		DataCellsFilter: &lftypes.DataCellsFilterResource{
			TableCatalogId: aws.String(m.table.AccountID),
			DatabaseName:   aws.String(m.table.DatabaseName),
			TableName:      aws.String(m.table.Name),
			Name:           aws.String(name),
		},
	}
}

// ---------------------------------------------------------------------------
// Target account: shared database and resource link
// ---------------------------------------------------------------------------

// EnsureSharedDatabase creates the consumer-side shared database when
// missing and grants the principal DESCRIBE plus the pivot role full
// control over it.
func (m *TableShare) EnsureSharedDatabase(ctx context.Context) error {
	dbName := m.data.SharedDatabaseName()
	targetAccount := m.data.TargetEnvironment.AccountID

	_, err := m.clients.TargetGlue.GetDatabase(ctx, &glue.GetDatabaseInput{
		CatalogId: aws.String(targetAccount),
		Name:      aws.String(dbName),
	})
	if awsc.IsNotFound(err) {
		m.logger.Info("creating shared database", "database", dbName)
		_, err = m.clients.TargetGlue.CreateDatabase(ctx, &glue.CreateDatabaseInput{
			CatalogId: aws.String(targetAccount),
			DatabaseInput: &gluetypes.DatabaseInput{
				Name: aws.String(dbName),
			},
		})
		if err != nil && !awsc.IsAlreadyExists(err) {
			return fmt.Errorf("create shared database %s: %w", dbName, err)
		}
	} else if err != nil {
		return fmt.Errorf("get shared database %s: %w", dbName, err)
	}

	_, err = m.clients.TargetLF.GrantPermissions(ctx, &lakeformation.GrantPermissionsInput{
		CatalogId:   aws.String(targetAccount),
		Principal:   principalOf(m.pivotRoleARN(targetAccount)),
		Resource:    m.sharedDatabaseResource(),
		Permissions: []lftypes.Permission{lftypes.PermissionAll},
	})
	if err != nil && !awsc.IsAlreadyExists(err) {
		return fmt.Errorf("grant pivot role on shared database %s: %w", dbName, err)
	}

	_, err = m.clients.TargetLF.GrantPermissions(ctx, &lakeformation.GrantPermissionsInput{
		CatalogId:   aws.String(targetAccount),
		Principal:   principalOf(m.principalARN()),
		Resource:    m.sharedDatabaseResource(),
		Permissions: toLFPermissions(share.LakeFormationPermissions(m.data.Share.Permissions, share.LFScopeDatabase)),
	})
	if err != nil && !awsc.IsAlreadyExists(err) {
		return fmt.Errorf("grant principal on shared database %s: %w", dbName, err)
	}
	return nil
}

// EnsureResourceLink creates the resource link table pointing at the source
// table and grants the principal DESCRIBE on it.
func (m *TableShare) EnsureResourceLink(ctx context.Context) error {
	dbName := m.data.SharedDatabaseName()
	targetAccount := m.data.TargetEnvironment.AccountID

	_, err := m.clients.TargetGlue.GetTable(ctx, &glue.GetTableInput{
		CatalogId:    aws.String(targetAccount),
		DatabaseName: aws.String(dbName),
		Name:         aws.String(m.table.Name),
	})
	if awsc.IsNotFound(err) {
		m.logger.Info("creating resource link", "database", dbName)
		_, err = m.clients.TargetGlue.CreateTable(ctx, &glue.CreateTableInput{
			CatalogId:    aws.String(targetAccount),
			DatabaseName: aws.String(dbName),
			TableInput: &gluetypes.TableInput{
				Name: aws.String(m.table.Name),
				TargetTable: &gluetypes.TableIdentifier{
					CatalogId:    aws.String(m.table.AccountID),
					DatabaseName: aws.String(m.table.DatabaseName),
					Name:         aws.String(m.table.Name),
				},
			},
		})
		if err != nil && !awsc.IsAlreadyExists(err) {
			return fmt.Errorf("create resource link %s.%s: %w", dbName, m.table.Name, err)
		}
	} else if err != nil {
		return fmt.Errorf("get resource link %s.%s: %w", dbName, m.table.Name, err)
	}

	_, err = m.clients.TargetLF.GrantPermissions(ctx, &lakeformation.GrantPermissionsInput{
		CatalogId:   aws.String(targetAccount),
		Principal:   principalOf(m.principalARN()),
		Resource:    m.resourceLinkResource(),
		Permissions: toLFPermissions(share.LakeFormationPermissions(m.data.Share.Permissions, share.LFScopeResourceLink)),
	})
	if err != nil && !awsc.IsAlreadyExists(err) {
		return fmt.Errorf("grant principal on resource link %s: %w", m.table.Name, err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Revocation
// ---------------------------------------------------------------------------

// RevokePrincipalsFromSourceTable removes the principal's grants on the
// source table, or its data filter grants for filtered shares.
func (m *TableShare) RevokePrincipalsFromSourceTable(ctx context.Context) error {
	m.logger.Info("revoking principal on source table")
	if m.filter != nil {
		return m.revokeDataFilters(ctx)
	}
	perms := share.LakeFormationPermissions(m.data.Share.Permissions, share.LFScopeTable)
	input := &lakeformation.RevokePermissionsInput{
		CatalogId:   aws.String(m.table.AccountID),
		Principal:   principalOf(m.principalARN()),
		Resource:    m.sourceTableResource(),
		Permissions: toLFPermissions(perms),
	}
	if m.data.CrossAccount() {
		input.PermissionsWithGrantOption = toLFPermissions(perms)
	}
	_, err := m.clients.SourceLF.RevokePermissions(ctx, input)
	if err != nil && !awsc.IsNotFound(err) && !awsc.IsErrorCode(err, "InvalidInputException") {
		return fmt.Errorf("revoke principal on table %s: %w", m.table.Name, err)
	}
	return nil
}

func (m *TableShare) revokeDataFilters(ctx context.Context) error {
	for _, name := range m.filter.FilterNames {
		_, err := m.clients.SourceLF.RevokePermissions(ctx, &lakeformation.RevokePermissionsInput{
			CatalogId:   aws.String(m.table.AccountID),
			Principal:   principalOf(m.principalARN()),
			Resource:    m.dataFilterResource(name),
			Permissions: []lftypes.Permission{lftypes.PermissionSelect},
		})
		if err != nil && !awsc.IsNotFound(err) && !awsc.IsErrorCode(err, "InvalidInputException") {
			return fmt.Errorf("revoke data filter %s: %w", name, err)
		}
	}
	_, err := m.clients.SourceLF.RevokePermissions(ctx, &lakeformation.RevokePermissionsInput{
		CatalogId:   aws.String(m.table.AccountID),
		Principal:   principalOf(m.principalARN()),
		Resource:    m.sourceTableResource(),
		Permissions: []lftypes.Permission{lftypes.PermissionDescribe},
	})
	if err != nil && !awsc.IsNotFound(err) && !awsc.IsErrorCode(err, "InvalidInputException") {
		return fmt.Errorf("revoke describe on table %s: %w", m.table.Name, err)
	}
	return nil
}

// RevokePrincipalsFromResourceLink removes the principal's grants on the
// resource link and the shared database.
func (m *TableShare) RevokePrincipalsFromResourceLink(ctx context.Context) error {
	targetAccount := m.data.TargetEnvironment.AccountID
	_, err := m.clients.TargetLF.RevokePermissions(ctx, &lakeformation.RevokePermissionsInput{
		CatalogId:   aws.String(targetAccount),
		Principal:   principalOf(m.principalARN()),
		Resource:    m.resourceLinkResource(),
		Permissions: toLFPermissions(share.LakeFormationPermissions(m.data.Share.Permissions, share.LFScopeResourceLink)),
	})
	if err != nil && !awsc.IsNotFound(err) && !awsc.IsErrorCode(err, "InvalidInputException") {
		return fmt.Errorf("revoke principal on resource link %s: %w", m.table.Name, err)
	}
	return nil
}

// DeleteResourceLink removes the resource link table. Absent links are
// ignored so retried revokes stay idempotent.
func (m *TableShare) DeleteResourceLink(ctx context.Context) error {
	m.logger.Info("deleting resource link")
	_, err := m.clients.TargetGlue.DeleteTable(ctx, &glue.DeleteTableInput{
		CatalogId:    aws.String(m.data.TargetEnvironment.AccountID),
		DatabaseName: aws.String(m.data.SharedDatabaseName()),
		Name:         aws.String(m.table.Name),
	})
	if awsc.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("delete resource link %s: %w", m.table.Name, err)
	}
	return nil
}

// DeleteSharedDatabase removes the consumer-side shared database. Callers
// invoke it only when no other share still references the database.
func (m *TableShare) DeleteSharedDatabase(ctx context.Context) error {
	dbName := m.data.SharedDatabaseName()
	m.logger.Info("deleting shared database", "database", dbName)
	_, err := m.clients.TargetGlue.DeleteDatabase(ctx, &glue.DeleteDatabaseInput{
		CatalogId: aws.String(m.data.TargetEnvironment.AccountID),
		Name:      aws.String(dbName),
	})
	if awsc.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("delete shared database %s: %w", dbName, err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Verification
// ---------------------------------------------------------------------------

// CheckSourceTableAccess verifies the source table exists and the principal
// holds its expected Lake Formation grants.
func (m *TableShare) CheckSourceTableAccess(ctx context.Context) error {
	exists, err := m.SourceTableExists(ctx)
	if err != nil {
		return err
	}
	if !exists {
		m.checkErrs = multierror.Append(m.checkErrs,
			doesNotExist("source table", m.table.DatabaseName+"."+m.table.Name))
		return nil
	}

	want := share.LakeFormationPermissions(m.data.Share.Permissions, share.LFScopeTable)
	if m.filter != nil {
		want = share.LakeFormationPermissions(m.data.Share.Permissions, share.LFScopeFilters)
		for _, name := range m.filter.FilterNames {
			ok, err := m.hasPermissions(ctx, m.clients.SourceLF, m.table.AccountID, m.dataFilterResource(name), want)
			if err != nil {
				return err
			}
			if !ok {
				m.checkErrs = multierror.Append(m.checkErrs,
					missingPermission(m.principalARN(), "Lake Formation grant", "SELECT", "data filter", name))
			}
		}
		return nil
	}

	ok, err := m.hasPermissions(ctx, m.clients.SourceLF, m.table.AccountID, m.sourceTableResource(), want)
	if err != nil {
		return err
	}
	if !ok {
		m.checkErrs = multierror.Append(m.checkErrs,
			missingPermission(m.principalARN(), "Lake Formation grant", fmt.Sprint(want), "table", m.table.Name))
	}
	return nil
}

// CheckResourceLink verifies the shared database, the resource link and the
// principal's grants on both.
func (m *TableShare) CheckResourceLink(ctx context.Context) error {
	dbName := m.data.SharedDatabaseName()
	targetAccount := m.data.TargetEnvironment.AccountID

	_, err := m.clients.TargetGlue.GetDatabase(ctx, &glue.GetDatabaseInput{
		CatalogId: aws.String(targetAccount),
		Name:      aws.String(dbName),
	})
	if awsc.IsNotFound(err) {
		m.checkErrs = multierror.Append(m.checkErrs, doesNotExist("shared database", dbName))
		return nil
	}
	if err != nil {
		return fmt.Errorf("get shared database %s: %w", dbName, err)
	}

	_, err = m.clients.TargetGlue.GetTable(ctx, &glue.GetTableInput{
		CatalogId:    aws.String(targetAccount),
		DatabaseName: aws.String(dbName),
		Name:         aws.String(m.table.Name),
	})
	if awsc.IsNotFound(err) {
		m.checkErrs = multierror.Append(m.checkErrs,
			doesNotExist("resource link", dbName+"."+m.table.Name))
		return nil
	}
	if err != nil {
		return fmt.Errorf("get resource link %s.%s: %w", dbName, m.table.Name, err)
	}

	want := share.LakeFormationPermissions(m.data.Share.Permissions, share.LFScopeResourceLink)
	ok, err := m.hasPermissions(ctx, m.clients.TargetLF, targetAccount, m.resourceLinkResource(), want)
	if err != nil {
		return err
	}
	if !ok {
		m.checkErrs = multierror.Append(m.checkErrs,
			missingPermission(m.principalARN(), "Lake Formation grant", "DESCRIBE", "resource link", m.table.Name))
	}
	return nil
}

// hasPermissions reports whether the principal holds every wanted permission
// on the resource, paging through ListPermissions.
func (m *TableShare) hasPermissions(ctx context.Context, api awsc.ListPermissionsAPI, catalogID string, resource *lftypes.Resource, want []string) (bool, error) {
	held := make(map[string]bool)
	var nextToken *string
	for {
		out, err := api.ListPermissions(ctx, &lakeformation.ListPermissionsInput{
			CatalogId: aws.String(catalogID),
			Resource:  resource,
			Principal: principalOf(m.principalARN()),
			NextToken: nextToken,
		})
		if err != nil {
			return false, fmt.Errorf("list permissions: %w", err)
		}
		for _, p := range out.PrincipalResourcePermissions {
			for _, perm := range p.Permissions {
				held[string(perm)] = true
			}
		}
		if out.NextToken == nil {
			break
		}
		nextToken = out.NextToken
	}
	for _, w := range want {
		if !held[w] {
			return false, nil
		}
	}
	return true, nil
}

// toLFPermissions converts the permission strings produced by
// share.LakeFormationPermissions into SDK enum values.
func toLFPermissions(perms []string) []lftypes.Permission {
	out := make([]lftypes.Permission, 0, len(perms))
	for _, p := range perms {
		out = append(out, lftypes.Permission(p))
	}
	return out
}
