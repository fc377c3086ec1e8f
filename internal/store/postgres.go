package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/nicholasgasior/datashare/internal/share"
)

// Postgres is the production Store. The dataset lock uses
// SELECT ... FOR UPDATE so that concurrent TryAcquireLock calls serialize on
// the lock row and exactly one observes is_locked=false.
type Postgres struct {
	db *sql.DB
}

// NewPostgres opens a Store over an existing database handle. The caller owns
// the handle's lifecycle.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// OpenPostgres connects with the lib/pq driver and verifies the connection.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Postgres{db: db}, nil
}

// Close releases the underlying handle.
func (p *Postgres) Close() error { return p.db.Close() }

var _ Store = (*Postgres)(nil)

// Schema is the DDL for the sharing tables. Applied by `datashare migrate`.
const Schema = `
CREATE TABLE IF NOT EXISTS share_object (
    uri                 TEXT PRIMARY KEY,
    dataset_uri         TEXT NOT NULL,
    source_env_uri      TEXT NOT NULL,
    target_env_uri      TEXT NOT NULL,
    group_uri           TEXT NOT NULL,
    principal_id        TEXT NOT NULL,
    principal_type      TEXT NOT NULL,
    principal_role_name TEXT NOT NULL,
    permissions         TEXT[] NOT NULL,
    status              TEXT NOT NULL,
    request_purpose     TEXT NOT NULL DEFAULT '',
    reject_purpose      TEXT NOT NULL DEFAULT '',
    owner               TEXT NOT NULL,
    created             TIMESTAMPTZ NOT NULL,
    updated             TIMESTAMPTZ NOT NULL,
    deleted             TIMESTAMPTZ
);
CREATE UNIQUE INDEX IF NOT EXISTS share_object_principal_unique
    ON share_object (dataset_uri, target_env_uri, principal_id)
    WHERE deleted IS NULL;

CREATE TABLE IF NOT EXISTS share_object_item (
    uri             TEXT PRIMARY KEY,
    share_uri       TEXT NOT NULL REFERENCES share_object (uri),
    kind            TEXT NOT NULL,
    target_uri      TEXT NOT NULL,
    target_name     TEXT NOT NULL,
    status          TEXT NOT NULL,
    health          TEXT NOT NULL,
    health_message  TEXT NOT NULL DEFAULT '',
    last_verified   TIMESTAMPTZ,
    data_filter_uri TEXT NOT NULL DEFAULT '',
    created         TIMESTAMPTZ NOT NULL,
    updated         TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS share_object_item_share ON share_object_item (share_uri, status);

CREATE TABLE IF NOT EXISTS share_object_item_data_filter (
    uri          TEXT PRIMARY KEY,
    item_uri     TEXT NOT NULL REFERENCES share_object_item (uri),
    filter_names TEXT[] NOT NULL
);

CREATE TABLE IF NOT EXISTS dataset_lock (
    dataset_uri TEXT PRIMARY KEY,
    is_locked   BOOLEAN NOT NULL DEFAULT FALSE,
    acquired_by TEXT NOT NULL DEFAULT ''
);
`

// Migrate applies the schema.
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func permissionsToStrings(perms []share.Permission) []string {
	out := make([]string, len(perms))
	for i, p := range perms {
		out[i] = string(p)
	}
	return out
}

func stringsToPermissions(raw []string) []share.Permission {
	out := make([]share.Permission, len(raw))
	for i, s := range raw {
		out[i] = share.Permission(s)
	}
	return out
}

func (p *Postgres) CreateShare(ctx context.Context, obj *share.Object) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO share_object (uri, dataset_uri, source_env_uri, target_env_uri, group_uri,
			principal_id, principal_type, principal_role_name, permissions, status,
			request_purpose, reject_purpose, owner, created, updated)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
		obj.URI, obj.DatasetURI, obj.SourceEnvURI, obj.TargetEnvURI, obj.GroupURI,
		obj.PrincipalID, obj.PrincipalType, obj.PrincipalRoleName,
		pq.Array(permissionsToStrings(obj.Permissions)), obj.Status,
		obj.RequestPurpose, obj.RejectPurpose, obj.Owner, obj.Created, obj.Updated)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
		return ErrDuplicateShare
	}
	return err
}

func (p *Postgres) GetShare(ctx context.Context, shareURI string) (*share.Object, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT uri, dataset_uri, source_env_uri, target_env_uri, group_uri,
			principal_id, principal_type, principal_role_name, permissions, status,
			request_purpose, reject_purpose, owner, created, updated, deleted
		FROM share_object WHERE uri = $1`, shareURI)
	obj := &share.Object{}
	var perms []string
	err := row.Scan(&obj.URI, &obj.DatasetURI, &obj.SourceEnvURI, &obj.TargetEnvURI, &obj.GroupURI,
		&obj.PrincipalID, &obj.PrincipalType, &obj.PrincipalRoleName, pq.Array(&perms), &obj.Status,
		&obj.RequestPurpose, &obj.RejectPurpose, &obj.Owner, &obj.Created, &obj.Updated, &obj.Deleted)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get share %s: %w", shareURI, err)
	}
	obj.Permissions = stringsToPermissions(perms)
	return obj, nil
}

func (p *Postgres) UpdateShareStatus(ctx context.Context, shareURI string, status share.ObjectStatus) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE share_object SET status = $2, updated = now() WHERE uri = $1`, shareURI, status)
	if err != nil {
		return fmt.Errorf("update share %s status: %w", shareURI, err)
	}
	return requireRow(res)
}

func (p *Postgres) DeleteShare(ctx context.Context, shareURI string) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE share_object SET deleted = now(), updated = now() WHERE uri = $1`, shareURI)
	if err != nil {
		return fmt.Errorf("delete share %s: %w", shareURI, err)
	}
	return requireRow(res)
}

func (p *Postgres) CreateItem(ctx context.Context, item *share.Item) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO share_object_item (uri, share_uri, kind, target_uri, target_name,
			status, health, health_message, last_verified, data_filter_uri, created, updated)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		item.URI, item.ShareURI, item.Kind, item.TargetURI, item.TargetName,
		item.Status, item.Health, item.HealthMessage, item.LastVerified, item.DataFilterURI,
		item.Created, item.Updated)
	return err
}

func (p *Postgres) GetItem(ctx context.Context, itemURI string) (*share.Item, error) {
	row := p.db.QueryRowContext(ctx, itemSelect+` WHERE uri = $1`, itemURI)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return item, err
}

const itemSelect = `
	SELECT uri, share_uri, kind, target_uri, target_name, status, health,
		health_message, last_verified, data_filter_uri, created, updated
	FROM share_object_item`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (*share.Item, error) {
	item := &share.Item{}
	err := row.Scan(&item.URI, &item.ShareURI, &item.Kind, &item.TargetURI, &item.TargetName,
		&item.Status, &item.Health, &item.HealthMessage, &item.LastVerified, &item.DataFilterURI,
		&item.Created, &item.Updated)
	if err != nil {
		return nil, err
	}
	return item, nil
}

func (p *Postgres) ListItems(ctx context.Context, shareURI string, kind share.ItemKind, status share.ItemStatus) ([]*share.Item, error) {
	rows, err := p.db.QueryContext(ctx, itemSelect+`
		WHERE share_uri = $1 AND ($2 = '' OR kind = $2) AND ($3 = '' OR status = $3)`,
		shareURI, string(kind), string(status))
	if err != nil {
		return nil, fmt.Errorf("list items for share %s: %w", shareURI, err)
	}
	return collectItems(rows)
}

func (p *Postgres) ListItemsByHealth(ctx context.Context, shareURI string, health share.HealthStatus, status share.ItemStatus) ([]*share.Item, error) {
	rows, err := p.db.QueryContext(ctx, itemSelect+`
		WHERE share_uri = $1 AND health = $2 AND ($3 = '' OR status = $3)`,
		shareURI, string(health), string(status))
	if err != nil {
		return nil, fmt.Errorf("list items by health for share %s: %w", shareURI, err)
	}
	return collectItems(rows)
}

func collectItems(rows *sql.Rows) ([]*share.Item, error) {
	defer rows.Close()
	var out []*share.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

func (p *Postgres) UpdateItemStatus(ctx context.Context, itemURI string, status share.ItemStatus) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE share_object_item SET status = $2, updated = now() WHERE uri = $1`, itemURI, status)
	if err != nil {
		return fmt.Errorf("update item %s status: %w", itemURI, err)
	}
	return requireRow(res)
}

func (p *Postgres) UpdateItemStatusBatch(ctx context.Context, shareURI string, from, to share.ItemStatus) (int, error) {
	res, err := p.db.ExecContext(ctx,
		`UPDATE share_object_item SET status = $3, updated = now() WHERE share_uri = $1 AND status = $2`,
		shareURI, from, to)
	if err != nil {
		return 0, fmt.Errorf("batch update items for share %s: %w", shareURI, err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (p *Postgres) UpdateItemHealth(ctx context.Context, itemURI string, health share.HealthStatus, message string, verifiedAt time.Time) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE share_object_item
		SET health = $2, health_message = $3, last_verified = $4, updated = now()
		WHERE uri = $1`, itemURI, health, message, verifiedAt)
	if err != nil {
		return fmt.Errorf("update item %s health: %w", itemURI, err)
	}
	return requireRow(res)
}

func (p *Postgres) DeleteItem(ctx context.Context, itemURI string) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM share_object_item WHERE uri = $1`, itemURI)
	if err != nil {
		return fmt.Errorf("delete item %s: %w", itemURI, err)
	}
	return requireRow(res)
}

// sharedStates lists the item statuses that still back a live AWS grant.
// Mirrors share.Item.InSharedState.
var sharedStates = []string{
	string(share.ItemShareSucceeded),
	string(share.ItemShareInProgress),
	string(share.ItemRevokeApproved),
	string(share.ItemRevokeInProgress),
	string(share.ItemRevokeFailed),
}

func (p *Postgres) CountOtherSharedItems(ctx context.Context, targetURI, envURI, excludeShareURI string) (int, error) {
	var count int
	err := p.db.QueryRowContext(ctx, `
		SELECT count(*)
		FROM share_object_item i
		JOIN share_object s ON s.uri = i.share_uri
		WHERE i.target_uri = $1 AND s.target_env_uri = $2 AND i.share_uri <> $3
			AND i.status = ANY($4)`,
		targetURI, envURI, excludeShareURI, pq.Array(sharedStates)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count other shared items for %s: %w", targetURI, err)
	}
	return count, nil
}

// pendingStates extends sharedStates with the statuses of items still
// waiting for an approval decision. A share with any such item finishes a
// revoke via FinishPending instead of Finish.
var pendingStates = append([]string{
	string(share.ItemPendingApproval),
	string(share.ItemShareApproved),
}, sharedStates...)

func (p *Postgres) HasPendingItems(ctx context.Context, shareURI string) (bool, error) {
	var count int
	err := p.db.QueryRowContext(ctx, `
		SELECT count(*) FROM share_object_item WHERE share_uri = $1 AND status = ANY($2)`,
		shareURI, pq.Array(pendingStates)).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check pending items for share %s: %w", shareURI, err)
	}
	return count > 0, nil
}

func (p *Postgres) GetDataFilter(ctx context.Context, itemURI string) (*share.DataFilter, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT uri, item_uri, filter_names FROM share_object_item_data_filter WHERE item_uri = $1`,
		itemURI)
	f := &share.DataFilter{}
	err := row.Scan(&f.URI, &f.ItemURI, pq.Array(&f.FilterNames))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get data filter for item %s: %w", itemURI, err)
	}
	return f, nil
}

func (p *Postgres) CreateLock(ctx context.Context, datasetURI string) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO dataset_lock (dataset_uri, is_locked, acquired_by)
		VALUES ($1, FALSE, '') ON CONFLICT (dataset_uri) DO NOTHING`, datasetURI)
	return err
}

func (p *Postgres) TryAcquireLock(ctx context.Context, datasetURI, holderURI string) (bool, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin lock tx: %w", err)
	}
	defer tx.Rollback()

	var isLocked bool
	err = tx.QueryRowContext(ctx,
		`SELECT is_locked FROM dataset_lock WHERE dataset_uri = $1 FOR UPDATE`, datasetURI).Scan(&isLocked)
	if errors.Is(err, sql.ErrNoRows) {
		return false, ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("read lock row %s: %w", datasetURI, err)
	}
	if isLocked {
		return false, nil
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE dataset_lock SET is_locked = TRUE, acquired_by = $2 WHERE dataset_uri = $1`,
		datasetURI, holderURI); err != nil {
		return false, fmt.Errorf("acquire lock %s: %w", datasetURI, err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit lock %s: %w", datasetURI, err)
	}
	return true, nil
}

func (p *Postgres) ReleaseLock(ctx context.Context, datasetURI, holderURI string) (bool, error) {
	res, err := p.db.ExecContext(ctx, `
		UPDATE dataset_lock SET is_locked = FALSE, acquired_by = ''
		WHERE dataset_uri = $1 AND is_locked AND acquired_by = $2`, datasetURI, holderURI)
	if err != nil {
		return false, fmt.Errorf("release lock %s: %w", datasetURI, err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// Environment context queries. These tables belong to the wider catalog
// application; the sharing engine only reads them.

func (p *Postgres) GetDataset(ctx context.Context, datasetURI string) (*share.Dataset, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT uri, name, account_id, region, glue_database_name, s3_bucket_name, kms_alias, admin_role_name
		FROM dataset WHERE uri = $1`, datasetURI)
	d := &share.Dataset{}
	err := row.Scan(&d.URI, &d.Name, &d.AccountID, &d.Region, &d.GlueDatabaseName,
		&d.S3BucketName, &d.KMSAlias, &d.AdminRoleName)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return d, err
}

func (p *Postgres) GetEnvironment(ctx context.Context, envURI string) (*share.Environment, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT uri, name, account_id, region, admin_group FROM environment WHERE uri = $1`, envURI)
	e := &share.Environment{}
	err := row.Scan(&e.URI, &e.Name, &e.AccountID, &e.Region, &e.AdminGroup)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return e, err
}

func (p *Postgres) GetEnvironmentGroup(ctx context.Context, groupURI, envURI string) (*share.EnvironmentGroup, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT group_uri, env_uri, iam_role_name, iam_role_arn
		FROM environment_group WHERE group_uri = $1 AND env_uri = $2`, groupURI, envURI)
	g := &share.EnvironmentGroup{}
	err := row.Scan(&g.GroupURI, &g.EnvURI, &g.IAMRoleName, &g.IAMRoleARN)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return g, err
}

func (p *Postgres) GetConsumptionRole(ctx context.Context, roleURI string) (*share.ConsumptionRole, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT uri, env_uri, iam_role_name, iam_role_arn, managed
		FROM consumption_role WHERE uri = $1`, roleURI)
	r := &share.ConsumptionRole{}
	err := row.Scan(&r.URI, &r.EnvURI, &r.IAMRoleName, &r.IAMRoleARN, &r.Managed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return r, err
}

func (p *Postgres) GetTable(ctx context.Context, tableURI string) (*share.Table, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT uri, dataset_uri, database_name, name, region, account_id
		FROM dataset_table WHERE uri = $1`, tableURI)
	t := &share.Table{}
	err := row.Scan(&t.URI, &t.DatasetURI, &t.DatabaseName, &t.Name, &t.Region, &t.AccountID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return t, err
}

func (p *Postgres) GetStorageLocation(ctx context.Context, locationURI string) (*share.StorageLocation, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT uri, dataset_uri, bucket_name, s3_prefix, region, account_id
		FROM dataset_storage_location WHERE uri = $1`, locationURI)
	l := &share.StorageLocation{}
	err := row.Scan(&l.URI, &l.DatasetURI, &l.BucketName, &l.S3Prefix, &l.Region, &l.AccountID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return l, err
}

func (p *Postgres) GetBucket(ctx context.Context, bucketURI string) (*share.Bucket, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT uri, dataset_uri, name, region, account_id, kms_alias
		FROM dataset_bucket WHERE uri = $1`, bucketURI)
	b := &share.Bucket{}
	err := row.Scan(&b.URI, &b.DatasetURI, &b.Name, &b.Region, &b.AccountID, &b.KMSAlias)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return b, err
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
