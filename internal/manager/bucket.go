package manager

import (
	"context"
	"errors"
	"fmt"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"

	"github.com/nicholasgasior/datashare/internal/awsc"
	"github.com/nicholasgasior/datashare/internal/mpolicy"
	"github.com/nicholasgasior/datashare/internal/policy"
	"github.com/nicholasgasior/datashare/internal/share"
)

// BucketClients bundles the AWS surface the bucket manager touches. The IAM
// and policy service operate in the target account; S3 and KMS in the source.
type BucketClients struct {
	IAM      awsc.GetRoleAPI
	S3       awsc.BucketPolicyAPI
	KMS      awsc.KeyPolicyAPI
	Policies *mpolicy.Service
}

// Bucket manages whole-bucket shares: the principal role's IAM share policy,
// the bucket policy in the source account, and the dataset KMS key policy.
type Bucket struct {
	clients       BucketClients
	data          *share.Data
	bucket        *share.Bucket
	pivotRoleName string
	logger        hclog.Logger

	checkErrs *multierror.Error
}

// NewBucket builds a manager for one bucket share item.
func NewBucket(clients BucketClients, data *share.Data, bucket *share.Bucket, pivotRoleName string, logger hclog.Logger) *Bucket {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Bucket{
		clients:       clients,
		data:          data,
		bucket:        bucket,
		pivotRoleName: pivotRoleName,
		logger:        logger.With("bucket", bucket.Name, "share_uri", data.Share.URI),
	}
}

// CheckErrors returns the drift findings accumulated by the Check methods,
// nil when every check passed.
func (m *Bucket) CheckErrors() error {
	return m.checkErrs.ErrorOrNil()
}

func (m *Bucket) s3Resources() []string {
	return []string{
		"arn:aws:s3:::" + m.bucket.Name,
		"arn:aws:s3:::" + m.bucket.Name + "/*",
	}
}

func (m *Bucket) kmsResources(keyID string) []string {
	return []string{fmt.Sprintf("arn:aws:kms:%s:%s:key/%s", m.bucket.Region, m.bucket.AccountID, keyID)}
}

// ---------------------------------------------------------------------------
// Principal role IAM share policy
// ---------------------------------------------------------------------------

// GrantIAMAccess adds the bucket (and its KMS key, if any) to the principal
// role's indexed share policies.
func (m *Bucket) GrantIAMAccess(ctx context.Context) error {
	m.logger.Info("granting bucket access in principal role policy")
	if err := m.clients.Policies.EnsureIndexedPolicies(ctx); err != nil {
		return err
	}
	if err := m.clients.Policies.InitializeStatements(ctx); err != nil {
		return err
	}

	keyID, err := keyIDForAlias(ctx, m.clients.KMS, m.bucket.KMSAlias)
	if err != nil {
		return err
	}

	s3Stmts, kmsStmts := m.clients.Policies.BucketStatements()
	s3Stmts = mpolicy.AddResourcesAndSplit(s3Stmts, m.s3Resources(), mpolicy.BucketSid+"S3", "s3")
	if keyID != "" {
		kmsStmts = mpolicy.AddResourcesAndSplit(kmsStmts, m.kmsResources(keyID), mpolicy.BucketSid+"KMS", "kms")
	}
	return m.clients.Policies.MergeStatementsAndUpdatePolicies(ctx, mpolicy.BucketSid, s3Stmts, kmsStmts)
}

// RevokeIAMAccess removes the bucket and key resources from the principal
// role's share policies.
func (m *Bucket) RevokeIAMAccess(ctx context.Context) error {
	m.logger.Info("revoking bucket access in principal role policy")
	if err := m.clients.Policies.EnsureIndexedPolicies(ctx); err != nil {
		return err
	}
	if err := m.clients.Policies.InitializeStatements(ctx); err != nil {
		return err
	}

	keyID, err := keyIDForAlias(ctx, m.clients.KMS, m.bucket.KMSAlias)
	if err != nil {
		return err
	}

	s3Stmts, kmsStmts := m.clients.Policies.BucketStatements()
	s3Stmts = mpolicy.RemoveResourcesAndSplit(s3Stmts, m.s3Resources(), mpolicy.BucketSid+"S3", "s3")
	if keyID != "" {
		kmsStmts = mpolicy.RemoveResourcesAndSplit(kmsStmts, m.kmsResources(keyID), mpolicy.BucketSid+"KMS", "kms")
	}
	return m.clients.Policies.MergeStatementsAndUpdatePolicies(ctx, mpolicy.BucketSid, s3Stmts, kmsStmts)
}

// CheckIAMAccess verifies the principal role's share policies cover the
// bucket and key resources.
func (m *Bucket) CheckIAMAccess(ctx context.Context) error {
	names, err := m.clients.Policies.ManagedPolicyNames(ctx)
	if err != nil {
		return err
	}
	if len(names) == 0 {
		m.checkErrs = multierror.Append(m.checkErrs,
			doesNotExist("IAM share policy", m.clients.Policies.BaseName()))
		return nil
	}
	if err := m.clients.Policies.InitializeStatements(ctx); err != nil {
		return err
	}

	role := m.data.Share.PrincipalRoleName
	s3Stmts, kmsStmts := m.clients.Policies.BucketStatements()
	if !mpolicy.CheckResourcesInStatements(s3Stmts, m.s3Resources()) {
		m.checkErrs = multierror.Append(m.checkErrs,
			missingPermission(role, "IAM policy statement", mpolicy.BucketSid+"S3", "S3 bucket", m.bucket.Name))
	}

	keyID, err := keyIDForAlias(ctx, m.clients.KMS, m.bucket.KMSAlias)
	if err != nil {
		return err
	}
	if keyID != "" && !mpolicy.CheckResourcesInStatements(kmsStmts, m.kmsResources(keyID)) {
		m.checkErrs = multierror.Append(m.checkErrs,
			missingPermission(role, "IAM policy statement", mpolicy.BucketSid+"KMS", "KMS key", keyID))
	}
	return nil
}

// ---------------------------------------------------------------------------
// Bucket policy
// ---------------------------------------------------------------------------

// GrantBucketPolicy adds the principal role to the bucket policy statements
// matching the share's permission levels, creating the statements on first
// use. Granting twice leaves the principal listed exactly once.
func (m *Bucket) GrantBucketPolicy(ctx context.Context) error {
	m.logger.Info("granting access in bucket policy")
	roleARN, _, err := resolveRole(ctx, m.clients.IAM, m.data.Share.PrincipalRoleName)
	if err != nil {
		return err
	}
	doc, err := bucketPolicyOrDefault(ctx, m.clients.S3, m.bucket.Name)
	if err != nil {
		return err
	}

	for _, sid := range bucketPolicySids(m.data.Share.Permissions) {
		if i := doc.FindStatementBySid(sid); i >= 0 {
			doc.Statement[i].AddPrincipals(roleARN)
			continue
		}
		doc.Upsert(policy.Statement{
			Sid:       sid,
			Effect:    "Allow",
			Principal: &policy.Principal{AWS: policy.StringList{roleARN}},
			Action:    policy.StringList(bucketSidActions[sid]),
			Resource:  policy.StringList(m.s3Resources()),
		})
	}
	return putBucketPolicy(ctx, m.clients.S3, m.bucket.Name, doc)
}

// RevokeBucketPolicy drops the principal role from the share statements.
// Sibling principals stay; a statement whose principal list empties is
// removed entirely.
func (m *Bucket) RevokeBucketPolicy(ctx context.Context) error {
	m.logger.Info("revoking access in bucket policy")
	roleARN := m.principalRoleARNOrGuess(ctx)
	doc, err := bucketPolicyOrDefault(ctx, m.clients.S3, m.bucket.Name)
	if err != nil {
		return err
	}

	changed := false
	for _, sid := range bucketPolicySids(m.data.Share.Permissions) {
		i := doc.FindStatementBySid(sid)
		if i < 0 || !doc.Statement[i].HasPrincipal(roleARN) {
			continue
		}
		if empty := doc.Statement[i].RemovePrincipals(roleARN); empty {
			doc.RemoveStatement(sid)
		}
		changed = true
	}
	if !changed {
		return nil
	}
	return putBucketPolicy(ctx, m.clients.S3, m.bucket.Name, doc)
}

// CheckBucketPolicy verifies every required share statement lists the
// principal role.
func (m *Bucket) CheckBucketPolicy(ctx context.Context) error {
	roleARN, _, err := resolveRole(ctx, m.clients.IAM, m.data.Share.PrincipalRoleName)
	if err != nil {
		if errors.Is(err, ErrPrincipalRoleNotFound) {
			m.checkErrs = multierror.Append(m.checkErrs,
				doesNotExist("principal role", m.data.Share.PrincipalRoleName))
			return nil
		}
		return err
	}
	doc, err := bucketPolicyOrDefault(ctx, m.clients.S3, m.bucket.Name)
	if err != nil {
		return err
	}
	for _, sid := range bucketPolicySids(m.data.Share.Permissions) {
		i := doc.FindStatementBySid(sid)
		if i < 0 || !doc.Statement[i].HasPrincipal(roleARN) {
			m.checkErrs = multierror.Append(m.checkErrs,
				missingPermission(roleARN, "bucket policy statement", sid, "S3 bucket", m.bucket.Name))
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// KMS key policy
// ---------------------------------------------------------------------------

// GrantKeyPolicy adds the principal role to the dataset key policy and keeps
// the pivot role statement present. Buckets without a customer managed key
// are a no-op.
func (m *Bucket) GrantKeyPolicy(ctx context.Context) error {
	keyID, err := keyIDForAlias(ctx, m.clients.KMS, m.bucket.KMSAlias)
	if err != nil {
		return err
	}
	if keyID == "" {
		m.logger.Debug("bucket has no customer managed key, skipping key policy")
		return nil
	}
	roleARN, _, err := resolveRole(ctx, m.clients.IAM, m.data.Share.PrincipalRoleName)
	if err != nil {
		return err
	}
	m.logger.Info("granting access in key policy", "key_id", keyID)

	doc, err := getKeyPolicy(ctx, m.clients.KMS, keyID)
	if err != nil {
		return err
	}
	doc.Upsert(pivotRoleKMSStatement(m.pivotRoleName, m.bucket.AccountID))
	for _, sid := range kmsPolicySids(m.data.Share.Permissions) {
		if i := doc.FindStatementBySid(sid); i >= 0 {
			doc.Statement[i].AddPrincipals(roleARN)
			continue
		}
		doc.Upsert(policy.Statement{
			Sid:       sid,
			Effect:    "Allow",
			Principal: &policy.Principal{AWS: policy.StringList{roleARN}},
			Action:    policy.StringList(kmsSidActions[sid]),
			Resource:  policy.StringList{"*"},
		})
	}
	return putKeyPolicy(ctx, m.clients.KMS, keyID, doc)
}

// RevokeKeyPolicy drops the principal role from the key policy share
// statements. The pivot role statement always stays.
func (m *Bucket) RevokeKeyPolicy(ctx context.Context) error {
	keyID, err := keyIDForAlias(ctx, m.clients.KMS, m.bucket.KMSAlias)
	if err != nil {
		return err
	}
	if keyID == "" {
		return nil
	}
	roleARN := m.principalRoleARNOrGuess(ctx)
	m.logger.Info("revoking access in key policy", "key_id", keyID)

	doc, err := getKeyPolicy(ctx, m.clients.KMS, keyID)
	if err != nil {
		return err
	}
	changed := false
	for _, sid := range kmsPolicySids(m.data.Share.Permissions) {
		i := doc.FindStatementBySid(sid)
		if i < 0 || !doc.Statement[i].HasPrincipal(roleARN) {
			continue
		}
		if empty := doc.Statement[i].RemovePrincipals(roleARN); empty {
			doc.RemoveStatement(sid)
		}
		changed = true
	}
	if !changed {
		return nil
	}
	return putKeyPolicy(ctx, m.clients.KMS, keyID, doc)
}

// CheckKeyPolicy verifies the key policy share statements list the principal
// role.
func (m *Bucket) CheckKeyPolicy(ctx context.Context) error {
	keyID, err := keyIDForAlias(ctx, m.clients.KMS, m.bucket.KMSAlias)
	if err != nil {
		return err
	}
	if keyID == "" {
		return nil
	}
	roleARN, _, err := resolveRole(ctx, m.clients.IAM, m.data.Share.PrincipalRoleName)
	if err != nil {
		if errors.Is(err, ErrPrincipalRoleNotFound) {
			m.checkErrs = multierror.Append(m.checkErrs,
				doesNotExist("principal role", m.data.Share.PrincipalRoleName))
			return nil
		}
		return err
	}
	doc, err := getKeyPolicy(ctx, m.clients.KMS, keyID)
	if err != nil {
		return err
	}
	for _, sid := range kmsPolicySids(m.data.Share.Permissions) {
		i := doc.FindStatementBySid(sid)
		if i < 0 || !doc.Statement[i].HasPrincipal(roleARN) {
			m.checkErrs = multierror.Append(m.checkErrs,
				missingPermission(roleARN, "KMS key policy statement", sid, "KMS key", keyID))
		}
	}
	return nil
}

// principalRoleARNOrGuess resolves the role ARN, constructing it from the
// account id when the role is already deleted. Revokes must proceed anyway.
func (m *Bucket) principalRoleARNOrGuess(ctx context.Context) string {
	arn, _, err := resolveRole(ctx, m.clients.IAM, m.data.Share.PrincipalRoleName)
	if err != nil {
		return m.data.PrincipalRoleARN()
	}
	return arn
}
