package manager

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3control"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"

	"github.com/nicholasgasior/datashare/internal/awsc"
	"github.com/nicholasgasior/datashare/internal/mpolicy"
	"github.com/nicholasgasior/datashare/internal/policy"
	"github.com/nicholasgasior/datashare/internal/retry"
	"github.com/nicholasgasior/datashare/internal/share"
)

// AccessPointClients bundles the AWS surface the folder share manager
// touches.
type AccessPointClients struct {
	IAM       awsc.GetRoleAPI
	S3        awsc.BucketPolicyAPI
	S3Control awsc.AccessPointAPI
	KMS       awsc.KeyPolicyAPI
	Policies  *mpolicy.Service
}

// AccessPoint manages folder shares: prefix-scoped access through a
// dedicated S3 access point, plus the IAM, bucket and key policy statements
// that make the access point reachable from the requester account.
type AccessPoint struct {
	clients       AccessPointClients
	data          *share.Data
	location      *share.StorageLocation
	pivotRoleName string
	logger        hclog.Logger

	creationRetry retry.Policy
	checkErrs     *multierror.Error
}

// NewAccessPoint builds a manager for one folder share item.
func NewAccessPoint(clients AccessPointClients, data *share.Data, location *share.StorageLocation, pivotRoleName string, logger hclog.Logger) *AccessPoint {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &AccessPoint{
		clients:       clients,
		data:          data,
		location:      location,
		pivotRoleName: pivotRoleName,
		logger:        logger.With("prefix", location.S3Prefix, "share_uri", data.Share.URI),
		creationRetry: retry.AccessPointCreation,
	}
}

// CheckErrors returns the drift findings accumulated by the Check methods,
// nil when every check passed.
func (m *AccessPoint) CheckErrors() error {
	return m.checkErrs.ErrorOrNil()
}

// Name returns the access point name derived for this share.
func (m *AccessPoint) Name() string {
	return AccessPointName(m.data.Share)
}

func (m *AccessPoint) accessPointARN() string {
	return fmt.Sprintf("arn:aws:s3:%s:%s:accesspoint/%s",
		m.location.Region, m.location.AccountID, m.Name())
}

func (m *AccessPoint) iamResources() []string {
	ap := m.accessPointARN()
	return []string{
		"arn:aws:s3:::" + m.location.BucketName,
		"arn:aws:s3:::" + m.location.BucketName + "/*",
		ap,
		ap + "/*",
	}
}

// ---------------------------------------------------------------------------
// Principal role IAM share policy
// ---------------------------------------------------------------------------

// GrantIAMAccess adds the folder's bucket, access point and key resources to
// the principal role's indexed share policies.
func (m *AccessPoint) GrantIAMAccess(ctx context.Context) error {
	m.logger.Info("granting folder access in principal role policy")
	if err := m.clients.Policies.EnsureIndexedPolicies(ctx); err != nil {
		return err
	}
	if err := m.clients.Policies.InitializeStatements(ctx); err != nil {
		return err
	}

	keyID, err := keyIDForAlias(ctx, m.clients.KMS, m.data.Dataset.KMSAlias)
	if err != nil {
		return err
	}

	s3Stmts, kmsStmts := m.clients.Policies.AccessPointStatements()
	s3Stmts = mpolicy.AddResourcesAndSplit(s3Stmts, m.iamResources(), mpolicy.AccessPointSid+"S3", "s3")
	if keyID != "" {
		kmsStmts = mpolicy.AddResourcesAndSplit(kmsStmts, m.kmsResources(keyID), mpolicy.AccessPointSid+"KMS", "kms")
	}
	return m.clients.Policies.MergeStatementsAndUpdatePolicies(ctx, mpolicy.AccessPointSid, s3Stmts, kmsStmts)
}

// RevokeIAMAccess removes the folder resources from the principal role's
// share policies.
func (m *AccessPoint) RevokeIAMAccess(ctx context.Context) error {
	m.logger.Info("revoking folder access in principal role policy")
	if err := m.clients.Policies.EnsureIndexedPolicies(ctx); err != nil {
		return err
	}
	if err := m.clients.Policies.InitializeStatements(ctx); err != nil {
		return err
	}

	keyID, err := keyIDForAlias(ctx, m.clients.KMS, m.data.Dataset.KMSAlias)
	if err != nil {
		return err
	}

	s3Stmts, kmsStmts := m.clients.Policies.AccessPointStatements()
	s3Stmts = mpolicy.RemoveResourcesAndSplit(s3Stmts, m.iamResources(), mpolicy.AccessPointSid+"S3", "s3")
	if keyID != "" {
		kmsStmts = mpolicy.RemoveResourcesAndSplit(kmsStmts, m.kmsResources(keyID), mpolicy.AccessPointSid+"KMS", "kms")
	}
	return m.clients.Policies.MergeStatementsAndUpdatePolicies(ctx, mpolicy.AccessPointSid, s3Stmts, kmsStmts)
}

// CheckIAMAccess verifies the principal role's share policies cover the
// folder resources.
func (m *AccessPoint) CheckIAMAccess(ctx context.Context) error {
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
	s3Stmts, kmsStmts := m.clients.Policies.AccessPointStatements()
	if !mpolicy.CheckResourcesInStatements(s3Stmts, m.iamResources()) {
		m.checkErrs = multierror.Append(m.checkErrs,
			missingPermission(role, "IAM policy statement", mpolicy.AccessPointSid+"S3", "folder", m.location.S3Prefix))
	}

	keyID, err := keyIDForAlias(ctx, m.clients.KMS, m.data.Dataset.KMSAlias)
	if err != nil {
		return err
	}
	if keyID != "" && !mpolicy.CheckResourcesInStatements(kmsStmts, m.kmsResources(keyID)) {
		m.checkErrs = multierror.Append(m.checkErrs,
			missingPermission(role, "IAM policy statement", mpolicy.AccessPointSid+"KMS", "KMS key", keyID))
	}
	return nil
}

func (m *AccessPoint) kmsResources(keyID string) []string {
	return []string{fmt.Sprintf("arn:aws:kms:%s:%s:key/%s", m.location.Region, m.location.AccountID, keyID)}
}

// ---------------------------------------------------------------------------
// Bucket policy delegation
// ---------------------------------------------------------------------------

// GrantDelegationInBucketPolicy installs the statement delegating object
// access decisions to access points owned by the dataset account. The
// statement is shared by every folder share on the bucket, so granting is
// idempotent.
func (m *AccessPoint) GrantDelegationInBucketPolicy(ctx context.Context) error {
	m.logger.Info("granting access point delegation in bucket policy")
	doc, err := bucketPolicyOrDefault(ctx, m.clients.S3, m.location.BucketName)
	if err != nil {
		return err
	}
	if doc.FindStatementBySid(SidDelegateToAccessPoint) >= 0 {
		return nil
	}
	doc.Upsert(policy.Statement{
		Sid:       SidDelegateToAccessPoint,
		Effect:    "Allow",
		Principal: &policy.Principal{AWS: policy.StringList{"*"}},
		Action:    policy.StringList{"s3:*"},
		Resource: policy.StringList{
			"arn:aws:s3:::" + m.location.BucketName,
			"arn:aws:s3:::" + m.location.BucketName + "/*",
		},
		Condition: map[string]map[string]policy.StringList{
			"StringEquals": {"s3:DataAccessPointAccount": {m.location.AccountID}},
		},
	})
	return putBucketPolicy(ctx, m.clients.S3, m.location.BucketName, doc)
}

// RevokeDelegationInBucketPolicy removes the delegation statement. Callers
// invoke it only when no other folder share on the bucket remains.
func (m *AccessPoint) RevokeDelegationInBucketPolicy(ctx context.Context) error {
	m.logger.Info("revoking access point delegation in bucket policy")
	doc, err := bucketPolicyOrDefault(ctx, m.clients.S3, m.location.BucketName)
	if err != nil {
		return err
	}
	if doc.FindStatementBySid(SidDelegateToAccessPoint) < 0 {
		return nil
	}
	doc.RemoveStatement(SidDelegateToAccessPoint)
	return putBucketPolicy(ctx, m.clients.S3, m.location.BucketName, doc)
}

// CheckDelegationInBucketPolicy verifies the delegation statement exists.
func (m *AccessPoint) CheckDelegationInBucketPolicy(ctx context.Context) error {
	doc, err := bucketPolicyOrDefault(ctx, m.clients.S3, m.location.BucketName)
	if err != nil {
		return err
	}
	if doc.FindStatementBySid(SidDelegateToAccessPoint) < 0 {
		m.checkErrs = multierror.Append(m.checkErrs,
			missingPermission("access points", "bucket policy statement", SidDelegateToAccessPoint, "S3 bucket", m.location.BucketName))
	}
	return nil
}

// ---------------------------------------------------------------------------
// Access point lifecycle and policy
// ---------------------------------------------------------------------------

// EnsureAccessPoint creates the share's access point when missing and waits
// for it to become visible, returning its ARN. Access point creation is
// eventually consistent.
func (m *AccessPoint) EnsureAccessPoint(ctx context.Context) (string, error) {
	arn, err := m.getAccessPointARN(ctx)
	if err != nil {
		return "", err
	}
	if arn != "" {
		return arn, nil
	}

	m.logger.Info("creating access point", "name", m.Name())
	out, err := m.clients.S3Control.CreateAccessPoint(ctx, &s3control.CreateAccessPointInput{
		AccountId: aws.String(m.location.AccountID),
		Bucket:    aws.String(m.location.BucketName),
		Name:      aws.String(m.Name()),
	})
	if err != nil && !awsc.IsAlreadyExists(err) {
		return "", fmt.Errorf("create access point %s: %w", m.Name(), err)
	}
	if out != nil && out.AccessPointArn != nil {
		arn = aws.ToString(out.AccessPointArn)
	}

	ok, err := m.creationRetry.Until(ctx, func(ctx context.Context) (bool, error) {
		got, err := m.getAccessPointARN(ctx)
		if err != nil {
			return false, err
		}
		if got != "" {
			arn = got
		}
		return got != "", nil
	})
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("access point %s not visible after creation", m.Name())
	}
	return arn, nil
}

func (m *AccessPoint) getAccessPointARN(ctx context.Context) (string, error) {
	out, err := m.clients.S3Control.GetAccessPoint(ctx, &s3control.GetAccessPointInput{
		AccountId: aws.String(m.location.AccountID),
		Name:      aws.String(m.Name()),
	})
	if awsc.IsNotFound(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get access point %s: %w", m.Name(), err)
	}
	return aws.ToString(out.AccessPointArn), nil
}

// requesterSids returns the two statement ids owned by the principal role in
// the access point policy: the list statement and the object statement.
func requesterSids(roleID string) (listSid, objectSid string) {
	return roleID + "0", roleID + "1"
}

func (m *AccessPoint) objectActions() []string {
	actions := []string{"s3:GetObject"}
	for _, p := range m.data.Share.Permissions {
		if p == share.PermissionWrite || p == share.PermissionModify {
			actions = append(actions, "s3:PutObject", "s3:DeleteObject")
			break
		}
	}
	return actions
}

// GrantAccessPointPolicy adds the shared prefix to the principal's pair of
// statements in the access point policy, creating them on first use. Access
// is principal-scoped through the aws:userId condition, so the statements
// keep Principal "*".
func (m *AccessPoint) GrantAccessPointPolicy(ctx context.Context, accessPointARN string) error {
	_, roleID, err := resolveRole(ctx, m.clients.IAM, m.data.Share.PrincipalRoleName)
	if err != nil {
		return err
	}
	m.logger.Info("granting prefix in access point policy", "role_id", roleID)

	doc, err := m.accessPointPolicyOrDefault(ctx)
	if err != nil {
		return err
	}

	listSid, objectSid := requesterSids(roleID)
	prefix := m.location.S3Prefix + "/*"
	objectResource := accessPointARN + "/object/" + prefix

	if i := doc.FindStatementBySid(listSid); i >= 0 {
		cond := doc.Statement[i].Condition["StringLike"]["s3:prefix"]
		if !cond.Contains(prefix) {
			doc.Statement[i].Condition["StringLike"]["s3:prefix"] = append(cond, prefix)
		}
	} else {
		doc.Upsert(policy.Statement{
			Sid:       listSid,
			Effect:    "Allow",
			Principal: &policy.Principal{AWS: policy.StringList{"*"}},
			Action:    policy.StringList{"s3:ListBucket"},
			Resource:  policy.StringList{accessPointARN},
			Condition: map[string]map[string]policy.StringList{
				"StringLike": {
					"s3:prefix":  {prefix},
					"aws:userId": {roleID + ":*"},
				},
			},
		})
	}

	if i := doc.FindStatementBySid(objectSid); i >= 0 {
		doc.Statement[i].AddResources(objectResource)
	} else {
		doc.Upsert(policy.Statement{
			Sid:       objectSid,
			Effect:    "Allow",
			Principal: &policy.Principal{AWS: policy.StringList{"*"}},
			Action:    policy.StringList(m.objectActions()),
			Resource:  policy.StringList{objectResource},
			Condition: map[string]map[string]policy.StringList{
				"StringLike": {"aws:userId": {roleID + ":*"}},
			},
		})
	}
	return m.putAccessPointPolicy(ctx, doc)
}

// RevokeAccessPointPolicy removes the shared prefix from the principal's
// statements, dropping both statements once their last prefix goes. It
// reports whether any requester statements remain, so the caller knows when
// the access point itself can be deleted.
func (m *AccessPoint) RevokeAccessPointPolicy(ctx context.Context) (remaining bool, err error) {
	roleID := m.principalRoleIDOrEmpty(ctx)

	doc, err := m.accessPointPolicyOrDefault(ctx)
	if err != nil {
		return false, err
	}
	if len(doc.Statement) == 0 {
		return false, nil
	}

	if roleID != "" {
		m.removeRequesterPrefix(doc, roleID)
	}
	if len(doc.Statement) == 0 {
		return false, nil
	}
	return true, m.putAccessPointPolicy(ctx, doc)
}

func (m *AccessPoint) removeRequesterPrefix(doc *policy.Document, roleID string) {
	listSid, objectSid := requesterSids(roleID)
	prefix := m.location.S3Prefix + "/*"

	if i := doc.FindStatementBySid(listSid); i >= 0 {
		cond := doc.Statement[i].Condition["StringLike"]["s3:prefix"]
		kept := cond[:0]
		for _, p := range cond {
			if p != prefix {
				kept = append(kept, p)
			}
		}
		if len(kept) == 0 {
			doc.RemoveStatement(listSid)
		} else {
			doc.Statement[i].Condition["StringLike"]["s3:prefix"] = kept
		}
	}
	if i := doc.FindStatementBySid(objectSid); i >= 0 {
		doc.Statement[i].RemoveResources(m.accessPointARN() + "/object/" + prefix)
		if len(doc.Statement[i].Resource) == 0 {
			doc.RemoveStatement(objectSid)
		}
	}
}

// DeleteAccessPoint removes the access point. Callers invoke it only after
// RevokeAccessPointPolicy reported no remaining requester statements.
func (m *AccessPoint) DeleteAccessPoint(ctx context.Context) error {
	m.logger.Info("deleting access point", "name", m.Name())
	_, err := m.clients.S3Control.DeleteAccessPoint(ctx, &s3control.DeleteAccessPointInput{
		AccountId: aws.String(m.location.AccountID),
		Name:      aws.String(m.Name()),
	})
	if awsc.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("delete access point %s: %w", m.Name(), err)
	}
	return nil
}

// CheckAccessPointPolicy verifies the access point exists and its policy
// carries the principal's prefix statements.
func (m *AccessPoint) CheckAccessPointPolicy(ctx context.Context) error {
	arn, err := m.getAccessPointARN(ctx)
	if err != nil {
		return err
	}
	if arn == "" {
		m.checkErrs = multierror.Append(m.checkErrs,
			doesNotExist("access point", m.Name()))
		return nil
	}

	_, roleID, err := resolveRole(ctx, m.clients.IAM, m.data.Share.PrincipalRoleName)
	if err != nil {
		if errors.Is(err, ErrPrincipalRoleNotFound) {
			m.checkErrs = multierror.Append(m.checkErrs,
				doesNotExist("principal role", m.data.Share.PrincipalRoleName))
			return nil
		}
		return err
	}

	doc, err := m.accessPointPolicyOrDefault(ctx)
	if err != nil {
		return err
	}

	listSid, objectSid := requesterSids(roleID)
	prefix := m.location.S3Prefix + "/*"
	role := m.data.Share.PrincipalRoleName

	if i := doc.FindStatementBySid(listSid); i < 0 ||
		!doc.Statement[i].Condition["StringLike"]["s3:prefix"].Contains(prefix) {
		m.checkErrs = multierror.Append(m.checkErrs,
			missingPermission(role, "access point policy statement", listSid, "folder", m.location.S3Prefix))
	}
	if i := doc.FindStatementBySid(objectSid); i < 0 ||
		!doc.Statement[i].ContainsResources([]string{arn + "/object/" + prefix}) {
		m.checkErrs = multierror.Append(m.checkErrs,
			missingPermission(role, "access point policy statement", objectSid, "folder", m.location.S3Prefix))
	}
	return nil
}

func (m *AccessPoint) accessPointPolicyOrDefault(ctx context.Context) (*policy.Document, error) {
	out, err := m.clients.S3Control.GetAccessPointPolicy(ctx, &s3control.GetAccessPointPolicyInput{
		AccountId: aws.String(m.location.AccountID),
		Name:      aws.String(m.Name()),
	})
	if awsc.IsNotFound(err) {
		return policy.NewDocument(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("get access point policy for %s: %w", m.Name(), err)
	}
	doc, err := policy.Parse(aws.ToString(out.Policy))
	if err != nil {
		return nil, fmt.Errorf("access point %s: %w", m.Name(), err)
	}
	return doc, nil
}

func (m *AccessPoint) putAccessPointPolicy(ctx context.Context, doc *policy.Document) error {
	raw, err := doc.String()
	if err != nil {
		return err
	}
	_, err = m.clients.S3Control.PutAccessPointPolicy(ctx, &s3control.PutAccessPointPolicyInput{
		AccountId: aws.String(m.location.AccountID),
		Name:      aws.String(m.Name()),
		Policy:    aws.String(raw),
	})
	if err != nil {
		return fmt.Errorf("put access point policy for %s: %w", m.Name(), err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// KMS key policy
// ---------------------------------------------------------------------------

// GrantKeyPolicy adds the principal role to the dataset key's folder share
// statement and keeps the pivot role statement present.
func (m *AccessPoint) GrantKeyPolicy(ctx context.Context) error {
	keyID, err := keyIDForAlias(ctx, m.clients.KMS, m.data.Dataset.KMSAlias)
	if err != nil {
		return err
	}
	if keyID == "" {
		m.logger.Debug("dataset has no customer managed key, skipping key policy")
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
	doc.Upsert(pivotRoleKMSStatement(m.pivotRoleName, m.location.AccountID))
	if i := doc.FindStatementBySid(SidAccessPointKMSDecrypt); i >= 0 {
		doc.Statement[i].AddPrincipals(roleARN)
	} else {
		doc.Upsert(policy.Statement{
			Sid:       SidAccessPointKMSDecrypt,
			Effect:    "Allow",
			Principal: &policy.Principal{AWS: policy.StringList{roleARN}},
			Action:    policy.StringList{"kms:Decrypt"},
			Resource:  policy.StringList{"*"},
		})
	}
	return putKeyPolicy(ctx, m.clients.KMS, keyID, doc)
}

// RevokeKeyPolicy drops the principal role from the folder share statement,
// removing the statement once its principal list empties.
func (m *AccessPoint) RevokeKeyPolicy(ctx context.Context) error {
	keyID, err := keyIDForAlias(ctx, m.clients.KMS, m.data.Dataset.KMSAlias)
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
	i := doc.FindStatementBySid(SidAccessPointKMSDecrypt)
	if i < 0 || !doc.Statement[i].HasPrincipal(roleARN) {
		return nil
	}
	if empty := doc.Statement[i].RemovePrincipals(roleARN); empty {
		doc.RemoveStatement(SidAccessPointKMSDecrypt)
	}
	return putKeyPolicy(ctx, m.clients.KMS, keyID, doc)
}

// CheckKeyPolicy verifies the key policy lists the principal role for
// decrypt.
func (m *AccessPoint) CheckKeyPolicy(ctx context.Context) error {
	keyID, err := keyIDForAlias(ctx, m.clients.KMS, m.data.Dataset.KMSAlias)
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
	i := doc.FindStatementBySid(SidAccessPointKMSDecrypt)
	if i < 0 || !doc.Statement[i].HasPrincipal(roleARN) {
		m.checkErrs = multierror.Append(m.checkErrs,
			missingPermission(roleARN, "KMS key policy statement", SidAccessPointKMSDecrypt, "KMS key", keyID))
	}
	return nil
}

func (m *AccessPoint) principalRoleARNOrGuess(ctx context.Context) string {
	arn, _, err := resolveRole(ctx, m.clients.IAM, m.data.Share.PrincipalRoleName)
	if err != nil {
		return m.data.PrincipalRoleARN()
	}
	return arn
}

// principalRoleIDOrEmpty resolves the role's unique id, or empty when the
// role no longer exists. A revoke with a deleted role cannot match the
// aws:userId statements, but any prefix statements it owned are unreachable
// anyway once the role is gone.
func (m *AccessPoint) principalRoleIDOrEmpty(ctx context.Context) string {
	_, roleID, err := resolveRole(ctx, m.clients.IAM, m.data.Share.PrincipalRoleName)
	if err != nil {
		if !errors.Is(err, ErrPrincipalRoleNotFound) {
			m.logger.Warn("could not resolve principal role id", "error", err)
		}
		return ""
	}
	return roleID
}
