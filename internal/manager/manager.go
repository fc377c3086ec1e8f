// Package manager implements the per-resource-type share managers: S3 bucket
// shares via bucket policies, folder shares via S3 access points, and Glue
// table shares via Lake Formation. Each manager exposes check_ (read-only
// drift detection), grant_ and revoke_ operations over one share item, all
// idempotent read-modify-write cycles against the relevant AWS policies.
package manager

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/nicholasgasior/datashare/internal/awsc"
	"github.com/nicholasgasior/datashare/internal/policy"
	"github.com/nicholasgasior/datashare/internal/share"
)

// Resource-based policy Sids owned by the sharing engine.
const (
	// SidDelegateToAccessPoint is the bucket policy statement delegating
	// object access decisions to access points in the dataset account.
	SidDelegateToAccessPoint = "DelegateAccessToAccessPoint"

	// SidAccessPointKMSDecrypt names the KMS key statement granting decrypt
	// to folder share principals.
	SidAccessPointKMSDecrypt = "AccessPointKMSDecrypt"

	// SidPivotRolePermissions names the KMS key statement keeping the
	// engine's own delegation role able to administer the key policy.
	SidPivotRolePermissions = "PivotRolePermissions"
)

// ErrPrincipalRoleNotFound is returned by grant operations when the share's
// principal IAM role does not exist in the target account. Revoke operations
// fall back to the constructed ARN instead, so a deleted role can still be
// cleaned out of resource policies.
var ErrPrincipalRoleNotFound = errors.New("principal role not found")

// Bucket policy statement families keyed by permission level. Requesting
// Write or Modify implies the read grant as well.
const (
	sidBucketReadOnly  = "BucketReadOnly"
	sidBucketReadWrite = "BucketReadWrite"
	sidKMSDecrypt      = "KMSDecrypt"
	sidKMSEncrypt      = "KMSEncryptDecrypt"
)

var bucketSidActions = map[string][]string{
	sidBucketReadOnly:  {"s3:List*", "s3:Describe*", "s3:GetObject"},
	sidBucketReadWrite: {"s3:PutObject", "s3:DeleteObject"},
}

var kmsSidActions = map[string][]string{
	sidKMSDecrypt: {"kms:Decrypt", "kms:DescribeKey"},
	sidKMSEncrypt: {"kms:Encrypt", "kms:GenerateDataKey*", "kms:ReEncrypt*"},
}

// bucketPolicySids maps the share's permission levels to the bucket policy
// statements they require, in stable order.
func bucketPolicySids(perms []share.Permission) []string {
	return permSids(perms, sidBucketReadOnly, sidBucketReadWrite)
}

// kmsPolicySids maps the share's permission levels to the KMS key policy
// statements they require.
func kmsPolicySids(perms []share.Permission) []string {
	return permSids(perms, sidKMSDecrypt, sidKMSEncrypt)
}

func permSids(perms []share.Permission, readSid, writeSid string) []string {
	sids := []string{readSid}
	for _, p := range perms {
		if p == share.PermissionWrite || p == share.PermissionModify {
			sids = append(sids, writeSid)
			break
		}
	}
	return sids
}

// pivotRoleKMSStatement keeps the engine's delegation role able to read and
// rewrite the key policy after shares start mutating it.
func pivotRoleKMSStatement(pivotRoleName, sourceAccountID string) policy.Statement {
	return policy.Statement{
		Sid:    SidPivotRolePermissions,
		Effect: "Allow",
		Principal: &policy.Principal{
			AWS: policy.StringList{fmt.Sprintf("arn:aws:iam::%s:role/%s", sourceAccountID, pivotRoleName)},
		},
		Action: policy.StringList{
			"kms:Decrypt",
			"kms:Encrypt",
			"kms:GenerateDataKey*",
			"kms:PutKeyPolicy",
			"kms:GetKeyPolicy",
			"kms:ReEncrypt*",
			"kms:TagResource",
			"kms:UntagResource",
			"kms:DescribeKey",
			"kms:List*",
		},
		Resource: policy.StringList{"*"},
	}
}

// ---------------------------------------------------------------------------
// Shared AWS lookups
// ---------------------------------------------------------------------------

// resolveRole returns the ARN and unique role id of an IAM role, or
// ErrPrincipalRoleNotFound when the role does not exist.
func resolveRole(ctx context.Context, api awsc.GetRoleAPI, roleName string) (arn, roleID string, err error) {
	out, err := api.GetRole(ctx, &iam.GetRoleInput{RoleName: aws.String(roleName)})
	if awsc.IsNotFound(err) {
		return "", "", fmt.Errorf("role %s: %w", roleName, ErrPrincipalRoleNotFound)
	}
	if err != nil {
		return "", "", fmt.Errorf("get role %s: %w", roleName, err)
	}
	return aws.ToString(out.Role.Arn), aws.ToString(out.Role.RoleId), nil
}

// keyIDForAlias resolves a KMS key id from its alias. An empty alias or an
// absent key yields an empty id: shares over buckets without a customer
// managed key skip all KMS statements.
func keyIDForAlias(ctx context.Context, api awsc.DescribeKeyAPI, alias string) (string, error) {
	if alias == "" {
		return "", nil
	}
	out, err := api.DescribeKey(ctx, &kms.DescribeKeyInput{KeyId: aws.String("alias/" + alias)})
	if awsc.IsNotFound(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("describe key alias/%s: %w", alias, err)
	}
	return aws.ToString(out.KeyMetadata.KeyId), nil
}

// bucketPolicyOrDefault loads the bucket policy, or returns a fresh empty
// document when the bucket has none yet.
func bucketPolicyOrDefault(ctx context.Context, api awsc.GetBucketPolicyAPI, bucketName string) (*policy.Document, error) {
	out, err := api.GetBucketPolicy(ctx, &s3.GetBucketPolicyInput{Bucket: aws.String(bucketName)})
	if awsc.IsNotFound(err) {
		return policy.NewDocument(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("get bucket policy for %s: %w", bucketName, err)
	}
	doc, err := policy.Parse(aws.ToString(out.Policy))
	if err != nil {
		return nil, fmt.Errorf("bucket %s: %w", bucketName, err)
	}
	return doc, nil
}

// getKeyPolicy loads the default key policy document for a KMS key.
func getKeyPolicy(ctx context.Context, api awsc.GetKeyPolicyAPI, keyID string) (*policy.Document, error) {
	out, err := api.GetKeyPolicy(ctx, &kms.GetKeyPolicyInput{
		KeyId:      aws.String(keyID),
		PolicyName: aws.String("default"),
	})
	if err != nil {
		return nil, fmt.Errorf("get key policy for %s: %w", keyID, err)
	}
	doc, err := policy.Parse(aws.ToString(out.Policy))
	if err != nil {
		return nil, fmt.Errorf("key %s: %w", keyID, err)
	}
	return doc, nil
}

func putKeyPolicy(ctx context.Context, api awsc.PutKeyPolicyAPI, keyID string, doc *policy.Document) error {
	raw, err := doc.String()
	if err != nil {
		return err
	}
	_, err = api.PutKeyPolicy(ctx, &kms.PutKeyPolicyInput{
		KeyId:      aws.String(keyID),
		PolicyName: aws.String("default"),
		Policy:     aws.String(raw),
	})
	if err != nil {
		return fmt.Errorf("put key policy for %s: %w", keyID, err)
	}
	return nil
}

func putBucketPolicy(ctx context.Context, api awsc.PutBucketPolicyAPI, bucketName string, doc *policy.Document) error {
	raw, err := doc.String()
	if err != nil {
		return err
	}
	_, err = api.PutBucketPolicy(ctx, &s3.PutBucketPolicyInput{
		Bucket: aws.String(bucketName),
		Policy: aws.String(raw),
	})
	if err != nil {
		return fmt.Errorf("put bucket policy for %s: %w", bucketName, err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Check error formatting
// ---------------------------------------------------------------------------

func missingPermission(principal, policyKind, sid, resourceKind, resource string) error {
	return fmt.Errorf("%s misses %s %s for %s %s", principal, policyKind, sid, resourceKind, resource)
}

func doesNotExist(kind, name string) error {
	return fmt.Errorf("%s %s does not exist", kind, name)
}

// ---------------------------------------------------------------------------
// Access point naming
// ---------------------------------------------------------------------------

var accessPointNameRe = regexp.MustCompile(`[^a-z0-9-]+`)

// AccessPointName derives the per-share access point name from the dataset
// and principal. Access point names must be lowercase, 3-50 characters, and
// must not start or end with a dash.
func AccessPointName(sh *share.Object) string {
	name := strings.ToLower(sh.DatasetURI + "-" + sh.PrincipalID)
	name = accessPointNameRe.ReplaceAllString(name, "-")
	if len(name) > 50 {
		name = name[:50]
	}
	return strings.Trim(name, "-")
}
