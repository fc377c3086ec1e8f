// Package mpolicy maintains the indexed IAM managed policies that carry a
// principal role's S3 and KMS share grants. Grants are stored as policy
// statements segregated into four Sid families (bucket/access-point times
// S3/KMS); when the aggregate outgrows one policy document the statements are
// re-chunked across policies named <base>-0, <base>-1, and so on.
package mpolicy

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/hashicorp/go-hclog"

	"github.com/nicholasgasior/datashare/internal/awsc"
	"github.com/nicholasgasior/datashare/internal/policy"
)

const (
	// BucketSid and AccessPointSid are the statement family prefixes. Each
	// family splits into an S3 and a KMS variant, e.g. "BucketStatementS30".
	BucketSid      = "BucketStatement"
	AccessPointSid = "AccessPointsStatement"

	iamServiceName        = "AWS Identity and Access Management (IAM)"
	managedPoliciesQuota  = "Managed policies per role"
	iamPolicyNameMaxChars = 128

	// DefaultManagedPoliciesPerRole applies when the Service Quotas lookup
	// cannot resolve the quota.
	DefaultManagedPoliciesPerRole = 10
)

// S3AllowedActions are the only S3 actions share policies ever grant.
var S3AllowedActions = []string{"s3:List*", "s3:Describe*", "s3:GetObject"}

// ErrQuotaExceeded is returned when attaching the required number of indexed
// policies would push the role past the managed-policies-per-role quota. No
// policies are created once this is detected.
var ErrQuotaExceeded = errors.New("managed policy attachment quota exceeded")

// Role identifies the principal role whose share policies are managed, plus
// the naming context for its policies.
type Role struct {
	Name           string
	AccountID      string
	Region         string
	EnvironmentURI string
	ResourcePrefix string
}

// Service manages the indexed share policies of one principal role.
type Service struct {
	iamAPI awsc.IAMPolicyAPI
	quotas awsc.ServiceQuotasAPI
	logger hclog.Logger
	role   Role

	bucketS3       []policy.Statement
	bucketKMS      []policy.Statement
	accessPointS3  []policy.Statement
	accessPointKMS []policy.Statement
}

// New builds a Service for one role.
func New(iamAPI awsc.IAMPolicyAPI, quotas awsc.ServiceQuotasAPI, role Role, logger hclog.Logger) *Service {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Service{
		iamAPI: iamAPI,
		quotas: quotas,
		logger: logger.With("role_name", role.Name, "account_id", role.AccountID),
		role:   role,
	}
}

// BaseName is the indexed policy name without the index suffix.
func (s *Service) BaseName() string {
	base := fmt.Sprintf("%s-env-%s-share-policy-%s", s.role.ResourcePrefix, s.role.EnvironmentURI, s.role.Name)
	// Leave room for "-NN" so every index stays under the IAM name limit.
	if max := iamPolicyNameMaxChars - 3; len(base) > max {
		base = base[:max]
	}
	return strings.TrimSuffix(base, "-")
}

// IndexedName is the name of the index-th share policy.
func (s *Service) IndexedName(index int) string {
	return fmt.Sprintf("%s-%d", s.BaseName(), index)
}

// OldPolicyName is the single-policy name used before indexing existed. Only
// the migration path references it.
func (s *Service) OldPolicyName() string {
	return s.BaseName()
}

func (s *Service) policyARN(name string) string {
	return fmt.Sprintf("arn:aws:iam::%s:policy/%s", s.role.AccountID, name)
}

// ManagedPolicyNames lists the indexed share policies currently attached to
// the role, ordered by index.
func (s *Service) ManagedPolicyNames(ctx context.Context) ([]string, error) {
	attached, err := s.attachedPolicyNames(ctx)
	if err != nil {
		return nil, err
	}
	prefix := s.BaseName() + "-"
	var names []string
	for _, name := range attached {
		suffix := strings.TrimPrefix(name, prefix)
		if suffix == name {
			continue
		}
		if _, err := strconv.Atoi(suffix); err != nil {
			continue
		}
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		return indexOf(names[i], prefix) < indexOf(names[j], prefix)
	})
	return names, nil
}

func indexOf(name, prefix string) int {
	n, _ := strconv.Atoi(strings.TrimPrefix(name, prefix))
	return n
}

func (s *Service) attachedPolicyNames(ctx context.Context) ([]string, error) {
	var names []string
	var marker *string
	for {
		out, err := s.iamAPI.ListAttachedRolePolicies(ctx, &iam.ListAttachedRolePoliciesInput{
			RoleName: aws.String(s.role.Name),
			Marker:   marker,
		})
		if err != nil {
			return nil, fmt.Errorf("list policies attached to role %s: %w", s.role.Name, err)
		}
		for _, p := range out.AttachedPolicies {
			names = append(names, aws.ToString(p.PolicyName))
		}
		if !out.IsTruncated {
			return names, nil
		}
		marker = out.Marker
	}
}

// InitializeStatements loads every indexed policy's default version and
// partitions its statements into the four Sid families. Call once before a
// sequence of merge operations.
func (s *Service) InitializeStatements(ctx context.Context) error {
	names, err := s.ManagedPolicyNames(ctx)
	if err != nil {
		return err
	}
	s.bucketS3 = nil
	s.bucketKMS = nil
	s.accessPointS3 = nil
	s.accessPointKMS = nil
	for _, name := range names {
		_, doc, err := s.defaultVersion(ctx, name)
		if err != nil {
			return err
		}
		bs3, bkms, aps3, apkms := segregate(doc)
		s.bucketS3 = append(s.bucketS3, bs3...)
		s.bucketKMS = append(s.bucketKMS, bkms...)
		s.accessPointS3 = append(s.accessPointS3, aps3...)
		s.accessPointKMS = append(s.accessPointKMS, apkms...)
	}
	s.logger.Debug("loaded share policy statements",
		"policies", len(names),
		"bucket_s3", len(s.bucketS3), "bucket_kms", len(s.bucketKMS),
		"access_point_s3", len(s.accessPointS3), "access_point_kms", len(s.accessPointKMS))
	return nil
}

// BucketStatements returns the loaded bucket-family statements.
func (s *Service) BucketStatements() (s3, kms []policy.Statement) {
	return s.bucketS3, s.bucketKMS
}

// AccessPointStatements returns the loaded access-point-family statements.
func (s *Service) AccessPointStatements() (s3, kms []policy.Statement) {
	return s.accessPointS3, s.accessPointKMS
}

// segregate splits a policy document's statements into the four families by
// Sid prefix. Statements outside the families are dropped; share policies
// carry nothing else.
func segregate(doc *policy.Document) (bucketS3, bucketKMS, apS3, apKMS []policy.Statement) {
	for _, stmt := range doc.Statement {
		switch {
		case strings.HasPrefix(stmt.Sid, BucketSid+"S3"):
			bucketS3 = append(bucketS3, stmt)
		case strings.HasPrefix(stmt.Sid, BucketSid+"KMS"):
			bucketKMS = append(bucketKMS, stmt)
		case strings.HasPrefix(stmt.Sid, AccessPointSid+"S3"):
			apS3 = append(apS3, stmt)
		case strings.HasPrefix(stmt.Sid, AccessPointSid+"KMS"):
			apKMS = append(apKMS, stmt)
		}
	}
	return
}

// AddResourcesAndSplit merges target resources into the family's statements
// and re-splits them into size-bounded statements with ordinal Sids.
// resourceService is "s3" or "kms"; KMS families grant "kms:*".
func AddResourcesAndSplit(statements []policy.Statement, targetResources []string, baseSid, resourceService string) []policy.Statement {
	resources := policy.MergeStatementResources(statements)
	for _, r := range targetResources {
		if !contains(resources, r) {
			resources = append(resources, r)
		}
	}
	if len(resources) == 0 {
		return nil
	}
	return policy.SplitResourceStatements(baseSid, "Allow", actionsFor(resourceService), resources, policy.ManagedPolicyMaxBytes)
}

// RemoveResourcesAndSplit removes target resources from the family's
// statements and re-splits the remainder. An empty remainder returns nil, and
// the family disappears from the merged policy set.
func RemoveResourcesAndSplit(statements []policy.Statement, targetResources []string, baseSid, resourceService string) []policy.Statement {
	var resources []string
	for _, r := range policy.MergeStatementResources(statements) {
		if !contains(targetResources, r) {
			resources = append(resources, r)
		}
	}
	if len(resources) == 0 {
		return nil
	}
	return policy.SplitResourceStatements(baseSid, "Allow", actionsFor(resourceService), resources, policy.ManagedPolicyMaxBytes)
}

func actionsFor(resourceService string) []string {
	if resourceService == "s3" {
		return S3AllowedActions
	}
	return []string{resourceService + ":*"}
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

// CheckResourcesInStatements reports whether every target resource appears in
// the family's statements. Verification uses it to detect drift.
func CheckResourcesInStatements(statements []policy.Statement, targetResources []string) bool {
	resources := policy.MergeStatementResources(statements)
	for _, r := range targetResources {
		if !contains(resources, r) {
			return false
		}
	}
	return true
}

// PolicyExists reports whether a managed policy with the given name exists.
func (s *Service) PolicyExists(ctx context.Context, name string) (bool, error) {
	_, err := s.iamAPI.GetPolicy(ctx, &iam.GetPolicyInput{PolicyArn: aws.String(s.policyARN(name))})
	if awsc.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get policy %s: %w", name, err)
	}
	return true, nil
}

// PolicyAttached reports whether the named policy is attached to the role.
func (s *Service) PolicyAttached(ctx context.Context, name string) (bool, error) {
	attached, err := s.attachedPolicyNames(ctx)
	if err != nil {
		return false, err
	}
	return contains(attached, name), nil
}

// AttachPolicies attaches every named policy to the role. Attaching an
// already-attached policy is a no-op on the IAM side.
func (s *Service) AttachPolicies(ctx context.Context, names []string) error {
	for _, name := range names {
		_, err := s.iamAPI.AttachRolePolicy(ctx, &iam.AttachRolePolicyInput{
			RoleName:  aws.String(s.role.Name),
			PolicyArn: aws.String(s.policyARN(name)),
		})
		if err != nil {
			return fmt.Errorf("attach policy %s to role %s: %w", name, s.role.Name, err)
		}
		s.logger.Info("attached share policy", "policy_name", name)
	}
	return nil
}
