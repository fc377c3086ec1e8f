package mpolicy

import (
	"context"
	"fmt"
	"net/url"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/iam"

	"github.com/nicholasgasior/datashare/internal/awsc"
	"github.com/nicholasgasior/datashare/internal/policy"
)

// Inline policy names used by roles onboarded before managed share policies
// existed. The migration drains and deletes them.
const (
	oldInlineAccessPointPolicy = "targetDatasetAccessControlPolicy"
	oldInlineBucketPolicy      = "targetDatasetS3BucketAccessControlPolicy"
)

// EnsureIndexedPolicies upgrades a role to indexed share policies if it still
// carries an older layout, then makes sure every indexed policy is attached.
// Roles already on indexed policies pass through untouched. Run before any
// grant or revoke touches the role.
func (s *Service) EnsureIndexedPolicies(ctx context.Context) error {
	oldExists, err := s.PolicyExists(ctx, s.OldPolicyName())
	if err != nil {
		return err
	}
	indexed, err := s.ManagedPolicyNames(ctx)
	if err != nil {
		return err
	}

	switch {
	case len(indexed) > 0:
		return nil
	case oldExists:
		s.logger.Info("migrating single share policy to indexed policies",
			"old_policy", s.OldPolicyName())
		if err := s.ConvertSingleManagedToIndexed(ctx); err != nil {
			return err
		}
	default:
		s.logger.Info("migrating inline share policies to indexed policies")
		if _, err := s.CreateFromInlineAndDeleteInline(ctx); err != nil {
			return err
		}
	}

	names, err := s.ManagedPolicyNames(ctx)
	if err != nil {
		return err
	}
	return s.AttachPolicies(ctx, names)
}

// CreateFromInlineAndDeleteInline builds indexed managed policies from the
// resources found in the legacy inline policies, then deletes the inline
// policies. Returns the created policy ARNs.
func (s *Service) CreateFromInlineAndDeleteInline(ctx context.Context) ([]string, error) {
	statements, err := s.statementsFromInlinePolicies(ctx)
	if err != nil {
		return nil, fmt.Errorf("generate statements from inline policies: %w", err)
	}
	arns, err := s.createIndexedPolicies(ctx, statements)
	if err != nil {
		return nil, err
	}
	// Additive step done; only now remove the old inline policies.
	for _, name := range []string{oldInlineBucketPolicy, oldInlineAccessPointPolicy} {
		_, err := s.iamAPI.DeleteRolePolicy(ctx, &iam.DeleteRolePolicyInput{
			RoleName:   aws.String(s.role.Name),
			PolicyName: aws.String(name),
		})
		if err != nil && !awsc.IsNotFound(err) {
			s.logger.Error("failed to delete legacy inline policy", "policy_name", name, "error", err)
			continue
		}
		if err == nil {
			s.logger.Info("deleted legacy inline policy", "policy_name", name)
		}
	}
	return arns, nil
}

// ConvertSingleManagedToIndexed splits the pre-indexing single managed policy
// into indexed policies, then detaches and deletes the old one. The indexed
// policies exist before the old policy is removed, so a crash mid-migration
// never strips access.
func (s *Service) ConvertSingleManagedToIndexed(ctx context.Context) error {
	oldName := s.OldPolicyName()
	_, doc, err := s.defaultVersion(ctx, oldName)
	if err != nil {
		return fmt.Errorf("read old managed policy %s: %w", oldName, err)
	}

	bucketS3, bucketKMS, apS3, apKMS := segregate(doc)
	var statements []policy.Statement
	if len(bucketS3)+len(apS3) > 0 {
		statements = append(statements, resplitFamily(bucketS3, bucketKMS, BucketSid)...)
		statements = append(statements, resplitFamily(apS3, apKMS, AccessPointSid)...)
	}
	s.logger.Info("converting old managed policy", "old_policy", oldName, "statements", len(statements))

	if _, err := s.createIndexedPolicies(ctx, statements); err != nil {
		return err
	}

	attached, err := s.PolicyAttached(ctx, oldName)
	if err != nil {
		return err
	}
	if attached {
		_, err = s.iamAPI.DetachRolePolicy(ctx, &iam.DetachRolePolicyInput{
			RoleName:  aws.String(s.role.Name),
			PolicyArn: aws.String(s.policyARN(oldName)),
		})
		if err != nil {
			return fmt.Errorf("detach old policy %s: %w", oldName, err)
		}
	}
	if err := s.deleteNonDefaultVersions(ctx, oldName); err != nil {
		return err
	}
	_, err = s.iamAPI.DeletePolicy(ctx, &iam.DeletePolicyInput{PolicyArn: aws.String(s.policyARN(oldName))})
	if err != nil {
		return fmt.Errorf("delete old policy %s: %w", oldName, err)
	}
	return nil
}

// resplitFamily regenerates one family's statements with fresh ordinal Sids
// and size bounds.
func resplitFamily(s3Statements, kmsStatements []policy.Statement, baseSid string) []policy.Statement {
	var out []policy.Statement
	if resources := policy.MergeStatementResources(s3Statements); len(resources) > 0 {
		out = append(out, policy.SplitResourceStatements(
			baseSid+"S3", "Allow", S3AllowedActions, resources, policy.ManagedPolicyMaxBytes)...)
	}
	if resources := policy.MergeStatementResources(kmsStatements); len(resources) > 0 {
		out = append(out, policy.SplitResourceStatements(
			baseSid+"KMS", "Allow", []string{"kms:*"}, resources, policy.ManagedPolicyMaxBytes)...)
	}
	return out
}

// createIndexedPolicies chunks statements and creates one indexed policy per
// chunk, checking the attachment quota first. An empty statement set still
// creates policy index 0 with the placeholder statement.
func (s *Service) createIndexedPolicies(ctx context.Context, statements []policy.Statement) ([]string, error) {
	if len(statements) == 0 {
		statements = []policy.Statement{policy.EmptyStatement()}
	}
	chunks := policy.SplitStatements(statements, policy.ManagedPolicyMaxBytes, policy.MaxStatementsPerPolicy)
	if err := policy.ValidateChunkSizes(chunks, policy.ManagedPolicyMaxBytes); err != nil {
		return nil, err
	}
	if err := s.checkAttachmentLimit(ctx, len(chunks), nil); err != nil {
		return nil, err
	}

	var arns []string
	for i, chunk := range chunks {
		doc := policy.NewDocument()
		doc.Statement = chunk
		raw, err := doc.String()
		if err != nil {
			return nil, err
		}
		name := s.IndexedName(i)
		out, err := s.iamAPI.CreatePolicy(ctx, &iam.CreatePolicyInput{
			PolicyName:     aws.String(name),
			PolicyDocument: aws.String(raw),
		})
		if err != nil {
			return nil, fmt.Errorf("create policy %s: %w", name, err)
		}
		arns = append(arns, aws.ToString(out.Policy.Arn))
		s.logger.Info("created indexed share policy", "policy_name", name)
	}
	return arns, nil
}

// statementsFromInlinePolicies backfills share statements from the legacy
// inline policy layout: statement 0 held S3 resources, statement 1 KMS keys.
func (s *Service) statementsFromInlinePolicies(ctx context.Context) ([]policy.Statement, error) {
	bucketS3, bucketKMS, err := s.inlinePolicyResources(ctx, oldInlineBucketPolicy)
	if err != nil {
		return nil, err
	}
	apS3, apKMS, err := s.inlinePolicyResources(ctx, oldInlineAccessPointPolicy)
	if err != nil {
		return nil, err
	}

	var statements []policy.Statement
	if len(bucketS3)+len(apS3) == 0 {
		return statements, nil
	}
	if len(bucketS3) > 0 {
		statements = append(statements, policy.SplitResourceStatements(
			BucketSid+"S3", "Allow", S3AllowedActions, bucketS3, policy.ManagedPolicyMaxBytes)...)
	}
	if len(bucketKMS) > 0 {
		statements = append(statements, policy.SplitResourceStatements(
			BucketSid+"KMS", "Allow", []string{"kms:*"}, bucketKMS, policy.ManagedPolicyMaxBytes)...)
	}
	if len(apS3) > 0 {
		statements = append(statements, policy.SplitResourceStatements(
			AccessPointSid+"S3", "Allow", S3AllowedActions, apS3, policy.ManagedPolicyMaxBytes)...)
	}
	if len(apKMS) > 0 {
		statements = append(statements, policy.SplitResourceStatements(
			AccessPointSid+"KMS", "Allow", []string{"kms:*"}, apKMS, policy.ManagedPolicyMaxBytes)...)
	}
	return statements, nil
}

func (s *Service) inlinePolicyResources(ctx context.Context, policyName string) (s3Resources, kmsResources []string, err error) {
	out, err := s.iamAPI.GetRolePolicy(ctx, &iam.GetRolePolicyInput{
		RoleName:   aws.String(s.role.Name),
		PolicyName: aws.String(policyName),
	})
	if awsc.IsNotFound(err) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("get inline policy %s: %w", policyName, err)
	}
	raw, err := urlDecode(aws.ToString(out.PolicyDocument))
	if err != nil {
		return nil, nil, fmt.Errorf("decode inline policy %s: %w", policyName, err)
	}
	doc, err := policy.Parse(raw)
	if err != nil {
		return nil, nil, fmt.Errorf("parse inline policy %s: %w", policyName, err)
	}
	if len(doc.Statement) > 0 {
		s3Resources = doc.Statement[0].Resource
	}
	if len(doc.Statement) > 1 {
		kmsResources = doc.Statement[1].Resource
	}
	return s3Resources, kmsResources, nil
}

// urlDecode unescapes the URL-encoded policy documents IAM returns.
func urlDecode(raw string) (string, error) {
	return url.QueryUnescape(raw)
}
