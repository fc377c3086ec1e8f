package mpolicy

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	iamtypes "github.com/aws/aws-sdk-go-v2/service/iam/types"
	"github.com/aws/aws-sdk-go-v2/service/servicequotas"

	"github.com/nicholasgasior/datashare/internal/policy"
)

// MergeStatementsAndUpdatePolicies replaces one statement family (targetSid,
// either BucketSid or AccessPointSid) with the given S3 and KMS statements,
// keeps the other family as loaded by InitializeStatements, re-chunks the
// aggregate, and reconciles the indexed policies: missing indexes are created,
// every chunk is published as its policy's new default version, and excess
// policies are detached and deleted. The quota check runs before any policy
// is created.
func (s *Service) MergeStatementsAndUpdatePolicies(ctx context.Context, targetSid string, s3Statements, kmsStatements []policy.Statement) error {
	existing, err := s.ManagedPolicyNames(ctx)
	if err != nil {
		return err
	}

	var aggregated []policy.Statement
	if targetSid == BucketSid {
		aggregated = append(aggregated, s3Statements...)
		aggregated = append(aggregated, kmsStatements...)
		aggregated = append(aggregated, s.accessPointS3...)
		aggregated = append(aggregated, s.accessPointKMS...)
	} else {
		aggregated = append(aggregated, s.bucketS3...)
		aggregated = append(aggregated, s.bucketKMS...)
		aggregated = append(aggregated, s3Statements...)
		aggregated = append(aggregated, kmsStatements...)
	}
	s.logger.Debug("merged share policy statements", "target_sid", targetSid, "statements", len(aggregated))

	// A role always keeps at least policy index 0; with nothing shared it
	// holds the placeholder statement.
	if len(aggregated) == 0 {
		aggregated = []policy.Statement{policy.EmptyStatement()}
	}

	chunks := policy.SplitStatements(aggregated, policy.ManagedPolicyMaxBytes, policy.MaxStatementsPerPolicy)
	if err := policy.ValidateChunkSizes(chunks, policy.ManagedPolicyMaxBytes); err != nil {
		return err
	}
	s.logger.Info("reconciling indexed share policies",
		"chunks", len(chunks), "existing_policies", len(existing))

	// Recreate any policy missing from the contiguous 0..n-1 index range
	// (someone deleted one out from under us).
	var missing []int
	have := map[int]bool{}
	prefix := s.BaseName() + "-"
	for _, name := range existing {
		have[indexOf(name, prefix)] = true
	}
	for i := 0; i < len(existing); i++ {
		if !have[i] {
			missing = append(missing, i)
		}
	}

	if err := s.checkAttachmentLimit(ctx, len(chunks), existing); err != nil {
		return err
	}

	if len(missing) > 0 {
		s.logger.Warn("recreating missing indexed policies", "indexes", missing)
		if err := s.createEmptyPolicies(ctx, missing); err != nil {
			return err
		}
	}
	if len(chunks) > len(existing) {
		var additional []int
		for i := len(existing); i < len(chunks); i++ {
			additional = append(additional, i)
		}
		s.logger.Info("growing indexed policies", "indexes", additional)
		if err := s.createEmptyPolicies(ctx, additional); err != nil {
			return err
		}
	}

	current, err := s.ManagedPolicyNames(ctx)
	if err != nil {
		return err
	}

	for i, chunk := range chunks {
		doc := policy.NewDocument()
		doc.Statement = chunk
		if len(doc.Statement) > 1 {
			doc.RemoveStatement(policy.EmptyStatementSid)
		}
		if err := s.publishVersion(ctx, s.IndexedName(i), doc); err != nil {
			return err
		}
	}

	if len(chunks) < len(current) {
		var excess []int
		for i := len(chunks); i < len(current); i++ {
			excess = append(excess, i)
		}
		s.logger.Info("shrinking indexed policies", "indexes", excess)
		if err := s.deletePolicies(ctx, excess); err != nil {
			return err
		}
	}
	return nil
}

// checkAttachmentLimit fails with ErrQuotaExceeded when the needed number of
// share policies plus the role's unrelated attached policies would exceed the
// managed-policies-per-role quota.
func (s *Service) checkAttachmentLimit(ctx context.Context, needed int, sharePolicies []string) error {
	attached, err := s.attachedPolicyNames(ctx)
	if err != nil {
		return err
	}
	unrelated := 0
	for _, name := range attached {
		if !contains(sharePolicies, name) {
			unrelated++
		}
	}

	quota, err := s.managedPolicyQuota(ctx)
	if err != nil {
		return err
	}
	if needed+unrelated > quota {
		return fmt.Errorf("role %s needs %d share policies with %d unrelated policies attached, quota is %d: %w",
			s.role.Name, needed, unrelated, quota, ErrQuotaExceeded)
	}
	return nil
}

// managedPolicyQuota resolves the applied "Managed policies per role" quota,
// falling back to the IAM default when the lookup cannot find it.
func (s *Service) managedPolicyQuota(ctx context.Context) (int, error) {
	serviceCode, err := s.findServiceCode(ctx)
	if err != nil {
		return 0, err
	}
	if serviceCode == "" {
		s.logger.Warn("service quotas lookup did not find the IAM service, using default quota",
			"default", DefaultManagedPoliciesPerRole)
		return DefaultManagedPoliciesPerRole, nil
	}

	quotaCode, err := s.findQuotaCode(ctx, serviceCode)
	if err != nil {
		return 0, err
	}
	if quotaCode == "" {
		return DefaultManagedPoliciesPerRole, nil
	}

	out, err := s.quotas.GetServiceQuota(ctx, &servicequotas.GetServiceQuotaInput{
		ServiceCode: aws.String(serviceCode),
		QuotaCode:   aws.String(quotaCode),
	})
	if err != nil {
		return 0, fmt.Errorf("get managed policy quota: %w", err)
	}
	if out.Quota == nil || out.Quota.Value == nil {
		return DefaultManagedPoliciesPerRole, nil
	}
	return int(*out.Quota.Value), nil
}

func (s *Service) findServiceCode(ctx context.Context) (string, error) {
	var token *string
	for {
		out, err := s.quotas.ListServices(ctx, &servicequotas.ListServicesInput{NextToken: token})
		if err != nil {
			return "", fmt.Errorf("list service quota services: %w", err)
		}
		for _, svc := range out.Services {
			if aws.ToString(svc.ServiceName) == iamServiceName {
				return aws.ToString(svc.ServiceCode), nil
			}
		}
		if out.NextToken == nil {
			return "", nil
		}
		token = out.NextToken
	}
}

func (s *Service) findQuotaCode(ctx context.Context, serviceCode string) (string, error) {
	var token *string
	for {
		out, err := s.quotas.ListServiceQuotas(ctx, &servicequotas.ListServiceQuotasInput{
			ServiceCode: aws.String(serviceCode),
			NextToken:   token,
		})
		if err != nil {
			return "", fmt.Errorf("list service quotas for %s: %w", serviceCode, err)
		}
		for _, q := range out.Quotas {
			if aws.ToString(q.QuotaName) == managedPoliciesQuota {
				return aws.ToString(q.QuotaCode), nil
			}
		}
		if out.NextToken == nil {
			return "", nil
		}
		token = out.NextToken
	}
}

// createEmptyPolicies creates placeholder policies at the given indexes and
// attaches them to the role.
func (s *Service) createEmptyPolicies(ctx context.Context, indexes []int) error {
	for _, index := range indexes {
		name := s.IndexedName(index)
		doc, err := policy.EmptyDocument().String()
		if err != nil {
			return err
		}
		_, err = s.iamAPI.CreatePolicy(ctx, &iam.CreatePolicyInput{
			PolicyName:     aws.String(name),
			PolicyDocument: aws.String(doc),
		})
		if err != nil {
			return fmt.Errorf("create policy %s: %w", name, err)
		}
		if err := s.AttachPolicies(ctx, []string{name}); err != nil {
			return err
		}
	}
	return nil
}

// deletePolicies detaches and deletes the policies at the given indexes,
// including all non-default versions.
func (s *Service) deletePolicies(ctx context.Context, indexes []int) error {
	for _, index := range indexes {
		name := s.IndexedName(index)
		exists, err := s.PolicyExists(ctx, name)
		if err != nil {
			return err
		}
		if !exists {
			s.logger.Info("indexed policy already gone", "policy_name", name)
			continue
		}
		attached, err := s.PolicyAttached(ctx, name)
		if err != nil {
			return err
		}
		if attached {
			_, err = s.iamAPI.DetachRolePolicy(ctx, &iam.DetachRolePolicyInput{
				RoleName:  aws.String(s.role.Name),
				PolicyArn: aws.String(s.policyARN(name)),
			})
			if err != nil {
				return fmt.Errorf("detach policy %s: %w", name, err)
			}
		}
		if err := s.deleteNonDefaultVersions(ctx, name); err != nil {
			return err
		}
		_, err = s.iamAPI.DeletePolicy(ctx, &iam.DeletePolicyInput{PolicyArn: aws.String(s.policyARN(name))})
		if err != nil {
			return fmt.Errorf("delete policy %s: %w", name, err)
		}
		s.logger.Info("deleted excess share policy", "policy_name", name)
	}
	return nil
}

// defaultVersion reads the default version id and document of a managed
// policy.
func (s *Service) defaultVersion(ctx context.Context, name string) (string, *policy.Document, error) {
	arn := s.policyARN(name)
	meta, err := s.iamAPI.GetPolicy(ctx, &iam.GetPolicyInput{PolicyArn: aws.String(arn)})
	if err != nil {
		return "", nil, fmt.Errorf("get policy %s: %w", name, err)
	}
	versionID := aws.ToString(meta.Policy.DefaultVersionId)
	out, err := s.iamAPI.GetPolicyVersion(ctx, &iam.GetPolicyVersionInput{
		PolicyArn: aws.String(arn),
		VersionId: aws.String(versionID),
	})
	if err != nil {
		return "", nil, fmt.Errorf("get policy %s version %s: %w", name, versionID, err)
	}
	raw, err := urlDecode(aws.ToString(out.PolicyVersion.Document))
	if err != nil {
		return "", nil, fmt.Errorf("decode policy %s document: %w", name, err)
	}
	doc, err := policy.Parse(raw)
	if err != nil {
		return "", nil, fmt.Errorf("parse policy %s document: %w", name, err)
	}
	return versionID, doc, nil
}

// publishVersion sets doc as the policy's new default version, pruning the
// oldest non-default version first when the five-version cap is reached.
func (s *Service) publishVersion(ctx context.Context, name string, doc *policy.Document) error {
	arn := s.policyARN(name)
	if err := s.pruneVersions(ctx, name); err != nil {
		return err
	}
	raw, err := doc.String()
	if err != nil {
		return fmt.Errorf("encode policy %s document: %w", name, err)
	}
	_, err = s.iamAPI.CreatePolicyVersion(ctx, &iam.CreatePolicyVersionInput{
		PolicyArn:      aws.String(arn),
		PolicyDocument: aws.String(raw),
		SetAsDefault:   true,
	})
	if err != nil {
		return fmt.Errorf("publish policy %s version: %w", name, err)
	}
	s.logger.Info("updated share policy", "policy_name", name)
	return nil
}

func (s *Service) pruneVersions(ctx context.Context, name string) error {
	versions, err := s.listVersions(ctx, name)
	if err != nil {
		return err
	}
	// IAM allows five versions per policy; keep room for the one about to
	// be published.
	if len(versions) < 5 {
		return nil
	}
	for _, v := range versions {
		if v.IsDefaultVersion {
			continue
		}
		_, err := s.iamAPI.DeletePolicyVersion(ctx, &iam.DeletePolicyVersionInput{
			PolicyArn: aws.String(s.policyARN(name)),
			VersionId: v.VersionId,
		})
		if err != nil {
			return fmt.Errorf("delete policy %s version %s: %w", name, aws.ToString(v.VersionId), err)
		}
	}
	return nil
}

func (s *Service) deleteNonDefaultVersions(ctx context.Context, name string) error {
	versions, err := s.listVersions(ctx, name)
	if err != nil {
		return err
	}
	for _, v := range versions {
		if v.IsDefaultVersion {
			continue
		}
		_, err := s.iamAPI.DeletePolicyVersion(ctx, &iam.DeletePolicyVersionInput{
			PolicyArn: aws.String(s.policyARN(name)),
			VersionId: v.VersionId,
		})
		if err != nil {
			return fmt.Errorf("delete policy %s version %s: %w", name, aws.ToString(v.VersionId), err)
		}
	}
	return nil
}

func (s *Service) listVersions(ctx context.Context, name string) ([]iamtypes.PolicyVersion, error) {
	out, err := s.iamAPI.ListPolicyVersions(ctx, &iam.ListPolicyVersionsInput{
		PolicyArn: aws.String(s.policyARN(name)),
	})
	if err != nil {
		return nil, fmt.Errorf("list policy %s versions: %w", name, err)
	}
	return out.Versions, nil
}
