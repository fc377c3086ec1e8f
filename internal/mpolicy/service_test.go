package mpolicy

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	iamtypes "github.com/aws/aws-sdk-go-v2/service/iam/types"
	"github.com/aws/aws-sdk-go-v2/service/servicequotas"
	sqtypes "github.com/aws/aws-sdk-go-v2/service/servicequotas/types"
	"github.com/aws/smithy-go"
	"github.com/hashicorp/go-hclog"

	"github.com/nicholasgasior/datashare/internal/policy"
)

const testARNPrefix = "arn:aws:s3:::"

var testRole = Role{
	Name:           "consumer-role",
	AccountID:      "111122223333",
	Region:         "eu-west-1",
	EnvironmentURI: "env-1",
	ResourcePrefix: "catalog",
}

// fakeIAM is an in-memory IAM backend covering the operations the service
// uses: managed policies with versions, role attachments, inline policies.
type fakeIAM struct {
	policies map[string]*fakePolicy
	attached map[string]bool
	inline   map[string]string

	createCalls int
}

type fakePolicy struct {
	versions       []string
	defaultVersion int
}

func newFakeIAM() *fakeIAM {
	return &fakeIAM{
		policies: map[string]*fakePolicy{},
		attached: map[string]bool{},
		inline:   map[string]string{},
	}
}

func notFoundErr() error {
	return &smithy.GenericAPIError{Code: "NoSuchEntity", Message: "not found"}
}

func nameFromARN(arn string) string {
	parts := strings.Split(arn, "/")
	return parts[len(parts)-1]
}

func (f *fakeIAM) GetRole(_ context.Context, params *iam.GetRoleInput, _ ...func(*iam.Options)) (*iam.GetRoleOutput, error) {
	return &iam.GetRoleOutput{Role: &iamtypes.Role{RoleName: params.RoleName}}, nil
}

func (f *fakeIAM) GetRolePolicy(_ context.Context, params *iam.GetRolePolicyInput, _ ...func(*iam.Options)) (*iam.GetRolePolicyOutput, error) {
	doc, ok := f.inline[aws.ToString(params.PolicyName)]
	if !ok {
		return nil, notFoundErr()
	}
	return &iam.GetRolePolicyOutput{PolicyDocument: aws.String(doc)}, nil
}

func (f *fakeIAM) DeleteRolePolicy(_ context.Context, params *iam.DeleteRolePolicyInput, _ ...func(*iam.Options)) (*iam.DeleteRolePolicyOutput, error) {
	name := aws.ToString(params.PolicyName)
	if _, ok := f.inline[name]; !ok {
		return nil, notFoundErr()
	}
	delete(f.inline, name)
	return &iam.DeleteRolePolicyOutput{}, nil
}

func (f *fakeIAM) GetPolicy(_ context.Context, params *iam.GetPolicyInput, _ ...func(*iam.Options)) (*iam.GetPolicyOutput, error) {
	name := nameFromARN(aws.ToString(params.PolicyArn))
	p, ok := f.policies[name]
	if !ok {
		return nil, notFoundErr()
	}
	return &iam.GetPolicyOutput{Policy: &iamtypes.Policy{
		PolicyName:       aws.String(name),
		Arn:              params.PolicyArn,
		DefaultVersionId: aws.String(fmt.Sprintf("v%d", p.defaultVersion+1)),
	}}, nil
}

func (f *fakeIAM) GetPolicyVersion(_ context.Context, params *iam.GetPolicyVersionInput, _ ...func(*iam.Options)) (*iam.GetPolicyVersionOutput, error) {
	name := nameFromARN(aws.ToString(params.PolicyArn))
	p, ok := f.policies[name]
	if !ok {
		return nil, notFoundErr()
	}
	var idx int
	if _, err := fmt.Sscanf(aws.ToString(params.VersionId), "v%d", &idx); err != nil {
		return nil, err
	}
	if idx < 1 || idx > len(p.versions) || p.versions[idx-1] == "" {
		return nil, notFoundErr()
	}
	return &iam.GetPolicyVersionOutput{PolicyVersion: &iamtypes.PolicyVersion{
		VersionId: params.VersionId,
		Document:  aws.String(p.versions[idx-1]),
	}}, nil
}

func (f *fakeIAM) CreatePolicy(_ context.Context, params *iam.CreatePolicyInput, _ ...func(*iam.Options)) (*iam.CreatePolicyOutput, error) {
	f.createCalls++
	name := aws.ToString(params.PolicyName)
	if _, ok := f.policies[name]; ok {
		return nil, &smithy.GenericAPIError{Code: "EntityAlreadyExists", Message: name}
	}
	f.policies[name] = &fakePolicy{versions: []string{aws.ToString(params.PolicyDocument)}}
	arn := "arn:aws:iam::" + testRole.AccountID + ":policy/" + name
	return &iam.CreatePolicyOutput{Policy: &iamtypes.Policy{
		PolicyName: params.PolicyName,
		Arn:        aws.String(arn),
	}}, nil
}

func (f *fakeIAM) CreatePolicyVersion(_ context.Context, params *iam.CreatePolicyVersionInput, _ ...func(*iam.Options)) (*iam.CreatePolicyVersionOutput, error) {
	name := nameFromARN(aws.ToString(params.PolicyArn))
	p, ok := f.policies[name]
	if !ok {
		return nil, notFoundErr()
	}
	live := 0
	for _, v := range p.versions {
		if v != "" {
			live++
		}
	}
	if live >= 5 {
		return nil, &smithy.GenericAPIError{Code: "LimitExceeded", Message: "too many versions"}
	}
	p.versions = append(p.versions, aws.ToString(params.PolicyDocument))
	if params.SetAsDefault {
		p.defaultVersion = len(p.versions) - 1
	}
	return &iam.CreatePolicyVersionOutput{}, nil
}

func (f *fakeIAM) DeletePolicy(_ context.Context, params *iam.DeletePolicyInput, _ ...func(*iam.Options)) (*iam.DeletePolicyOutput, error) {
	name := nameFromARN(aws.ToString(params.PolicyArn))
	if _, ok := f.policies[name]; !ok {
		return nil, notFoundErr()
	}
	if f.attached[name] {
		return nil, &smithy.GenericAPIError{Code: "DeleteConflict", Message: "still attached"}
	}
	delete(f.policies, name)
	return &iam.DeletePolicyOutput{}, nil
}

func (f *fakeIAM) DeletePolicyVersion(_ context.Context, params *iam.DeletePolicyVersionInput, _ ...func(*iam.Options)) (*iam.DeletePolicyVersionOutput, error) {
	name := nameFromARN(aws.ToString(params.PolicyArn))
	p, ok := f.policies[name]
	if !ok {
		return nil, notFoundErr()
	}
	var idx int
	if _, err := fmt.Sscanf(aws.ToString(params.VersionId), "v%d", &idx); err != nil {
		return nil, err
	}
	if idx-1 == p.defaultVersion {
		return nil, &smithy.GenericAPIError{Code: "DeleteConflict", Message: "default version"}
	}
	p.versions[idx-1] = ""
	return &iam.DeletePolicyVersionOutput{}, nil
}

func (f *fakeIAM) ListPolicyVersions(_ context.Context, params *iam.ListPolicyVersionsInput, _ ...func(*iam.Options)) (*iam.ListPolicyVersionsOutput, error) {
	name := nameFromARN(aws.ToString(params.PolicyArn))
	p, ok := f.policies[name]
	if !ok {
		return nil, notFoundErr()
	}
	var versions []iamtypes.PolicyVersion
	for i, v := range p.versions {
		if v == "" {
			continue
		}
		versions = append(versions, iamtypes.PolicyVersion{
			VersionId:        aws.String(fmt.Sprintf("v%d", i+1)),
			IsDefaultVersion: i == p.defaultVersion,
		})
	}
	return &iam.ListPolicyVersionsOutput{Versions: versions}, nil
}

func (f *fakeIAM) AttachRolePolicy(_ context.Context, params *iam.AttachRolePolicyInput, _ ...func(*iam.Options)) (*iam.AttachRolePolicyOutput, error) {
	f.attached[nameFromARN(aws.ToString(params.PolicyArn))] = true
	return &iam.AttachRolePolicyOutput{}, nil
}

func (f *fakeIAM) DetachRolePolicy(_ context.Context, params *iam.DetachRolePolicyInput, _ ...func(*iam.Options)) (*iam.DetachRolePolicyOutput, error) {
	name := nameFromARN(aws.ToString(params.PolicyArn))
	if !f.attached[name] {
		return nil, notFoundErr()
	}
	delete(f.attached, name)
	return &iam.DetachRolePolicyOutput{}, nil
}

func (f *fakeIAM) ListAttachedRolePolicies(_ context.Context, _ *iam.ListAttachedRolePoliciesInput, _ ...func(*iam.Options)) (*iam.ListAttachedRolePoliciesOutput, error) {
	var out []iamtypes.AttachedPolicy
	for name := range f.attached {
		out = append(out, iamtypes.AttachedPolicy{
			PolicyName: aws.String(name),
			PolicyArn:  aws.String("arn:aws:iam::" + testRole.AccountID + ":policy/" + name),
		})
	}
	return &iam.ListAttachedRolePoliciesOutput{AttachedPolicies: out}, nil
}

// fakeQuotas reports a fixed managed-policies-per-role quota, or simulates a
// failed lookup when quota is zero.
type fakeQuotas struct {
	quota float64
}

func (f *fakeQuotas) ListServices(_ context.Context, _ *servicequotas.ListServicesInput, _ ...func(*servicequotas.Options)) (*servicequotas.ListServicesOutput, error) {
	if f.quota == 0 {
		return &servicequotas.ListServicesOutput{}, nil
	}
	return &servicequotas.ListServicesOutput{Services: []sqtypes.ServiceInfo{
		{ServiceName: aws.String("Amazon EC2"), ServiceCode: aws.String("ec2")},
		{ServiceName: aws.String(iamServiceName), ServiceCode: aws.String("iam")},
	}}, nil
}

func (f *fakeQuotas) ListServiceQuotas(_ context.Context, _ *servicequotas.ListServiceQuotasInput, _ ...func(*servicequotas.Options)) (*servicequotas.ListServiceQuotasOutput, error) {
	return &servicequotas.ListServiceQuotasOutput{Quotas: []sqtypes.ServiceQuota{
		{QuotaName: aws.String(managedPoliciesQuota), QuotaCode: aws.String("L-0DA4ABF3")},
	}}, nil
}

func (f *fakeQuotas) GetServiceQuota(_ context.Context, _ *servicequotas.GetServiceQuotaInput, _ ...func(*servicequotas.Options)) (*servicequotas.GetServiceQuotaOutput, error) {
	return &servicequotas.GetServiceQuotaOutput{Quota: &sqtypes.ServiceQuota{Value: aws.Float64(f.quota)}}, nil
}

func newTestService(f *fakeIAM, quota float64) *Service {
	return New(f, &fakeQuotas{quota: quota}, testRole, hclog.NewNullLogger())
}

// seedPolicy creates an attached indexed policy holding the given statements.
func seedPolicy(t *testing.T, f *fakeIAM, svc *Service, index int, statements ...policy.Statement) {
	t.Helper()
	doc := policy.NewDocument()
	doc.Statement = statements
	if len(statements) == 0 {
		doc = policy.EmptyDocument()
	}
	raw, err := doc.String()
	if err != nil {
		t.Fatal(err)
	}
	name := svc.IndexedName(index)
	f.policies[name] = &fakePolicy{versions: []string{raw}}
	f.attached[name] = true
}

func bucketStatement(t *testing.T, ordinal int, buckets ...string) policy.Statement {
	t.Helper()
	var resources []string
	for _, b := range buckets {
		resources = append(resources, testARNPrefix+b, testARNPrefix+b+"/*")
	}
	return policy.Statement{
		Sid:      fmt.Sprintf("%sS3%d", BucketSid, ordinal),
		Effect:   "Allow",
		Action:   policy.StringList(S3AllowedActions),
		Resource: policy.StringList(resources),
	}
}

func TestInitializeStatementsPartitionsFamilies(t *testing.T) {
	f := newFakeIAM()
	svc := newTestService(f, 10)

	seedPolicy(t, f, svc, 0,
		bucketStatement(t, 0, "bucket-a"),
		policy.Statement{Sid: BucketSid + "KMS0", Effect: "Allow", Action: policy.StringList{"kms:*"}, Resource: policy.StringList{"arn:aws:kms:eu-west-1:111122223333:key/k1"}},
		policy.Statement{Sid: AccessPointSid + "S30", Effect: "Allow", Action: policy.StringList(S3AllowedActions), Resource: policy.StringList{"arn:aws:s3:eu-west-1:111122223333:accesspoint/ap1"}},
	)

	if err := svc.InitializeStatements(context.Background()); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	bs3, bkms := svc.BucketStatements()
	aps3, apkms := svc.AccessPointStatements()
	if len(bs3) != 1 || len(bkms) != 1 || len(aps3) != 1 || len(apkms) != 0 {
		t.Fatalf("bad partition: %d %d %d %d", len(bs3), len(bkms), len(aps3), len(apkms))
	}
}

func TestMergeGrowsIndexedPolicies(t *testing.T) {
	f := newFakeIAM()
	svc := newTestService(f, 10)
	seedPolicy(t, f, svc, 0)

	if err := svc.InitializeStatements(context.Background()); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	// Enough distinct bucket resources that the statements cannot fit one
	// managed policy document.
	var resources []string
	for i := 0; i < 120; i++ {
		bucket := fmt.Sprintf("%svery-long-dataset-bucket-name-%04d", testARNPrefix, i)
		resources = append(resources, bucket, bucket+"/*")
	}
	statements := policy.SplitResourceStatements(BucketSid+"S3", "Allow", S3AllowedActions, resources, policy.ManagedPolicyMaxBytes)
	if len(statements) < 2 {
		t.Fatalf("expected multiple statements, got %d", len(statements))
	}

	if err := svc.MergeStatementsAndUpdatePolicies(context.Background(), BucketSid, statements, nil); err != nil {
		t.Fatalf("merge: %v", err)
	}

	names, err := svc.ManagedPolicyNames(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(names) < 2 {
		t.Fatalf("expected policy growth, got %v", names)
	}
	for _, name := range names {
		if !f.attached[name] {
			t.Fatalf("policy %s not attached", name)
		}
	}
}

func TestMergeShrinksAndDeletesExcessPolicies(t *testing.T) {
	f := newFakeIAM()
	svc := newTestService(f, 10)
	seedPolicy(t, f, svc, 0, bucketStatement(t, 0, "bucket-a"))
	seedPolicy(t, f, svc, 1, bucketStatement(t, 1, "bucket-b"))
	seedPolicy(t, f, svc, 2, bucketStatement(t, 2, "bucket-c"))

	if err := svc.InitializeStatements(context.Background()); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	remaining := []policy.Statement{bucketStatement(t, 0, "bucket-a")}
	if err := svc.MergeStatementsAndUpdatePolicies(context.Background(), BucketSid, remaining, nil); err != nil {
		t.Fatalf("merge: %v", err)
	}

	names, err := svc.ManagedPolicyNames(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(names) != 1 || names[0] != svc.IndexedName(0) {
		t.Fatalf("expected only index 0 to remain, got %v", names)
	}
	if _, ok := f.policies[svc.IndexedName(1)]; ok {
		t.Fatal("excess policy 1 not deleted")
	}
	if _, ok := f.policies[svc.IndexedName(2)]; ok {
		t.Fatal("excess policy 2 not deleted")
	}
}

func TestMergeEmptyAggregateKeepsPlaceholder(t *testing.T) {
	f := newFakeIAM()
	svc := newTestService(f, 10)
	seedPolicy(t, f, svc, 0, bucketStatement(t, 0, "bucket-a"))

	if err := svc.InitializeStatements(context.Background()); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if err := svc.MergeStatementsAndUpdatePolicies(context.Background(), BucketSid, nil, nil); err != nil {
		t.Fatalf("merge: %v", err)
	}

	_, doc, err := svc.defaultVersion(context.Background(), svc.IndexedName(0))
	if err != nil {
		t.Fatalf("read policy: %v", err)
	}
	if doc.FindStatementBySid(policy.EmptyStatementSid) < 0 {
		t.Fatalf("expected placeholder statement, got %+v", doc.Statement)
	}
}

func TestMergeQuotaExceededCreatesNothing(t *testing.T) {
	f := newFakeIAM()
	svc := newTestService(f, 2)
	seedPolicy(t, f, svc, 0)
	// Two unrelated policies already attached eat the whole quota.
	f.attached["ops-policy"] = true
	f.attached["audit-policy"] = true

	if err := svc.InitializeStatements(context.Background()); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	statements := []policy.Statement{bucketStatement(t, 0, "bucket-a")}
	err := svc.MergeStatementsAndUpdatePolicies(context.Background(), BucketSid, statements, nil)
	if !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("expected ErrQuotaExceeded, got %v", err)
	}
	if f.createCalls != 0 {
		t.Fatalf("policies created despite quota failure: %d", f.createCalls)
	}
}

func TestQuotaLookupFallsBackToDefault(t *testing.T) {
	f := newFakeIAM()
	svc := newTestService(f, 0) // lookup finds nothing

	quota, err := svc.managedPolicyQuota(context.Background())
	if err != nil {
		t.Fatalf("quota: %v", err)
	}
	if quota != DefaultManagedPoliciesPerRole {
		t.Fatalf("expected default quota %d, got %d", DefaultManagedPoliciesPerRole, quota)
	}
}

func TestEnsureIndexedPoliciesMigratesInline(t *testing.T) {
	f := newFakeIAM()
	svc := newTestService(f, 10)

	inline := policy.NewDocument()
	inline.Statement = []policy.Statement{
		{Sid: "s3", Effect: "Allow", Action: policy.StringList(S3AllowedActions),
			Resource: policy.StringList{testARNPrefix + "legacy-bucket", testARNPrefix + "legacy-bucket/*"}},
		{Sid: "kms", Effect: "Allow", Action: policy.StringList{"kms:*"},
			Resource: policy.StringList{"arn:aws:kms:eu-west-1:111122223333:key/k1"}},
	}
	raw, err := inline.String()
	if err != nil {
		t.Fatal(err)
	}
	f.inline[oldInlineBucketPolicy] = raw

	if err := svc.EnsureIndexedPolicies(context.Background()); err != nil {
		t.Fatalf("ensure: %v", err)
	}

	names, err := svc.ManagedPolicyNames(context.Background())
	if err != nil || len(names) == 0 {
		t.Fatalf("no indexed policies after migration: %v %v", names, err)
	}
	if _, ok := f.inline[oldInlineBucketPolicy]; ok {
		t.Fatal("legacy inline policy not deleted")
	}

	_, doc, err := svc.defaultVersion(context.Background(), svc.IndexedName(0))
	if err != nil {
		t.Fatalf("read policy: %v", err)
	}
	bs3, bkms, _, _ := segregate(doc)
	if len(bs3) == 0 || len(bkms) == 0 {
		t.Fatalf("migrated statements missing: s3=%d kms=%d", len(bs3), len(bkms))
	}
}

func TestEnsureIndexedPoliciesConvertsOldManagedPolicy(t *testing.T) {
	f := newFakeIAM()
	svc := newTestService(f, 10)

	old := policy.NewDocument()
	old.Statement = []policy.Statement{bucketStatement(t, 0, "bucket-a")}
	raw, err := old.String()
	if err != nil {
		t.Fatal(err)
	}
	f.policies[svc.OldPolicyName()] = &fakePolicy{versions: []string{raw}}
	f.attached[svc.OldPolicyName()] = true

	if err := svc.EnsureIndexedPolicies(context.Background()); err != nil {
		t.Fatalf("ensure: %v", err)
	}

	if _, ok := f.policies[svc.OldPolicyName()]; ok {
		t.Fatal("old managed policy not deleted")
	}
	names, err := svc.ManagedPolicyNames(context.Background())
	if err != nil || len(names) != 1 {
		t.Fatalf("expected one indexed policy, got %v %v", names, err)
	}
	_, doc, err := svc.defaultVersion(context.Background(), names[0])
	if err != nil {
		t.Fatalf("read policy: %v", err)
	}
	bs3, _, _, _ := segregate(doc)
	if !CheckResourcesInStatements(bs3, []string{testARNPrefix + "bucket-a", testARNPrefix + "bucket-a/*"}) {
		t.Fatalf("converted policy missing bucket resources: %+v", doc.Statement)
	}
}

func TestEnsureIndexedPoliciesNoopWhenIndexed(t *testing.T) {
	f := newFakeIAM()
	svc := newTestService(f, 10)
	seedPolicy(t, f, svc, 0, bucketStatement(t, 0, "bucket-a"))

	if err := svc.EnsureIndexedPolicies(context.Background()); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if f.createCalls != 0 {
		t.Fatalf("no-op path created %d policies", f.createCalls)
	}
}

func TestAddAndRemoveResourcesRoundTrip(t *testing.T) {
	base := []policy.Statement{bucketStatement(t, 0, "bucket-a")}
	target := []string{testARNPrefix + "bucket-b", testARNPrefix + "bucket-b/*"}

	added := AddResourcesAndSplit(base, target, BucketSid+"S3", "s3")
	if !CheckResourcesInStatements(added, target) {
		t.Fatal("added resources missing")
	}

	removed := RemoveResourcesAndSplit(added, target, BucketSid+"S3", "s3")
	if CheckResourcesInStatements(removed, target) {
		t.Fatal("removed resources still present")
	}
	if !CheckResourcesInStatements(removed, []string{testARNPrefix + "bucket-a"}) {
		t.Fatal("sibling resources lost during removal")
	}

	// Removing everything collapses the family.
	all := RemoveResourcesAndSplit(removed, policy.MergeStatementResources(removed), BucketSid+"S3", "s3")
	if all != nil {
		t.Fatalf("expected empty family, got %+v", all)
	}
}
