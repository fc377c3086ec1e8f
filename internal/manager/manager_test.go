package manager

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	iamtypes "github.com/aws/aws-sdk-go-v2/service/iam/types"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	kmstypes "github.com/aws/aws-sdk-go-v2/service/kms/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3control"
	"github.com/aws/smithy-go"

	"github.com/nicholasgasior/datashare/internal/policy"
	"github.com/nicholasgasior/datashare/internal/share"
)

func notFound(code string) error {
	return &smithy.GenericAPIError{Code: code, Message: "not found"}
}

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

type fakeRoles struct {
	// name -> unique role id
	roles map[string]string
}

func (f *fakeRoles) GetRole(_ context.Context, in *iam.GetRoleInput, _ ...func(*iam.Options)) (*iam.GetRoleOutput, error) {
	name := aws.ToString(in.RoleName)
	id, ok := f.roles[name]
	if !ok {
		return nil, notFound("NoSuchEntity")
	}
	return &iam.GetRoleOutput{Role: &iamtypes.Role{
		RoleName: in.RoleName,
		RoleId:   aws.String(id),
		Arn:      aws.String("arn:aws:iam::444455556666:role/" + name),
	}}, nil
}

type fakeBucketPolicies struct {
	// bucket -> policy JSON
	policies map[string]string
	putCalls int
}

func (f *fakeBucketPolicies) GetBucketPolicy(_ context.Context, in *s3.GetBucketPolicyInput, _ ...func(*s3.Options)) (*s3.GetBucketPolicyOutput, error) {
	raw, ok := f.policies[aws.ToString(in.Bucket)]
	if !ok {
		return nil, notFound("NoSuchBucketPolicy")
	}
	return &s3.GetBucketPolicyOutput{Policy: aws.String(raw)}, nil
}

func (f *fakeBucketPolicies) PutBucketPolicy(_ context.Context, in *s3.PutBucketPolicyInput, _ ...func(*s3.Options)) (*s3.PutBucketPolicyOutput, error) {
	if f.policies == nil {
		f.policies = map[string]string{}
	}
	f.policies[aws.ToString(in.Bucket)] = aws.ToString(in.Policy)
	f.putCalls++
	return &s3.PutBucketPolicyOutput{}, nil
}

type fakeKeys struct {
	// alias -> key id
	aliases map[string]string
	// key id -> policy JSON
	policies map[string]string
}

func (f *fakeKeys) DescribeKey(_ context.Context, in *kms.DescribeKeyInput, _ ...func(*kms.Options)) (*kms.DescribeKeyOutput, error) {
	alias := aws.ToString(in.KeyId)
	keyID, ok := f.aliases[alias]
	if !ok {
		return nil, notFound("NotFoundException")
	}
	return &kms.DescribeKeyOutput{KeyMetadata: &kmstypes.KeyMetadata{KeyId: aws.String(keyID)}}, nil
}

func (f *fakeKeys) GetKeyPolicy(_ context.Context, in *kms.GetKeyPolicyInput, _ ...func(*kms.Options)) (*kms.GetKeyPolicyOutput, error) {
	raw, ok := f.policies[aws.ToString(in.KeyId)]
	if !ok {
		raw = `{"Version":"2012-10-17","Statement":[]}`
	}
	return &kms.GetKeyPolicyOutput{Policy: aws.String(raw)}, nil
}

func (f *fakeKeys) PutKeyPolicy(_ context.Context, in *kms.PutKeyPolicyInput, _ ...func(*kms.Options)) (*kms.PutKeyPolicyOutput, error) {
	if f.policies == nil {
		f.policies = map[string]string{}
	}
	f.policies[aws.ToString(in.KeyId)] = aws.ToString(in.Policy)
	return &kms.PutKeyPolicyOutput{}, nil
}

type fakeAccessPoints struct {
	accountID string
	// name -> arn; an entry exists once the access point is visible
	points map[string]string
	// name -> policy JSON
	policies map[string]string
	// pendingReads makes GetAccessPoint return not-found this many times
	// after creation, imitating eventual consistency
	pendingReads int
	deleted      []string
}

func (f *fakeAccessPoints) arn(name string) string {
	return "arn:aws:s3:eu-west-1:" + f.accountID + ":accesspoint/" + name
}

func (f *fakeAccessPoints) GetAccessPoint(_ context.Context, in *s3control.GetAccessPointInput, _ ...func(*s3control.Options)) (*s3control.GetAccessPointOutput, error) {
	name := aws.ToString(in.Name)
	arn, ok := f.points[name]
	if !ok {
		return nil, notFound("NoSuchAccessPoint")
	}
	if f.pendingReads > 0 {
		f.pendingReads--
		return nil, notFound("NoSuchAccessPoint")
	}
	return &s3control.GetAccessPointOutput{
		Name:           in.Name,
		AccessPointArn: aws.String(arn),
	}, nil
}

func (f *fakeAccessPoints) CreateAccessPoint(_ context.Context, in *s3control.CreateAccessPointInput, _ ...func(*s3control.Options)) (*s3control.CreateAccessPointOutput, error) {
	name := aws.ToString(in.Name)
	if f.points == nil {
		f.points = map[string]string{}
	}
	f.points[name] = f.arn(name)
	return &s3control.CreateAccessPointOutput{AccessPointArn: aws.String(f.arn(name))}, nil
}

func (f *fakeAccessPoints) DeleteAccessPoint(_ context.Context, in *s3control.DeleteAccessPointInput, _ ...func(*s3control.Options)) (*s3control.DeleteAccessPointOutput, error) {
	name := aws.ToString(in.Name)
	if _, ok := f.points[name]; !ok {
		return nil, notFound("NoSuchAccessPoint")
	}
	delete(f.points, name)
	delete(f.policies, name)
	f.deleted = append(f.deleted, name)
	return &s3control.DeleteAccessPointOutput{}, nil
}

func (f *fakeAccessPoints) GetAccessPointPolicy(_ context.Context, in *s3control.GetAccessPointPolicyInput, _ ...func(*s3control.Options)) (*s3control.GetAccessPointPolicyOutput, error) {
	raw, ok := f.policies[aws.ToString(in.Name)]
	if !ok {
		return nil, notFound("NoSuchAccessPointPolicy")
	}
	return &s3control.GetAccessPointPolicyOutput{Policy: aws.String(raw)}, nil
}

func (f *fakeAccessPoints) PutAccessPointPolicy(_ context.Context, in *s3control.PutAccessPointPolicyInput, _ ...func(*s3control.Options)) (*s3control.PutAccessPointPolicyOutput, error) {
	if f.policies == nil {
		f.policies = map[string]string{}
	}
	f.policies[aws.ToString(in.Name)] = aws.ToString(in.Policy)
	return &s3control.PutAccessPointPolicyOutput{}, nil
}

// ---------------------------------------------------------------------------
// Fixtures
// ---------------------------------------------------------------------------

func testShareData(perms ...share.Permission) *share.Data {
	if len(perms) == 0 {
		perms = []share.Permission{share.PermissionRead}
	}
	return &share.Data{
		Share: &share.Object{
			URI:               "share-1",
			DatasetURI:        "ds-sales",
			PrincipalID:       "team-analytics",
			PrincipalType:     share.PrincipalGroup,
			PrincipalRoleName: "analytics-consumer",
			Permissions:       perms,
		},
		Dataset: &share.Dataset{
			URI:              "ds-sales",
			Name:             "sales",
			AccountID:        "111122223333",
			Region:           "eu-west-1",
			GlueDatabaseName: "sales_db",
			S3BucketName:     "sales-data",
			KMSAlias:         "sales-data-key",
		},
		SourceEnvironment: &share.Environment{URI: "env-src", AccountID: "111122223333", Region: "eu-west-1"},
		TargetEnvironment: &share.Environment{URI: "env-tgt", AccountID: "444455556666", Region: "eu-west-1"},
	}
}

func testBucket() *share.Bucket {
	return &share.Bucket{
		URI:        "bucket-1",
		DatasetURI: "ds-sales",
		Name:       "sales-data",
		Region:     "eu-west-1",
		AccountID:  "111122223333",
		KMSAlias:   "sales-data-key",
	}
}

func testLocation() *share.StorageLocation {
	return &share.StorageLocation{
		URI:        "folder-1",
		DatasetURI: "ds-sales",
		BucketName: "sales-data",
		S3Prefix:   "reports",
		Region:     "eu-west-1",
		AccountID:  "111122223333",
	}
}

func mustParse(t testingT, raw string) *policy.Document {
	t.Helper()
	doc, err := policy.Parse(raw)
	if err != nil {
		t.Fatalf("parse policy: %v", err)
	}
	return doc
}

// testingT is the subset of *testing.T the helpers need.
type testingT interface {
	Helper()
	Fatalf(format string, args ...any)
}
