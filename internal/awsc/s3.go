// This file defines narrow interfaces for the S3 and S3 Control operations
// used by the bucket and access point share managers: bucket policy
// read-modify-write and access point lifecycle.
package awsc

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3control"
)

// GetBucketPolicyAPI reads a bucket policy document.
type GetBucketPolicyAPI interface {
	GetBucketPolicy(ctx context.Context, params *s3.GetBucketPolicyInput, optFns ...func(*s3.Options)) (*s3.GetBucketPolicyOutput, error)
}

// PutBucketPolicyAPI writes a bucket policy document.
type PutBucketPolicyAPI interface {
	PutBucketPolicy(ctx context.Context, params *s3.PutBucketPolicyInput, optFns ...func(*s3.Options)) (*s3.PutBucketPolicyOutput, error)
}

// BucketPolicyAPI groups the bucket policy read-modify-write pair.
type BucketPolicyAPI interface {
	GetBucketPolicyAPI
	PutBucketPolicyAPI
}

// GetAccessPointAPI reads access point metadata (existence, ARN, alias).
type GetAccessPointAPI interface {
	GetAccessPoint(ctx context.Context, params *s3control.GetAccessPointInput, optFns ...func(*s3control.Options)) (*s3control.GetAccessPointOutput, error)
}

// CreateAccessPointAPI creates an access point on a bucket. Creation is
// eventually consistent; callers poll GetAccessPoint afterwards.
type CreateAccessPointAPI interface {
	CreateAccessPoint(ctx context.Context, params *s3control.CreateAccessPointInput, optFns ...func(*s3control.Options)) (*s3control.CreateAccessPointOutput, error)
}

// DeleteAccessPointAPI deletes an access point once no share references it.
type DeleteAccessPointAPI interface {
	DeleteAccessPoint(ctx context.Context, params *s3control.DeleteAccessPointInput, optFns ...func(*s3control.Options)) (*s3control.DeleteAccessPointOutput, error)
}

// GetAccessPointPolicyAPI reads an access point policy document.
type GetAccessPointPolicyAPI interface {
	GetAccessPointPolicy(ctx context.Context, params *s3control.GetAccessPointPolicyInput, optFns ...func(*s3control.Options)) (*s3control.GetAccessPointPolicyOutput, error)
}

// PutAccessPointPolicyAPI writes an access point policy document.
type PutAccessPointPolicyAPI interface {
	PutAccessPointPolicy(ctx context.Context, params *s3control.PutAccessPointPolicyInput, optFns ...func(*s3control.Options)) (*s3control.PutAccessPointPolicyOutput, error)
}

// AccessPointAPI groups every S3 Control operation the folder share manager
// needs into a single interface for mock injection in tests.
type AccessPointAPI interface {
	GetAccessPointAPI
	CreateAccessPointAPI
	DeleteAccessPointAPI
	GetAccessPointPolicyAPI
	PutAccessPointPolicyAPI
}

// Compile-time checks: the real clients satisfy all narrow interfaces.
var (
	_ GetBucketPolicyAPI      = (*s3.Client)(nil)
	_ PutBucketPolicyAPI      = (*s3.Client)(nil)
	_ BucketPolicyAPI         = (*s3.Client)(nil)
	_ GetAccessPointAPI       = (*s3control.Client)(nil)
	_ CreateAccessPointAPI    = (*s3control.Client)(nil)
	_ DeleteAccessPointAPI    = (*s3control.Client)(nil)
	_ GetAccessPointPolicyAPI = (*s3control.Client)(nil)
	_ PutAccessPointPolicyAPI = (*s3control.Client)(nil)
	_ AccessPointAPI          = (*s3control.Client)(nil)
)
