// Package awsc defines narrow interfaces over the AWS SDK clients used by the
// sharing engine. Each interface wraps exactly one SDK method, enabling mock
// injection in tests; compile-time checks at the bottom of every file prove
// the real clients satisfy them.
package awsc

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/iam"
)

// ---------------------------------------------------------------------------
// IAM role and inline policy interfaces
// ---------------------------------------------------------------------------

// GetRoleAPI defines the subset of the IAM API used to resolve a principal
// role and its ARN before any grant is attempted.
type GetRoleAPI interface {
	GetRole(ctx context.Context, params *iam.GetRoleInput, optFns ...func(*iam.Options)) (*iam.GetRoleOutput, error)
}

// GetRolePolicyAPI reads a named inline policy from a role. Used by the
// inline-to-managed migration.
type GetRolePolicyAPI interface {
	GetRolePolicy(ctx context.Context, params *iam.GetRolePolicyInput, optFns ...func(*iam.Options)) (*iam.GetRolePolicyOutput, error)
}

// DeleteRolePolicyAPI removes an inline policy from a role after migration.
type DeleteRolePolicyAPI interface {
	DeleteRolePolicy(ctx context.Context, params *iam.DeleteRolePolicyInput, optFns ...func(*iam.Options)) (*iam.DeleteRolePolicyOutput, error)
}

// ---------------------------------------------------------------------------
// IAM managed policy interfaces
// ---------------------------------------------------------------------------

// GetPolicyAPI reads managed policy metadata (default version id).
type GetPolicyAPI interface {
	GetPolicy(ctx context.Context, params *iam.GetPolicyInput, optFns ...func(*iam.Options)) (*iam.GetPolicyOutput, error)
}

// GetPolicyVersionAPI reads one version's document of a managed policy.
type GetPolicyVersionAPI interface {
	GetPolicyVersion(ctx context.Context, params *iam.GetPolicyVersionInput, optFns ...func(*iam.Options)) (*iam.GetPolicyVersionOutput, error)
}

// CreatePolicyAPI creates a customer managed policy.
type CreatePolicyAPI interface {
	CreatePolicy(ctx context.Context, params *iam.CreatePolicyInput, optFns ...func(*iam.Options)) (*iam.CreatePolicyOutput, error)
}

// CreatePolicyVersionAPI publishes a new default version of a managed policy.
type CreatePolicyVersionAPI interface {
	CreatePolicyVersion(ctx context.Context, params *iam.CreatePolicyVersionInput, optFns ...func(*iam.Options)) (*iam.CreatePolicyVersionOutput, error)
}

// DeletePolicyAPI deletes a managed policy.
type DeletePolicyAPI interface {
	DeletePolicy(ctx context.Context, params *iam.DeletePolicyInput, optFns ...func(*iam.Options)) (*iam.DeletePolicyOutput, error)
}

// DeletePolicyVersionAPI deletes one non-default version of a managed policy.
// IAM caps versions at five, so stale versions are pruned before publishing.
type DeletePolicyVersionAPI interface {
	DeletePolicyVersion(ctx context.Context, params *iam.DeletePolicyVersionInput, optFns ...func(*iam.Options)) (*iam.DeletePolicyVersionOutput, error)
}

// ListPolicyVersionsAPI lists the versions of a managed policy.
type ListPolicyVersionsAPI interface {
	ListPolicyVersions(ctx context.Context, params *iam.ListPolicyVersionsInput, optFns ...func(*iam.Options)) (*iam.ListPolicyVersionsOutput, error)
}

// AttachRolePolicyAPI attaches a managed policy to a role.
type AttachRolePolicyAPI interface {
	AttachRolePolicy(ctx context.Context, params *iam.AttachRolePolicyInput, optFns ...func(*iam.Options)) (*iam.AttachRolePolicyOutput, error)
}

// DetachRolePolicyAPI detaches a managed policy from a role.
type DetachRolePolicyAPI interface {
	DetachRolePolicy(ctx context.Context, params *iam.DetachRolePolicyInput, optFns ...func(*iam.Options)) (*iam.DetachRolePolicyOutput, error)
}

// ListAttachedRolePoliciesAPI lists managed policies attached to a role. Used
// both for indexed-policy discovery and for the attachment quota check.
type ListAttachedRolePoliciesAPI interface {
	ListAttachedRolePolicies(ctx context.Context, params *iam.ListAttachedRolePoliciesInput, optFns ...func(*iam.Options)) (*iam.ListAttachedRolePoliciesOutput, error)
}

// IAMPolicyAPI groups every IAM operation the managed policy indexing service
// needs into a single interface for mock injection in tests.
type IAMPolicyAPI interface {
	GetRoleAPI
	GetRolePolicyAPI
	DeleteRolePolicyAPI
	GetPolicyAPI
	GetPolicyVersionAPI
	CreatePolicyAPI
	CreatePolicyVersionAPI
	DeletePolicyAPI
	DeletePolicyVersionAPI
	ListPolicyVersionsAPI
	AttachRolePolicyAPI
	DetachRolePolicyAPI
	ListAttachedRolePoliciesAPI
}

// ---------------------------------------------------------------------------
// Compile-time interface satisfaction checks
// ---------------------------------------------------------------------------

var (
	_ GetRoleAPI                  = (*iam.Client)(nil)
	_ GetRolePolicyAPI            = (*iam.Client)(nil)
	_ DeleteRolePolicyAPI         = (*iam.Client)(nil)
	_ GetPolicyAPI                = (*iam.Client)(nil)
	_ GetPolicyVersionAPI         = (*iam.Client)(nil)
	_ CreatePolicyAPI             = (*iam.Client)(nil)
	_ CreatePolicyVersionAPI      = (*iam.Client)(nil)
	_ DeletePolicyAPI             = (*iam.Client)(nil)
	_ DeletePolicyVersionAPI      = (*iam.Client)(nil)
	_ ListPolicyVersionsAPI       = (*iam.Client)(nil)
	_ AttachRolePolicyAPI         = (*iam.Client)(nil)
	_ DetachRolePolicyAPI         = (*iam.Client)(nil)
	_ ListAttachedRolePoliciesAPI = (*iam.Client)(nil)
	_ IAMPolicyAPI                = (*iam.Client)(nil)
)
