// This file defines narrow interfaces for the KMS operations used to maintain
// dataset key policies: alias resolution and key policy read-modify-write.
package awsc

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/kms"
)

// DescribeKeyAPI resolves a key id from an alias ("alias/..." key ids are
// accepted by DescribeKey directly).
type DescribeKeyAPI interface {
	DescribeKey(ctx context.Context, params *kms.DescribeKeyInput, optFns ...func(*kms.Options)) (*kms.DescribeKeyOutput, error)
}

// GetKeyPolicyAPI reads the "default" key policy document.
type GetKeyPolicyAPI interface {
	GetKeyPolicy(ctx context.Context, params *kms.GetKeyPolicyInput, optFns ...func(*kms.Options)) (*kms.GetKeyPolicyOutput, error)
}

// PutKeyPolicyAPI writes the "default" key policy document.
type PutKeyPolicyAPI interface {
	PutKeyPolicy(ctx context.Context, params *kms.PutKeyPolicyInput, optFns ...func(*kms.Options)) (*kms.PutKeyPolicyOutput, error)
}

// KeyPolicyAPI groups every KMS operation the share managers need.
type KeyPolicyAPI interface {
	DescribeKeyAPI
	GetKeyPolicyAPI
	PutKeyPolicyAPI
}

var (
	_ DescribeKeyAPI  = (*kms.Client)(nil)
	_ GetKeyPolicyAPI = (*kms.Client)(nil)
	_ PutKeyPolicyAPI = (*kms.Client)(nil)
	_ KeyPolicyAPI    = (*kms.Client)(nil)
)
