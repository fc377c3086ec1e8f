package identity

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/sts"
)

// Caller holds the resolved identity of whoever is running a share command.
// ARN is the full caller ARN recorded in the audit log. Name is a normalized
// friendly name used in log fields. AccountID is the worker's own account,
// used to decide whether a pivot role must be assumed for a given share side.
type Caller struct {
	Name      string
	ARN       string
	AccountID string
}

// STSClient defines the subset of the STS API used for identity resolution.
type STSClient interface {
	GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error)
}

// Resolver resolves the current AWS caller identity to a Caller.
type Resolver struct {
	client STSClient
}

// NewResolver creates a Resolver with the given STS client.
func NewResolver(client STSClient) *Resolver {
	return &Resolver{client: client}
}

// Resolve calls STS GetCallerIdentity and normalizes the ARN to a Caller.
// Called once per command invocation before any share work starts.
func (r *Resolver) Resolve(ctx context.Context) (*Caller, error) {
	out, err := r.client.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return nil, fmt.Errorf("sts get-caller-identity: %w", err)
	}

	if out.Arn == nil {
		return nil, fmt.Errorf("sts get-caller-identity returned nil ARN")
	}
	if out.Account == nil {
		return nil, fmt.Errorf("sts get-caller-identity returned nil account")
	}

	name, err := NormalizeARN(*out.Arn)
	if err != nil {
		return nil, fmt.Errorf("normalize ARN: %w", err)
	}

	return &Caller{
		Name:      name,
		ARN:       *out.Arn,
		AccountID: *out.Account,
	}, nil
}
