package identity

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/sts"
)

// mockSTSClient implements STSClient for testing.
type mockSTSClient struct {
	output *sts.GetCallerIdentityOutput
	err    error
}

func (m *mockSTSClient) GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error) {
	return m.output, m.err
}

func strptr(s string) *string { return &s }

func TestResolveCaller(t *testing.T) {
	iamARN := "arn:aws:iam::123456789012:user/dana"
	ssoARN := "arn:aws:sts::123456789012:assumed-role/AWSReservedSSO_DataAdmin_abc123/dana@example.com"

	tests := []struct {
		name        string
		client      STSClient
		wantName    string
		wantARN     string
		wantAccount string
		wantErr     bool
	}{
		{
			name: "IAM user identity",
			client: &mockSTSClient{
				output: &sts.GetCallerIdentityOutput{
					Arn:     &iamARN,
					Account: strptr("123456789012"),
				},
			},
			wantName:    "dana",
			wantARN:     iamARN,
			wantAccount: "123456789012",
		},
		{
			name: "SSO identity",
			client: &mockSTSClient{
				output: &sts.GetCallerIdentityOutput{
					Arn:     &ssoARN,
					Account: strptr("123456789012"),
				},
			},
			wantName:    "dana",
			wantARN:     ssoARN,
			wantAccount: "123456789012",
		},
		{
			name: "STS API error",
			client: &mockSTSClient{
				err: errors.New("no credentials"),
			},
			wantErr: true,
		},
		{
			name: "nil ARN in response",
			client: &mockSTSClient{
				output: &sts.GetCallerIdentityOutput{
					Arn:     nil,
					Account: strptr("123456789012"),
				},
			},
			wantErr: true,
		},
		{
			name: "nil account in response",
			client: &mockSTSClient{
				output: &sts.GetCallerIdentityOutput{
					Arn: &iamARN,
				},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resolver := NewResolver(tt.client)
			caller, err := resolver.Resolve(context.Background())

			if tt.wantErr {
				if err == nil {
					t.Fatalf("Resolve() expected error, got caller=%+v", caller)
				}
				return
			}
			if err != nil {
				t.Fatalf("Resolve() unexpected error: %v", err)
			}
			if caller.Name != tt.wantName {
				t.Errorf("caller.Name = %q, want %q", caller.Name, tt.wantName)
			}
			if caller.ARN != tt.wantARN {
				t.Errorf("caller.ARN = %q, want %q", caller.ARN, tt.wantARN)
			}
			if caller.AccountID != tt.wantAccount {
				t.Errorf("caller.AccountID = %q, want %q", caller.AccountID, tt.wantAccount)
			}
		})
	}
}
