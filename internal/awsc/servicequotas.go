// This file defines narrow interfaces for the Service Quotas operations used
// to read the "Managed policies per role" quota before creating additional
// indexed policies, plus STS identity resolution and SNS alarm publishing.
package awsc

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/servicequotas"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

// ListServicesAPI lists services known to Service Quotas (to find the IAM
// service code).
type ListServicesAPI interface {
	ListServices(ctx context.Context, params *servicequotas.ListServicesInput, optFns ...func(*servicequotas.Options)) (*servicequotas.ListServicesOutput, error)
}

// ListServiceQuotasAPI lists the quota codes of one service.
type ListServiceQuotasAPI interface {
	ListServiceQuotas(ctx context.Context, params *servicequotas.ListServiceQuotasInput, optFns ...func(*servicequotas.Options)) (*servicequotas.ListServiceQuotasOutput, error)
}

// GetServiceQuotaAPI reads the applied value of one quota.
type GetServiceQuotaAPI interface {
	GetServiceQuota(ctx context.Context, params *servicequotas.GetServiceQuotaInput, optFns ...func(*servicequotas.Options)) (*servicequotas.GetServiceQuotaOutput, error)
}

// ServiceQuotasAPI groups the quota discovery operations.
type ServiceQuotasAPI interface {
	ListServicesAPI
	ListServiceQuotasAPI
	GetServiceQuotaAPI
}

// GetCallerIdentityAPI resolves the worker's own account and ARN. Used at
// startup to confirm credentials before touching any share.
type GetCallerIdentityAPI interface {
	GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error)
}

// PublishAPI publishes an operator alarm to an SNS topic.
type PublishAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

var (
	_ ListServicesAPI      = (*servicequotas.Client)(nil)
	_ ListServiceQuotasAPI = (*servicequotas.Client)(nil)
	_ GetServiceQuotaAPI   = (*servicequotas.Client)(nil)
	_ ServiceQuotasAPI     = (*servicequotas.Client)(nil)
	_ GetCallerIdentityAPI = (*sts.Client)(nil)
	_ PublishAPI           = (*sns.Client)(nil)
)
