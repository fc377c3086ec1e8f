package cmd

import (
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/glue"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/lakeformation"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3control"
	"github.com/aws/aws-sdk-go-v2/service/servicequotas"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/hashicorp/go-hclog"

	"github.com/nicholasgasior/datashare/internal/manager"
	"github.com/nicholasgasior/datashare/internal/mpolicy"
	"github.com/nicholasgasior/datashare/internal/share"
	"github.com/nicholasgasior/datashare/internal/sharing"
)

// awsManagers builds per-share item managers backed by real AWS clients.
// Source-account clients (bucket policy, key policy, Lake Formation on the
// dataset side) and target-account clients (principal IAM role, consumer
// database) are built separately; when either account differs from the
// worker's own, the pivot role in that account is assumed.
type awsManagers struct {
	base           aws.Config
	workerAccount  string
	pivotRoleName  string
	resourcePrefix string
	logger         hclog.Logger
}

var _ sharing.Managers = (*awsManagers)(nil)

func newAWSManagers(base aws.Config, workerAccount, pivotRoleName, resourcePrefix string, logger hclog.Logger) *awsManagers {
	return &awsManagers{
		base:           base,
		workerAccount:  workerAccount,
		pivotRoleName:  pivotRoleName,
		resourcePrefix: resourcePrefix,
		logger:         logger,
	}
}

// configFor returns an SDK config scoped to the given account and region,
// assuming the account's pivot role when it is not the worker's own.
func (m *awsManagers) configFor(accountID, region string) aws.Config {
	cfg := m.base.Copy()
	if region != "" {
		cfg.Region = region
	}
	if accountID != m.workerAccount {
		roleARN := fmt.Sprintf("arn:aws:iam::%s:role/%s", accountID, m.pivotRoleName)
		provider := stscreds.NewAssumeRoleProvider(sts.NewFromConfig(m.base), roleARN)
		cfg.Credentials = aws.NewCredentialsCache(provider)
	}
	return cfg
}

// policyService builds the managed policy service for the share's principal
// role, which lives in the target environment account.
func (m *awsManagers) policyService(data *share.Data, targetCfg aws.Config) *mpolicy.Service {
	role := mpolicy.Role{
		Name:           data.Share.PrincipalRoleName,
		AccountID:      data.TargetEnvironment.AccountID,
		Region:         data.TargetEnvironment.Region,
		EnvironmentURI: data.TargetEnvironment.URI,
		ResourcePrefix: m.resourcePrefix,
	}
	return mpolicy.New(iam.NewFromConfig(targetCfg), servicequotas.NewFromConfig(targetCfg), role, m.logger)
}

func (m *awsManagers) Bucket(data *share.Data, bucket *share.Bucket) sharing.BucketManager {
	sourceCfg := m.configFor(data.Dataset.AccountID, data.Dataset.Region)
	targetCfg := m.configFor(data.TargetEnvironment.AccountID, data.TargetEnvironment.Region)

	clients := manager.BucketClients{
		IAM:      iam.NewFromConfig(targetCfg),
		S3:       s3.NewFromConfig(sourceCfg),
		KMS:      kms.NewFromConfig(sourceCfg),
		Policies: m.policyService(data, targetCfg),
	}
	return manager.NewBucket(clients, data, bucket, m.pivotRoleName, m.logger)
}

func (m *awsManagers) Folder(data *share.Data, location *share.StorageLocation) sharing.FolderManager {
	sourceCfg := m.configFor(data.Dataset.AccountID, data.Dataset.Region)
	targetCfg := m.configFor(data.TargetEnvironment.AccountID, data.TargetEnvironment.Region)

	clients := manager.AccessPointClients{
		IAM:       iam.NewFromConfig(targetCfg),
		S3:        s3.NewFromConfig(sourceCfg),
		S3Control: s3control.NewFromConfig(sourceCfg),
		KMS:       kms.NewFromConfig(sourceCfg),
		Policies:  m.policyService(data, targetCfg),
	}
	return manager.NewAccessPoint(clients, data, location, m.pivotRoleName, m.logger)
}

func (m *awsManagers) Table(data *share.Data, table *share.Table, filter *share.DataFilter) sharing.TableManager {
	sourceCfg := m.configFor(data.Dataset.AccountID, data.Dataset.Region)
	targetCfg := m.configFor(data.TargetEnvironment.AccountID, data.TargetEnvironment.Region)

	clients := manager.TableClients{
		SourceLF:   lakeformation.NewFromConfig(sourceCfg),
		SourceGlue: glue.NewFromConfig(sourceCfg),
		TargetLF:   lakeformation.NewFromConfig(targetCfg),
		TargetGlue: glue.NewFromConfig(targetCfg),
	}
	return manager.NewTableShare(clients, data, table, filter, m.pivotRoleName, m.logger)
}
