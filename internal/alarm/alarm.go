// Package alarm publishes operator notifications for sharing failures to an
// SNS topic. Delivery is best effort: a failed publish is logged and never
// surfaces to the sharing flow, since the primary failure is already recorded
// on the share item.
package alarm

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/hashicorp/go-hclog"

	"github.com/nicholasgasior/datashare/internal/awsc"
	"github.com/nicholasgasior/datashare/internal/share"
)

const subjectMaxChars = 100

// Service publishes sharing failure alarms. A nil topic ARN disables
// publishing entirely.
type Service struct {
	sns      awsc.PublishAPI
	topicARN string
	envName  string
	region   string
	logger   hclog.Logger

	now func() time.Time
}

// New builds an alarm Service. topicARN may be empty to disable alarms.
func New(api awsc.PublishAPI, topicARN, envName, region string, logger hclog.Logger) *Service {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Service{
		sns:      api,
		topicARN: topicARN,
		envName:  envName,
		region:   region,
		logger:   logger,
		now:      time.Now,
	}
}

// ShareFailure reports a failed grant for one share item.
func (s *Service) ShareFailure(ctx context.Context, data *share.Data, item *share.Item) {
	subject := fmt.Sprintf("Share failure for %s %s", item.Kind, item.TargetName)
	s.publish(ctx, subject, s.body("failed to grant access to", data, item))
}

// RevokeFailure reports a failed revoke for one share item.
func (s *Service) RevokeFailure(ctx context.Context, data *share.Data, item *share.Item) {
	subject := fmt.Sprintf("Revoke failure for %s %s", item.Kind, item.TargetName)
	s.publish(ctx, subject, s.body("failed to revoke access to", data, item))
}

func (s *Service) body(reason string, data *share.Data, item *share.Item) string {
	return fmt.Sprintf(`The sharing engine for environment %s in region %s entered the ALARM state because it %s %s %q.

Alarm details:
    - Reason:        %s %s
    - Timestamp:     %s

Share source:
    - Dataset URI:   %s
    - AWS account:   %s
    - Region:        %s

Share target:
    - Share URI:     %s
    - AWS account:   %s
    - Region:        %s
    - Principal:     %s
`,
		s.envName, s.region, reason, item.Kind, item.TargetName,
		reason, item.TargetURI,
		s.now().UTC().Format(time.RFC3339),
		data.Dataset.URI, data.SourceEnvironment.AccountID, data.SourceEnvironment.Region,
		data.Share.URI, data.TargetEnvironment.AccountID, data.TargetEnvironment.Region,
		data.PrincipalRoleARN())
}

func (s *Service) publish(ctx context.Context, subject, message string) {
	if s.topicARN == "" {
		return
	}
	if len(subject) > subjectMaxChars {
		subject = subject[:subjectMaxChars]
	}
	_, err := s.sns.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(s.topicARN),
		Subject:  aws.String(subject),
		Message:  aws.String(message),
	})
	if err != nil {
		s.logger.Error("alarm publish failed", "subject", subject, "error", err)
		return
	}
	s.logger.Info("alarm published", "subject", subject)
}
