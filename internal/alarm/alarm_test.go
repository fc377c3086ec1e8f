package alarm

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/hashicorp/go-hclog"

	"github.com/nicholasgasior/datashare/internal/share"
)

type fakeSNS struct {
	published []sns.PublishInput
	err       error
}

func (f *fakeSNS) Publish(_ context.Context, params *sns.PublishInput, _ ...func(*sns.Options)) (*sns.PublishOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.published = append(f.published, *params)
	return &sns.PublishOutput{MessageId: aws.String("m-1")}, nil
}

func testData() *share.Data {
	return &share.Data{
		Share: &share.Object{
			URI:               "share-1",
			DatasetURI:        "dataset-1",
			PrincipalRoleName: "consumer-role",
		},
		Dataset:           &share.Dataset{URI: "dataset-1"},
		SourceEnvironment: &share.Environment{AccountID: "111122223333", Region: "eu-west-1"},
		TargetEnvironment: &share.Environment{AccountID: "444455556666", Region: "eu-west-1"},
	}
}

func TestShareFailurePublishes(t *testing.T) {
	f := &fakeSNS{}
	svc := New(f, "arn:aws:sns:eu-west-1:111122223333:alarms", "prod", "eu-west-1", hclog.NewNullLogger())
	svc.now = func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }

	item := &share.Item{Kind: share.KindBucket, TargetURI: "bucket-1", TargetName: "raw-data"}
	svc.ShareFailure(context.Background(), testData(), item)

	if len(f.published) != 1 {
		t.Fatalf("expected 1 publish, got %d", len(f.published))
	}
	msg := aws.ToString(f.published[0].Message)
	for _, want := range []string{"raw-data", "dataset-1", "share-1", "444455556666", "consumer-role"} {
		if !strings.Contains(msg, want) {
			t.Fatalf("message missing %q:\n%s", want, msg)
		}
	}
}

func TestSubjectTruncated(t *testing.T) {
	f := &fakeSNS{}
	svc := New(f, "arn:aws:sns:eu-west-1:111122223333:alarms", "prod", "eu-west-1", hclog.NewNullLogger())

	item := &share.Item{Kind: share.KindStorageLocation, TargetName: strings.Repeat("folder", 40)}
	svc.RevokeFailure(context.Background(), testData(), item)

	if got := len(aws.ToString(f.published[0].Subject)); got > subjectMaxChars {
		t.Fatalf("subject too long: %d", got)
	}
}

func TestPublishErrorIsSwallowed(t *testing.T) {
	f := &fakeSNS{err: errors.New("topic gone")}
	svc := New(f, "arn:aws:sns:eu-west-1:111122223333:alarms", "prod", "eu-west-1", hclog.NewNullLogger())

	// Must not panic or propagate.
	svc.ShareFailure(context.Background(), testData(), &share.Item{Kind: share.KindTable, TargetName: "orders"})
}

func TestEmptyTopicDisablesAlarms(t *testing.T) {
	f := &fakeSNS{}
	svc := New(f, "", "prod", "eu-west-1", hclog.NewNullLogger())

	svc.ShareFailure(context.Background(), testData(), &share.Item{Kind: share.KindTable, TargetName: "orders"})
	if len(f.published) != 0 {
		t.Fatalf("expected no publishes, got %d", len(f.published))
	}
}
