package awsc

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	awsmiddleware "github.com/aws/aws-sdk-go-v2/aws/middleware"
	"github.com/aws/smithy-go/middleware"
)

type recordedCall struct {
	service   string
	operation string
	err       error
}

type fakeCallLogger struct {
	calls []recordedCall
}

func (f *fakeCallLogger) Log(service, operation string, duration time.Duration, err error) {
	f.calls = append(f.calls, recordedCall{service: service, operation: operation, err: err})
}

func (f *fakeCallLogger) SetStderr(io.Writer) {}
func (f *fakeCallLogger) Close() error        { return nil }

func runStack(t *testing.T, logger *fakeCallLogger, callErr error) error {
	t.Helper()

	stack := middleware.NewStack("test", func() interface{} { return nil })
	register := &awsmiddleware.RegisterServiceMetadata{
		ServiceID:     "S3",
		OperationName: "GetBucketPolicy",
	}
	if err := stack.Initialize.Add(register, middleware.Before); err != nil {
		t.Fatalf("register metadata middleware: %v", err)
	}
	if err := WithCallLogging(logger)(stack); err != nil {
		t.Fatalf("WithCallLogging() error: %v", err)
	}

	handler := middleware.DecorateHandler(middleware.HandlerFunc(
		func(ctx context.Context, in interface{}) (interface{}, middleware.Metadata, error) {
			return nil, middleware.Metadata{}, callErr
		}), stack)

	_, _, err := handler.Handle(context.Background(), nil)
	return err
}

func TestCallLoggingRecordsServiceAndOperation(t *testing.T) {
	logger := &fakeCallLogger{}

	if err := runStack(t, logger, nil); err != nil {
		t.Fatalf("Handle() unexpected error: %v", err)
	}

	if len(logger.calls) != 1 {
		t.Fatalf("got %d logged calls, want 1", len(logger.calls))
	}
	call := logger.calls[0]
	if call.service != "S3" {
		t.Errorf("service = %q, want %q", call.service, "S3")
	}
	if call.operation != "GetBucketPolicy" {
		t.Errorf("operation = %q, want %q", call.operation, "GetBucketPolicy")
	}
	if call.err != nil {
		t.Errorf("err = %v, want nil", call.err)
	}
}

func TestCallLoggingRecordsAndPropagatesErrors(t *testing.T) {
	logger := &fakeCallLogger{}
	callErr := errors.New("throttled")

	err := runStack(t, logger, callErr)
	if !errors.Is(err, callErr) {
		t.Fatalf("Handle() error = %v, want %v", err, callErr)
	}

	if len(logger.calls) != 1 {
		t.Fatalf("got %d logged calls, want 1", len(logger.calls))
	}
	if !errors.Is(logger.calls[0].err, callErr) {
		t.Errorf("logged err = %v, want %v", logger.calls[0].err, callErr)
	}
}
