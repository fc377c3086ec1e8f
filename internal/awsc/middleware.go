package awsc

import (
	"context"
	"time"

	awsmiddleware "github.com/aws/aws-sdk-go-v2/aws/middleware"
	"github.com/aws/smithy-go/middleware"

	"github.com/nicholasgasior/datashare/internal/logging"
)

// WithCallLogging returns an API option that records every SDK call on the
// given call logger. Appended to aws.Config.APIOptions it covers all clients
// built from that config, including the assumed-role clients for the source
// and target accounts.
func WithCallLogging(l logging.Logger) func(*middleware.Stack) error {
	return func(stack *middleware.Stack) error {
		return stack.Initialize.Add(callLoggingMiddleware{logger: l}, middleware.After)
	}
}

type callLoggingMiddleware struct {
	logger logging.Logger
}

func (callLoggingMiddleware) ID() string { return "DatashareCallLogging" }

func (m callLoggingMiddleware) HandleInitialize(ctx context.Context, in middleware.InitializeInput, next middleware.InitializeHandler) (middleware.InitializeOutput, middleware.Metadata, error) {
	service := awsmiddleware.GetServiceID(ctx)
	operation := awsmiddleware.GetOperationName(ctx)

	start := time.Now()
	out, metadata, err := next.HandleInitialize(ctx, in)
	m.logger.Log(service, operation, time.Since(start), err)

	return out, metadata, err
}
