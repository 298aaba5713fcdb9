// Package lambdahost runs a harness under the native AWS Lambda runtime API.
package lambdahost

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-lambda-go/lambda/messages"
	"github.com/aws/aws-lambda-go/lambdacontext"

	"github.com/3s-rg-codes/apexrt/pkg/harness"
)

// HandlerFunc adapts invoker to the handler shape aws-lambda-go accepts. The Lambda context
// carried by ctx becomes the raw context document of the invocation. Failures are returned
// as Lambda invoke errors typed with the failure kind; a fatal failure asks the runtime to
// exit after reporting it.
func HandlerFunc(invoker harness.Invoker, logger *slog.Logger) func(context.Context, json.RawMessage) (json.RawMessage, error) {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
		raw, err := contextDocument(ctx)
		if err != nil {
			return nil, messages.InvokeResponse_Error{
				Message:    err.Error(),
				Type:       string(harness.KindContext),
				ShouldExit: true,
			}
		}

		res := invoker.Invoke(ctx, harness.Invocation{Payload: payload, Context: raw})
		if res.Failure != nil {
			if res.Fatal() {
				logger.Error("Fatal invocation, runtime will exit", "error", res.Failure.Message)
			}
			return nil, messages.InvokeResponse_Error{
				Message:    res.Failure.Message,
				Type:       string(res.Failure.Kind),
				ShouldExit: res.Fatal(),
			}
		}
		return json.RawMessage(res.Output), nil
	}
}

// NewHandler returns invoker as a lambda.Handler.
func NewHandler(invoker harness.Invoker, logger *slog.Logger) lambda.Handler {
	return lambda.NewHandler(HandlerFunc(invoker, logger))
}

// Start hands invoker to the Lambda runtime loop. It does not return.
func Start(invoker harness.Invoker, logger *slog.Logger) {
	lambda.Start(HandlerFunc(invoker, logger))
}

func contextDocument(ctx context.Context) ([]byte, error) {
	lc, ok := lambdacontext.FromContext(ctx)
	if !ok {
		return nil, nil
	}
	raw, err := json.Marshal(harness.FromLambda(lc))
	if err != nil {
		return nil, fmt.Errorf("encode lambda context: %w", err)
	}
	return raw, nil
}
