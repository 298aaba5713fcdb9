package harness

import (
	"context"
	"encoding/json"
)

// Handler is the function a user supplies. It receives the decoded input and the
// invocation context and returns exactly one of an output or an error.
type Handler[In, Out any] func(In, *Context) (Out, error)

// HandlerFunc is the untyped handler shape: the raw event in, any serializable value out.
type HandlerFunc = Handler[json.RawMessage, any]

// Invocation is one request as a host adapter received it.
type Invocation struct {
	// Payload is the raw event document.
	Payload []byte
	// Context is the raw context document the host sent, if any.
	Context []byte
}

// Invoker is the type-erased harness host adapters depend on.
type Invoker interface {
	Invoke(ctx context.Context, inv Invocation) *Result
}
