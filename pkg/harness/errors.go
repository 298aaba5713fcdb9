package harness

import (
	"encoding/json"
	"fmt"
)

// Kind classifies a failed invocation.
type Kind string

const (
	KindDecode  Kind = "DecodeError"
	KindHandler Kind = "HandlerError"
	KindContext Kind = "ContextError"
	KindEncode  Kind = "EncodeError"
)

// DecodeError reports a payload that does not fit the handler's input type.
// The handler is not called.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode input: %v", e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// ContextError reports that the invocation context could not be built.
// It is fatal to the harness, not something a handler can recover from.
type ContextError struct {
	Err error
}

func (e *ContextError) Error() string {
	return fmt.Sprintf("build context: %v", e.Err)
}

func (e *ContextError) Unwrap() error {
	return e.Err
}

// EncodeError reports a handler output that could not be serialized.
type EncodeError struct {
	Err error
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("encode output: %v", e.Err)
}

func (e *EncodeError) Unwrap() error {
	return e.Err
}

// Failure is the type-erased form of any error at the boundary. Only its text is
// serialized; the original error never leaves the harness.
type Failure struct {
	Kind    Kind   `json:"-"`
	Message string `json:"error"`
	Detail  string `json:"detail,omitempty"`
}

// NewFailure erases err into a Failure. withDetail adds the %+v rendering of err.
func NewFailure(kind Kind, err error, withDetail bool) *Failure {
	f := &Failure{Kind: kind, Message: err.Error()}
	if f.Message == "" {
		// an empty message would read as success on the wire
		f.Message = string(kind)
	}
	if withDetail {
		f.Detail = fmt.Sprintf("%+v", err)
	}
	return f
}

func (f *Failure) Error() string {
	return f.Message
}

// Envelope returns the serialized failure: {"error": "..."}.
func (f *Failure) Envelope() []byte {
	// only string fields, Marshal cannot fail
	b, _ := json.Marshal(f)
	return b
}
