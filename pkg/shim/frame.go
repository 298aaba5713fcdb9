package shim

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/3s-rg-codes/apexrt/pkg/harness"
)

// Request is one line written by the shim: the event and the Lambda context it came with.
type Request struct {
	Event   json.RawMessage `json:"event"`
	Context json.RawMessage `json:"context,omitempty"`
}

// Invocation converts the frame into harness input.
func (r Request) Invocation() harness.Invocation {
	return harness.Invocation{Payload: r.Event, Context: r.Context}
}

// Response is one line read by the shim, which calls back with (error, value).
type Response struct {
	Value  json.RawMessage `json:"value,omitempty"`
	Error  string          `json:"error,omitempty"`
	Detail string          `json:"detail,omitempty"`
}

// NewResponse frames a harness result.
func NewResponse(res *harness.Result) Response {
	if res.Failure != nil {
		return Response{Error: res.Failure.Message, Detail: res.Failure.Detail}
	}
	return Response{Value: res.Output}
}

// Err returns the remote failure, or nil when the response carries a value.
func (r Response) Err() error {
	if r.Error == "" {
		return nil
	}
	return &RemoteError{Message: r.Error, Detail: r.Detail}
}

// RemoteError is a failure reported by the function on the other end of the pipe.
type RemoteError struct {
	Message string
	Detail  string
}

func (e *RemoteError) Error() string {
	return e.Message
}

var errEmptyFrame = errors.New("empty frame")

// ParseRequest decodes one request line.
func ParseRequest(line []byte) (Request, error) {
	var req Request
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return req, errEmptyFrame
	}
	if err := json.Unmarshal(line, &req); err != nil {
		return req, fmt.Errorf("malformed request: %w", err)
	}
	return req, nil
}

// ParseResponse decodes one response line.
func ParseResponse(line []byte) (Response, error) {
	var resp Response
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return resp, errEmptyFrame
	}
	if err := json.Unmarshal(line, &resp); err != nil {
		return resp, fmt.Errorf("malformed response: %w", err)
	}
	return resp, nil
}

// marshalLine encodes v as a single newline-terminated JSON document.
func marshalLine(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}
