package harness

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/structpb"
)

type dummyError struct{}

func (dummyError) Error() string { return "DummyError" }

type message struct {
	Hello string `json:"hello" validate:"required"`
}

func newTestHarness[In, Out any](handler Handler[In, Out], opts ...Option) *Harness[In, Out] {
	opts = append([]Option{WithContextBuilder(&ContextBuilder{})}, opts...)
	return New(handler, opts...)
}

func invoke(t *testing.T, inv Invoker, payload, fctx string) *Result {
	t.Helper()
	res := inv.Invoke(context.Background(), Invocation{Payload: []byte(payload), Context: []byte(fctx)})
	require.NotNil(t, res)
	return res
}

func TestInvokeMergesContextAndInput(t *testing.T) {
	h := newTestHarness(func(input any, c *Context) (any, error) {
		return map[string]any{
			"name":   c,
			"age":    input,
			"phones": []string{"+44 1234567", "+44 2345678"},
		}, nil
	})

	res := invoke(t, h, `{"name": "John"}`, `{"functionName": "ctx-id-1"}`)
	require.NoError(t, res.Err())
	assert.Equal(t, StateDone, res.State)

	serializedContext, err := json.Marshal(&Context{FunctionName: "ctx-id-1"})
	require.NoError(t, err)

	expected := `{"name": ` + string(serializedContext) + `, "age": {"name": "John"}, "phones": ["+44 1234567", "+44 2345678"]}`
	assert.JSONEq(t, expected, string(res.Bytes()))
}

func TestInvokeHandlerErrorEnvelope(t *testing.T) {
	h := newTestHarness(func(input any, c *Context) (any, error) {
		return map[string]string{"leak": "never"}, dummyError{}
	})

	res := invoke(t, h, `{}`, ``)
	require.Error(t, res.Err())
	assert.Equal(t, StateFailed, res.State)
	assert.Equal(t, KindHandler, res.Failure.Kind)
	assert.Nil(t, res.Output)
	assert.JSONEq(t, `{"error": "DummyError"}`, string(res.Bytes()))
	assert.NotContains(t, string(res.Bytes()), "leak")
	assert.False(t, res.Fatal())
}

func TestInvokeErrorDetail(t *testing.T) {
	h := newTestHarness(func(input any, c *Context) (any, error) {
		return nil, dummyError{}
	}, WithErrorDetail())

	res := invoke(t, h, `{}`, ``)

	var envelope map[string]string
	require.NoError(t, json.Unmarshal(res.Bytes(), &envelope))
	assert.Equal(t, "DummyError", envelope["error"])
	assert.Equal(t, "DummyError", envelope["detail"])
}

func TestInvokeDecodeFailureSkipsHandler(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		opts    []Option
	}{
		{name: "syntax", payload: `{"hello":`},
		{name: "type mismatch", payload: `{"hello": 42}`},
		{name: "array for object", payload: `["hello"]`},
		{name: "trailing data", payload: `{"hello": "a"} {"hello": "b"}`},
		{name: "unknown field strict", payload: `{"hello": "a", "extra": 1}`, opts: []Option{WithStrictDecoding()}},
		{name: "validation", payload: `{"hello": ""}`, opts: []Option{WithValidation()}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			h := newTestHarness(func(in message, c *Context) (message, error) {
				calls++
				return in, nil
			}, tt.opts...)

			res := invoke(t, h, tt.payload, ``)
			require.Error(t, res.Err())
			assert.Equal(t, KindDecode, res.Failure.Kind)
			assert.Equal(t, StateFailed, res.State)
			assert.Zero(t, calls)

			var decodeErr *DecodeError
			assert.False(t, errors.As(res.Err(), &decodeErr), "typed error must not cross the boundary")
			assert.Contains(t, res.Failure.Message, "decode input")
		})
	}
}

func TestInvokeUnknownFieldsAllowedByDefault(t *testing.T) {
	h := newTestHarness(func(in message, c *Context) (message, error) {
		return in, nil
	})

	res := invoke(t, h, `{"hello": "world", "extra": true}`, ``)
	require.NoError(t, res.Err())
	assert.JSONEq(t, `{"hello": "world"}`, string(res.Bytes()))
}

func TestInvokeEmptyPayloadIsNull(t *testing.T) {
	var got any = "unset"
	h := newTestHarness(func(in any, c *Context) (any, error) {
		got = in
		return in, nil
	})

	res := invoke(t, h, "  ", ``)
	require.NoError(t, res.Err())
	assert.Nil(t, got)
	assert.Equal(t, "null", string(res.Bytes()))
}

func TestInvokeRawMessageHandler(t *testing.T) {
	h := newTestHarness(HandlerFunc(func(event json.RawMessage, c *Context) (any, error) {
		var m message
		if err := json.Unmarshal(event, &m); err != nil {
			return nil, err
		}
		return m, nil
	}))

	res := invoke(t, h, `{"hello": "world"}`, ``)
	require.NoError(t, res.Err())
	assert.JSONEq(t, `{"hello": "world"}`, string(res.Bytes()))
}

func TestInvokeDecodesStructuredValues(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    any
	}{
		{name: "mapping", payload: `{"a": {"b": [1, "two", null, true]}}`, want: map[string]any{"a": map[string]any{"b": []any{1.0, "two", nil, true}}}},
		{name: "array", payload: `[1, 2, 3]`, want: []any{1.0, 2.0, 3.0}},
		{name: "string", payload: `"scalar"`, want: "scalar"},
		{name: "number", payload: `3.5`, want: 3.5},
		{name: "bool", payload: `false`, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got any
			h := newTestHarness(func(in any, c *Context) (any, error) {
				got = in
				return in, nil
			})

			res := invoke(t, h, tt.payload, ``)
			require.NoError(t, res.Err())
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("decoded input mismatch (-want +got):\n%s", diff)
			}
			assert.JSONEq(t, tt.payload, string(res.Bytes()))
		})
	}
}

func TestInvokeProtoStructInput(t *testing.T) {
	h := newTestHarness(func(in *structpb.Struct, c *Context) (*structpb.Value, error) {
		return structpb.NewStringValue(in.GetFields()["name"].GetStringValue()), nil
	})

	res := invoke(t, h, `{"name": "John"}`, ``)
	require.NoError(t, res.Err())
	assert.JSONEq(t, `"John"`, string(res.Bytes()))
}

func TestInvokeProtoDecodeFailure(t *testing.T) {
	h := newTestHarness(func(in *structpb.Struct, c *Context) (*structpb.Struct, error) {
		return in, nil
	})

	res := invoke(t, h, `[1, 2]`, ``)
	require.Error(t, res.Err())
	assert.Equal(t, KindDecode, res.Failure.Kind)
}

func TestInvokeRecoversPanic(t *testing.T) {
	h := newTestHarness(func(in any, c *Context) (any, error) {
		panic("crash")
	})

	res := invoke(t, h, `{}`, ``)
	require.Error(t, res.Err())
	assert.Equal(t, KindHandler, res.Failure.Kind)
	assert.JSONEq(t, `{"error": "panic: crash"}`, string(res.Bytes()))
}

func TestInvokeEncodeFailure(t *testing.T) {
	h := newTestHarness(func(in any, c *Context) (chan int, error) {
		return make(chan int), nil
	})

	res := invoke(t, h, `{}`, ``)
	require.Error(t, res.Err())
	assert.Equal(t, KindEncode, res.Failure.Kind)
	assert.Equal(t, StateFailed, res.State)
	assert.Nil(t, res.Output)
	assert.Contains(t, res.Failure.Message, "encode output")
}

type pointerError struct {
	msg string
}

func (e *pointerError) Error() string { return e.msg }

func TestInvokeTypedNilErrorIsReported(t *testing.T) {
	h := newTestHarness(func(in any, c *Context) (any, error) {
		var err *pointerError
		return nil, err
	})

	var res *Result
	require.NotPanics(t, func() { res = invoke(t, h, `{}`, ``) })
	assert.Equal(t, KindHandler, res.Failure.Kind)
	assert.Equal(t, StateFailed, res.State)
	assert.Nil(t, res.Output)
	assert.True(t, strings.HasPrefix(res.Failure.Message, "panic: "), res.Failure.Message)
}

type explodingOutput struct{}

func (explodingOutput) MarshalJSON() ([]byte, error) { panic("boom") }

func TestInvokeMarshalPanicIsEncodeFailure(t *testing.T) {
	h := newTestHarness(func(in any, c *Context) (explodingOutput, error) {
		return explodingOutput{}, nil
	})

	var res *Result
	require.NotPanics(t, func() { res = invoke(t, h, `{}`, ``) })
	assert.Equal(t, KindEncode, res.Failure.Kind)
	assert.Equal(t, StateFailed, res.State)
	assert.Nil(t, res.Output)
	assert.JSONEq(t, `{"error": "encode output: panic: boom"}`, string(res.Bytes()))
}

type explodingInput struct{}

func (*explodingInput) UnmarshalJSON([]byte) error { panic("bad input") }

func TestInvokeUnmarshalPanicIsDecodeFailure(t *testing.T) {
	calls := 0
	h := newTestHarness(func(in explodingInput, c *Context) (any, error) {
		calls++
		return nil, nil
	})

	var res *Result
	require.NotPanics(t, func() { res = invoke(t, h, `{}`, ``) })
	assert.Equal(t, KindDecode, res.Failure.Kind)
	assert.Equal(t, "decode input: panic: bad input", res.Failure.Message)
	assert.Zero(t, calls)
}

func TestInvokeContextErrorIsFatal(t *testing.T) {
	calls := 0
	h := newTestHarness(func(in any, c *Context) (any, error) {
		calls++
		return in, nil
	})

	res := invoke(t, h, `{}`, `{"functionName": 42}`)
	require.Error(t, res.Err())
	assert.True(t, res.Fatal())
	assert.Equal(t, KindContext, res.Failure.Kind)
	assert.Zero(t, calls)
}

func TestInvokeMemoryLimitFailureIsFatal(t *testing.T) {
	h := New(func(in any, c *Context) (any, error) {
		return in, nil
	}, WithContextBuilder(&ContextBuilder{
		MemoryLimit: func() (string, error) { return "", errors.New("no meminfo") },
	}))

	res := invoke(t, h, `{}`, ``)
	assert.True(t, res.Fatal())
	assert.Contains(t, res.Failure.Message, "no meminfo")
}

func TestInvokeFreshContextPerCall(t *testing.T) {
	var seen []Context
	h := newTestHarness(func(in map[string]any, c *Context) (any, error) {
		seen = append(seen, *c)
		c.FunctionName = "mutated"
		in["mutated"] = true
		return in, nil
	})

	first := invoke(t, h, `{"call": 1}`, `{"functionName": "fn", "awsRequestId": "req-1"}`)
	second := invoke(t, h, `{"call": 2}`, `{"awsRequestId": "req-2"}`)

	require.NoError(t, first.Err())
	require.NoError(t, second.Err())
	require.Len(t, seen, 2)
	assert.Equal(t, Context{FunctionName: "fn", RequestID: "req-1"}, seen[0])
	assert.Equal(t, Context{RequestID: "req-2"}, seen[1])
	assert.JSONEq(t, `{"call": 2, "mutated": true}`, string(second.Bytes()))
}

func TestInvokeOutputRoundTrip(t *testing.T) {
	type record struct {
		ID     int               `json:"id"`
		Tags   []string          `json:"tags"`
		Labels map[string]string `json:"labels"`
	}
	want := record{ID: 7, Tags: []string{"a", "b"}, Labels: map[string]string{"k": "v"}}

	h := newTestHarness(func(in any, c *Context) (record, error) {
		return want, nil
	})

	res := invoke(t, h, `null`, ``)
	require.NoError(t, res.Err())

	expected, err := json.Marshal(want)
	require.NoError(t, err)
	assert.Equal(t, expected, res.Bytes())

	var got record
	require.NoError(t, json.Unmarshal(res.Bytes(), &got))
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestNewRejectsNilHandler(t *testing.T) {
	assert.Panics(t, func() {
		New[any, any](nil)
	})
}

func TestFailureWithEmptyMessage(t *testing.T) {
	f := NewFailure(KindHandler, errors.New(""), false)
	assert.Equal(t, "HandlerError", f.Message)
	assert.JSONEq(t, `{"error": "HandlerError"}`, string(f.Envelope()))
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "decoding", StateDecoding.String())
	assert.Equal(t, "failed", StateFailed.String())
	assert.Equal(t, "unknown", State(99).String())
}
