// Package harness drives a single function invocation: it decodes the raw event into the
// handler's input type, builds the invocation context, calls the handler once and encodes
// either its output or a normalized failure envelope.
package harness

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/go-playground/validator/v10"
)

type settings struct {
	logger   *slog.Logger
	contexts *ContextBuilder
	validate *validator.Validate
	strict   bool
	detail   bool
}

type Option func(*settings)

// WithLogger sets the logger used for invocation diagnostics. Defaults to slog.Default.
func WithLogger(logger *slog.Logger) Option {
	return func(s *settings) {
		s.logger = logger
	}
}

// WithContextBuilder replaces the default environment-reading context builder.
func WithContextBuilder(b *ContextBuilder) Option {
	return func(s *settings) {
		s.contexts = b
	}
}

// WithStrictDecoding rejects payloads carrying fields the input type does not declare.
func WithStrictDecoding() Option {
	return func(s *settings) {
		s.strict = true
	}
}

// WithValidation checks `validate` struct tags on the decoded input. A violation is a
// decode failure.
func WithValidation() Option {
	return func(s *settings) {
		s.validate = validator.New()
	}
}

// WithErrorDetail adds the %+v rendering of the error to failure envelopes.
func WithErrorDetail() Option {
	return func(s *settings) {
		s.detail = true
	}
}

// Harness wraps one handler. It keeps no state between invocations.
type Harness[In, Out any] struct {
	handler Handler[In, Out]
	settings
}

// New returns a harness for handler. It panics if handler is nil.
func New[In, Out any](handler Handler[In, Out], opts ...Option) *Harness[In, Out] {
	if handler == nil {
		panic("harness: handler must not be nil")
	}
	h := &Harness[In, Out]{handler: handler}
	for _, opt := range opts {
		opt(&h.settings)
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	if h.contexts == nil {
		h.contexts = NewContextBuilder()
	}
	return h
}

// Invoke runs one invocation to completion. It never returns nil.
func (h *Harness[In, Out]) Invoke(ctx context.Context, inv Invocation) *Result {
	res := &Result{State: StateDecoding}
	h.logger.DebugContext(ctx, "Received request", "payload_bytes", len(inv.Payload))

	var in In
	err := h.recovered(ctx, "decode", func() (err error) {
		in, err = h.decode(inv.Payload)
		return err
	})
	if err != nil {
		return h.fail(ctx, res, KindDecode, &DecodeError{Err: err})
	}

	fctx, err := h.contexts.Build(inv.Context)
	if err != nil {
		return h.fail(ctx, res, KindContext, err)
	}

	res.State = StateInvoking
	var out Out
	err = h.recovered(ctx, "handler", func() (err error) {
		out, err = h.handler(in, fctx)
		return err
	})
	if err != nil {
		return h.fail(ctx, res, KindHandler, err)
	}

	res.State = StateEncoding
	var b []byte
	err = h.recovered(ctx, "encode", func() (err error) {
		b, err = encodeOutput(out)
		return err
	})
	if err != nil {
		return h.fail(ctx, res, KindEncode, &EncodeError{Err: err})
	}

	res.Output = b
	res.State = StateDone
	h.logger.DebugContext(ctx, "Function handler called and generated response", "request_id", fctx.RequestID, "response_bytes", len(b))
	return res
}

func (h *Harness[In, Out]) decode(payload []byte) (In, error) {
	in, err := decodeInput[In](payload, h.strict)
	if err != nil {
		return in, err
	}
	if h.validate != nil {
		if err := validateInput(h.validate, in); err != nil {
			return in, err
		}
	}
	return in, nil
}

// recovered runs fn and reports a panic inside it as an error. Custom decoders, the handler,
// its error values and output marshalers all run here.
func (h *Harness[In, Out]) recovered(ctx context.Context, step string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.ErrorContext(ctx, "Recovered panic", "step", step, "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}

func (h *Harness[In, Out]) fail(ctx context.Context, res *Result, kind Kind, err error) *Result {
	var failure *Failure
	// a handler error may panic while it renders itself, e.g. a typed nil pointer
	if perr := h.recovered(ctx, "render error", func() error {
		failure = NewFailure(kind, err, h.detail)
		return nil
	}); perr != nil {
		failure = NewFailure(kind, perr, h.detail)
	}

	level := slog.LevelWarn
	if kind == KindContext || kind == KindEncode {
		level = slog.LevelError
	}
	h.logger.Log(ctx, level, "Function failed", "kind", kind, "state", res.State, "error", failure.Message)

	res.State = StateFailed
	res.Failure = failure
	return res
}
