// Package function bootstraps a function process: it loads the runtime settings, sets up
// logging and serves a harness over the configured transport.
package function

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/3s-rg-codes/apexrt/pkg/grpchost"
	"github.com/3s-rg-codes/apexrt/pkg/harness"
	"github.com/3s-rg-codes/apexrt/pkg/lambdahost"
	"github.com/3s-rg-codes/apexrt/pkg/shim"
	"github.com/3s-rg-codes/apexrt/pkg/utils"
)

type Function struct {
	settings Settings
	logger   *slog.Logger

	stdin  io.Reader
	stdout io.Writer
}

// New loads the settings from the environment.
func New() *Function {
	s := LoadSettings()
	return NewWithSettings(s, utils.SetupLogger(s.LogLevel, s.LogFormat, s.LogFile))
}

func NewWithSettings(s Settings, logger *slog.Logger) *Function {
	if logger == nil {
		logger = slog.Default()
	}
	return &Function{
		settings: s,
		logger:   logger.With("instance_id", s.InstanceID, "transport", s.Transport),
		stdin:    os.Stdin,
		stdout:   os.Stdout,
	}
}

func (f *Function) Settings() Settings {
	return f.settings
}

func (f *Function) Logger() *slog.Logger {
	return f.logger
}

// HarnessOptions translates the settings into harness options.
func (f *Function) HarnessOptions() []harness.Option {
	opts := []harness.Option{harness.WithLogger(f.logger)}
	if f.settings.Strict {
		opts = append(opts, harness.WithStrictDecoding())
	}
	if f.settings.ErrorDetail {
		opts = append(opts, harness.WithErrorDetail())
	}
	return opts
}

// Serve blocks serving invoker until ctx is done, the host goes away or an invocation is fatal.
// The lambda transport never returns.
func (f *Function) Serve(ctx context.Context, invoker harness.Invoker) error {
	switch f.settings.Transport {
	case TransportShim:
		f.logger.Debug("Serving shim protocol")
		return shim.New(invoker, f.logger).Serve(ctx, f.stdin, f.stdout)
	case TransportGRPC:
		lis, err := net.Listen("tcp", f.settings.Address)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", f.settings.Address, err)
		}
		srv := grpchost.New(invoker, f.logger, grpchost.WithIdleTimeout(f.settings.IdleTimeout))
		return srv.Serve(ctx, lis)
	case TransportLambda:
		f.logger.Debug("Handing over to the Lambda runtime")
		lambdahost.Start(invoker, f.logger)
		return nil
	default:
		return fmt.Errorf("unknown transport %q", f.settings.Transport)
	}
}

// Ready serves invoker until SIGINT or SIGTERM. It exits the process on failure.
func (f *Function) Ready(invoker harness.Invoker) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := f.Serve(ctx, invoker); err != nil {
		f.logger.Error("Function stopped", "error", err)
		stop()
		os.Exit(1)
	}
	f.logger.Debug("Function stopped")
}

// Handle is the entry point of a function binary: it wraps handler in a harness configured
// from the environment and serves it. opts are applied after the environment options.
func Handle[In, Out any](handler harness.Handler[In, Out], opts ...harness.Option) {
	f := New()
	f.Ready(harness.New(handler, append(f.HarnessOptions(), opts...)...))
}
