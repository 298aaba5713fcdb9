// Package shim serves a harness over the Apex shim protocol: newline-delimited JSON on
// stdin/stdout, one request and one response per line, strictly in order.
package shim

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/3s-rg-codes/apexrt/pkg/harness"
)

type Server struct {
	invoker harness.Invoker
	logger  *slog.Logger
}

func New(invoker harness.Invoker, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{invoker: invoker, logger: logger}
}

// Run serves on the process stdin and stdout.
func (s *Server) Run(ctx context.Context) error {
	return s.Serve(ctx, os.Stdin, os.Stdout)
}

// Serve reads requests from r until EOF and writes one response line to w per request.
// It returns the harness failure after writing the response of a fatal invocation.
func (s *Server) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	br := bufio.NewReader(r)
	bw := bufio.NewWriter(w)

	s.logger.Debug("Waiting for requests")
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		line, readErr := br.ReadBytes('\n')
		if len(bytes.TrimSpace(line)) > 0 {
			if err := s.handle(ctx, line, bw); err != nil {
				return err
			}
		}

		if readErr == io.EOF {
			s.logger.Debug("Input closed")
			return nil
		}
		if readErr != nil {
			return fmt.Errorf("read request: %w", readErr)
		}
	}
}

func (s *Server) handle(ctx context.Context, line []byte, bw *bufio.Writer) error {
	var (
		resp  Response
		fatal error
	)

	req, err := ParseRequest(line)
	if err != nil {
		s.logger.Error("Dropping request", "error", err)
		resp = Response{Error: err.Error()}
	} else {
		res := s.invoker.Invoke(ctx, req.Invocation())
		resp = NewResponse(res)
		if res.Fatal() {
			fatal = res.Err()
		}
	}

	out, err := marshalLine(resp)
	if err != nil {
		return fmt.Errorf("encode response: %w", err)
	}
	if _, err := bw.Write(out); err != nil {
		return fmt.Errorf("write response: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("write response: %w", err)
	}
	return fatal
}
