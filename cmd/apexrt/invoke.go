package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/3s-rg-codes/apexrt/pkg/containerhost"
	"github.com/3s-rg-codes/apexrt/pkg/grpchost"
	"github.com/3s-rg-codes/apexrt/pkg/shim"
	"github.com/3s-rg-codes/apexrt/pkg/utils"
)

type invokeOptions struct {
	context json.RawMessage
	dump    bool
	logs    io.Writer
}

// invokeBinary starts the function at path in shim mode and sends it one request per
// document read from in. The first failed response stops the run and is returned.
func invokeBinary(ctx context.Context, path string, args []string, opts invokeOptions, in io.Reader, out io.Writer) (err error) {
	proc := exec.CommandContext(ctx, path, args...)
	proc.Env = append(os.Environ(), "APEXRT_TRANSPORT=shim")
	proc.Stderr = opts.logs

	stdin, err := proc.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to open function stdin: %w", err)
	}
	stdout, err := proc.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to open function stdout: %w", err)
	}
	if err := proc.Start(); err != nil {
		return fmt.Errorf("failed to start function: %w", err)
	}

	defer func() {
		stdin.Close()
		waitErr := proc.Wait()
		if err == nil && waitErr != nil {
			err = fmt.Errorf("function exited: %w", waitErr)
		}
	}()

	return invokeShim(shim.NewClient(stdin, stdout), opts, in, out)
}

// invokeImage is invokeBinary for a function packaged as a container image.
func invokeImage(ctx context.Context, imageTag string, opts invokeOptions, in io.Reader, out io.Writer) (err error) {
	rt, err := containerhost.NewRuntime(slog.New(slog.NewTextHandler(opts.logs, nil)))
	if err != nil {
		return err
	}
	defer rt.Close()

	inst, err := rt.RunShim(ctx, imageTag, nil, opts.logs)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := inst.Close(ctx); err == nil && closeErr != nil {
			err = closeErr
		}
	}()
	return invokeShim(inst.Client, opts, in, out)
}

func invokeShim(client *shim.Client, opts invokeOptions, in io.Reader, out io.Writer) error {
	return readDocuments(in, func(doc json.RawMessage) error {
		req, err := requestFromDocument(doc, opts.context)
		if err != nil {
			return err
		}
		resp, err := client.Invoke(req)
		if err != nil {
			return err
		}
		return printResponse(out, resp, opts.dump)
	})
}

const imageStartRetries = 20

type callOptions struct {
	address string
	image   string
	context json.RawMessage
	timeout time.Duration
	retries int
	dump    bool
}

// callAddress sends one request per document read from in to the gRPC function at
// opts.address, retrying transport errors.
func callAddress(ctx context.Context, opts callOptions, in io.Reader, out io.Writer) (err error) {
	if opts.image != "" {
		var stop func(context.Context) error
		opts.address, stop, err = runImage(ctx, opts.image)
		if err != nil {
			return err
		}
		defer func() {
			if stopErr := stop(ctx); err == nil && stopErr != nil {
				err = stopErr
			}
		}()
		// the function needs a moment to listen
		opts.retries = max(opts.retries, imageStartRetries)
	}

	conn, err := grpc.NewClient(opts.address, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer conn.Close()

	client := grpchost.NewClient(conn)
	return readDocuments(in, func(doc json.RawMessage) error {
		req, err := requestFromDocument(doc, opts.context)
		if err != nil {
			return err
		}
		resp, err := utils.CallWithRetry(ctx, func() (shim.Response, error) {
			callCtx, cancel := context.WithTimeout(ctx, opts.timeout)
			defer cancel()
			return client.Invoke(callCtx, req)
		}, opts.retries+1, 100*time.Millisecond)
		if err != nil {
			return err
		}
		return printResponse(out, resp, opts.dump)
	})
}

// runImage starts imageTag in gRPC mode and returns its address and a func removing it.
func runImage(ctx context.Context, imageTag string) (string, func(context.Context) error, error) {
	rt, err := containerhost.NewRuntime(slog.Default())
	if err != nil {
		return "", nil, err
	}
	inst, err := rt.RunGRPC(ctx, imageTag, nil)
	if err != nil {
		rt.Close()
		return "", nil, err
	}
	return inst.Address, func(ctx context.Context) error {
		defer rt.Close()
		return inst.Close(ctx)
	}, nil
}

// contextFlag reads an inline JSON context document or, with a leading @, a file.
func contextFlag(value string) (json.RawMessage, error) {
	if value == "" {
		return nil, nil
	}
	raw := []byte(value)
	if path, ok := strings.CutPrefix(value, "@"); ok {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read context: %w", err)
		}
		raw = b
	}
	if !json.Valid(raw) {
		return nil, fmt.Errorf("context is not valid JSON")
	}
	return json.RawMessage(raw), nil
}
