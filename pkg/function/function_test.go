package function

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3s-rg-codes/apexrt/pkg/harness"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"APEXRT_TRANSPORT", "APEXRT_ADDRESS", "APEXRT_IDLE_TIMEOUT", "APEXRT_LOG_LEVEL",
		"APEXRT_LOG_FORMAT", "APEXRT_LOG_FILE", "APEXRT_ERROR_DETAIL", "APEXRT_STRICT",
		"APEXRT_INSTANCE_ID", "AWS_LAMBDA_RUNTIME_API",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadSettingsDefaults(t *testing.T) {
	clearEnv(t)

	s := LoadSettings()
	assert.Equal(t, TransportShim, s.Transport)
	assert.Equal(t, "0.0.0.0:50052", s.Address)
	assert.Equal(t, time.Duration(0), s.IdleTimeout)
	assert.Equal(t, "info", s.LogLevel)
	assert.False(t, s.ErrorDetail)
	assert.False(t, s.Strict)
}

func TestLoadSettingsFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("APEXRT_TRANSPORT", "grpc")
	t.Setenv("APEXRT_ADDRESS", "127.0.0.1:6000")
	t.Setenv("APEXRT_IDLE_TIMEOUT", "30s")
	t.Setenv("APEXRT_LOG_LEVEL", "debug")
	t.Setenv("APEXRT_ERROR_DETAIL", "true")
	t.Setenv("APEXRT_STRICT", "true")
	t.Setenv("APEXRT_INSTANCE_ID", "fn-1")

	s := LoadSettings()
	assert.Equal(t, TransportGRPC, s.Transport)
	assert.Equal(t, "127.0.0.1:6000", s.Address)
	assert.Equal(t, 30*time.Second, s.IdleTimeout)
	assert.Equal(t, "debug", s.LogLevel)
	assert.True(t, s.ErrorDetail)
	assert.True(t, s.Strict)
	assert.Equal(t, "fn-1", s.InstanceID)
}

func TestLoadSettingsDetectsLambda(t *testing.T) {
	clearEnv(t)
	t.Setenv("AWS_LAMBDA_RUNTIME_API", "127.0.0.1:9001")

	assert.Equal(t, TransportLambda, LoadSettings().Transport)

	t.Setenv("APEXRT_TRANSPORT", "shim")
	assert.Equal(t, TransportShim, LoadSettings().Transport)
}

type greeting struct {
	Name string `json:"name"`
}

func greeter() harness.Handler[greeting, map[string]string] {
	return func(in greeting, c *harness.Context) (map[string]string, error) {
		if in.Name == "" {
			return nil, errors.New("nobody to greet")
		}
		return map[string]string{"hello": in.Name}, nil
	}
}

func testFunction(s Settings) *Function {
	return NewWithSettings(s, slog.New(slog.DiscardHandler))
}

func TestServeShim(t *testing.T) {
	f := testFunction(Settings{Transport: TransportShim})
	var out bytes.Buffer
	f.stdin = strings.NewReader(`{"event": {"name": "tj"}}` + "\n" + `{"event": {}}` + "\n")
	f.stdout = &out

	inv := harness.New(greeter(), append(f.HarnessOptions(), harness.WithContextBuilder(&harness.ContextBuilder{}))...)
	require.NoError(t, f.Serve(context.Background(), inv))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	assert.JSONEq(t, `{"value": {"hello": "tj"}}`, lines[0])
	assert.JSONEq(t, `{"error": "nobody to greet"}`, lines[1])
}

func TestServeStrictShim(t *testing.T) {
	f := testFunction(Settings{Transport: TransportShim, Strict: true})
	var out bytes.Buffer
	f.stdin = strings.NewReader(`{"event": {"name": "tj", "age": 3}}` + "\n")
	f.stdout = &out

	inv := harness.New(greeter(), append(f.HarnessOptions(), harness.WithContextBuilder(&harness.ContextBuilder{}))...)
	require.NoError(t, f.Serve(context.Background(), inv))
	assert.Contains(t, out.String(), "decode input")
}

func TestServeGRPCStopsOnCancel(t *testing.T) {
	f := testFunction(Settings{Transport: TransportGRPC, Address: "127.0.0.1:0"})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- f.Serve(ctx, harness.New(greeter()))
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("grpc transport did not stop")
	}
}

func TestServeGRPCListenFailure(t *testing.T) {
	f := testFunction(Settings{Transport: TransportGRPC, Address: "not-an-address"})
	err := f.Serve(context.Background(), harness.New(greeter()))
	assert.ErrorContains(t, err, "failed to listen")
}

func TestServeUnknownTransport(t *testing.T) {
	f := testFunction(Settings{Transport: "carrier-pigeon"})
	err := f.Serve(context.Background(), harness.New(greeter()))
	assert.EqualError(t, err, `unknown transport "carrier-pigeon"`)
}

func TestHarnessOptions(t *testing.T) {
	assert.Len(t, testFunction(Settings{}).HarnessOptions(), 1)
	assert.Len(t, testFunction(Settings{Strict: true, ErrorDetail: true}).HarnessOptions(), 3)
}
