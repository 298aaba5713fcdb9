package harness

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/aws/aws-lambda-go/lambdacontext"
	"github.com/google/uuid"
	mem "github.com/shirou/gopsutil/v4/mem"
)

// Context describes the invocation a handler is serving. The field names follow the
// Lambda context that the Apex shim forwards next to every event.
type Context struct {
	RequestID          string         `json:"awsRequestId,omitempty"`
	FunctionName       string         `json:"functionName,omitempty"`
	FunctionVersion    string         `json:"functionVersion,omitempty"`
	InvokedFunctionARN string         `json:"invokedFunctionArn,omitempty"`
	MemoryLimitInMB    string         `json:"memoryLimitInMB,omitempty"`
	LogGroupName       string         `json:"logGroupName,omitempty"`
	LogStreamName      string         `json:"logStreamName,omitempty"`
	Identity           *Identity      `json:"identity,omitempty"`
	ClientContext      *ClientContext `json:"clientContext,omitempty"`
}

type Identity struct {
	CognitoIdentityID     string `json:"cognitoIdentityId,omitempty"`
	CognitoIdentityPoolID string `json:"cognitoIdentityPoolId,omitempty"`
}

type ClientContext struct {
	Client ClientApplication `json:"client"`
	Custom map[string]string `json:"custom,omitempty"`
	Env    map[string]string `json:"env,omitempty"`
}

type ClientApplication struct {
	InstallationID string `json:"installation_id,omitempty"`
	AppTitle       string `json:"app_title,omitempty"`
	// AppVersionName is only carried in the shim context document. lambdacontext has no
	// counterpart, so Lambda leaves it out.
	AppVersionName string `json:"app_version_name,omitempty"`
	AppVersionCode string `json:"app_version_code,omitempty"`
	AppPackageName string `json:"app_package_name,omitempty"`
}

// Lambda returns the context in the shape aws-lambda-go uses, so handlers can hand it to
// libraries that read lambdacontext.FromContext.
func (c *Context) Lambda() *lambdacontext.LambdaContext {
	lc := &lambdacontext.LambdaContext{
		AwsRequestID:       c.RequestID,
		InvokedFunctionArn: c.InvokedFunctionARN,
	}
	if c.Identity != nil {
		lc.Identity = lambdacontext.CognitoIdentity{
			CognitoIdentityID:     c.Identity.CognitoIdentityID,
			CognitoIdentityPoolID: c.Identity.CognitoIdentityPoolID,
		}
	}
	if c.ClientContext != nil {
		lc.ClientContext = lambdacontext.ClientContext{
			Client: lambdacontext.ClientApplication{
				InstallationID: c.ClientContext.Client.InstallationID,
				AppTitle:       c.ClientContext.Client.AppTitle,
				AppVersionCode: c.ClientContext.Client.AppVersionCode,
				AppPackageName: c.ClientContext.Client.AppPackageName,
			},
			Custom: c.ClientContext.Custom,
			Env:    c.ClientContext.Env,
		}
	}
	return lc
}

// FromLambda builds a Context from the per-request lambda context and the process-wide
// values lambdacontext reads from the environment.
func FromLambda(lc *lambdacontext.LambdaContext) *Context {
	c := &Context{
		FunctionName:    lambdacontext.FunctionName,
		FunctionVersion: lambdacontext.FunctionVersion,
		LogGroupName:    lambdacontext.LogGroupName,
		LogStreamName:   lambdacontext.LogStreamName,
	}
	if lambdacontext.MemoryLimitInMB > 0 {
		c.MemoryLimitInMB = strconv.Itoa(lambdacontext.MemoryLimitInMB)
	}
	if lc == nil {
		return c
	}

	c.RequestID = lc.AwsRequestID
	c.InvokedFunctionARN = lc.InvokedFunctionArn
	if lc.Identity != (lambdacontext.CognitoIdentity{}) {
		c.Identity = &Identity{
			CognitoIdentityID:     lc.Identity.CognitoIdentityID,
			CognitoIdentityPoolID: lc.Identity.CognitoIdentityPoolID,
		}
	}
	cc := lc.ClientContext
	if cc.Client != (lambdacontext.ClientApplication{}) || len(cc.Custom) > 0 || len(cc.Env) > 0 {
		c.ClientContext = &ClientContext{
			Client: ClientApplication{
				InstallationID: cc.Client.InstallationID,
				AppTitle:       cc.Client.AppTitle,
				AppVersionCode: cc.Client.AppVersionCode,
				AppPackageName: cc.Client.AppPackageName,
			},
			Custom: cc.Custom,
			Env:    cc.Env,
		}
	}
	return c
}

// ContextBuilder constructs a fresh Context for every invocation. A nil hook is skipped,
// so the zero value only decodes the host-supplied document.
type ContextBuilder struct {
	// LookupEnv supplies defaults for fields the host did not send.
	LookupEnv func(key string) (string, bool)
	// NewRequestID is used when the host did not send awsRequestId.
	NewRequestID func() string
	// MemoryLimit is used when neither the host nor the environment know the limit.
	MemoryLimit func() (string, error)
}

// NewContextBuilder returns a builder reading the Lambda environment variables, generating
// UUID request ids and falling back to the host's total memory.
func NewContextBuilder() *ContextBuilder {
	return &ContextBuilder{
		LookupEnv:    os.LookupEnv,
		NewRequestID: uuid.NewString,
		MemoryLimit:  hostMemoryLimit,
	}
}

// Build merges raw over the environment defaults. Fields present in raw win.
func (b *ContextBuilder) Build(raw []byte) (*Context, error) {
	c := &Context{}
	b.applyEnv(c)

	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && !bytes.Equal(raw, []byte("null")) {
		if err := json.Unmarshal(raw, c); err != nil {
			return nil, &ContextError{Err: fmt.Errorf("decode context: %w", err)}
		}
	}

	if c.RequestID == "" && b.NewRequestID != nil {
		c.RequestID = b.NewRequestID()
	}
	if c.MemoryLimitInMB == "" && b.MemoryLimit != nil {
		limit, err := b.MemoryLimit()
		if err != nil {
			return nil, &ContextError{Err: err}
		}
		c.MemoryLimitInMB = limit
	}
	return c, nil
}

func (b *ContextBuilder) applyEnv(c *Context) {
	if b.LookupEnv == nil {
		return
	}
	fields := []struct {
		key string
		dst *string
	}{
		{"AWS_LAMBDA_FUNCTION_NAME", &c.FunctionName},
		{"AWS_LAMBDA_FUNCTION_VERSION", &c.FunctionVersion},
		{"AWS_LAMBDA_FUNCTION_MEMORY_SIZE", &c.MemoryLimitInMB},
		{"AWS_LAMBDA_LOG_GROUP_NAME", &c.LogGroupName},
		{"AWS_LAMBDA_LOG_STREAM_NAME", &c.LogStreamName},
	}
	for _, f := range fields {
		if v, ok := b.LookupEnv(f.key); ok {
			*f.dst = v
		}
	}
}

func hostMemoryLimit() (string, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return "", fmt.Errorf("read host memory: %w", err)
	}
	return strconv.FormatUint(vm.Total/(1024*1024), 10), nil
}
