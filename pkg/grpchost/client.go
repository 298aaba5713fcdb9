package grpchost

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/3s-rg-codes/apexrt/pkg/shim"
)

type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Invoke calls the function once. A function failure is reported in the response,
// not as an error.
func (c *Client) Invoke(ctx context.Context, req shim.Request, opts ...grpc.CallOption) (shim.Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return shim.Response{}, fmt.Errorf("encode request: %w", err)
	}

	out := new(wrapperspb.BytesValue)
	if err := c.cc.Invoke(ctx, InvokeMethod, wrapperspb.Bytes(body), out, opts...); err != nil {
		return shim.Response{}, err
	}
	return shim.ParseResponse(out.GetValue())
}
