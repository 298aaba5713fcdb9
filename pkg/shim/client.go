package shim

import (
	"bufio"
	"fmt"
	"io"
	"sync"
)

// Client speaks the host side of the protocol to a function process.
type Client struct {
	mu sync.Mutex
	w  io.Writer
	r  *bufio.Reader
}

// NewClient writes requests to w (the function's stdin) and reads responses from r
// (the function's stdout).
func NewClient(w io.Writer, r io.Reader) *Client {
	return &Client{w: w, r: bufio.NewReader(r)}
}

// Invoke sends req and waits for its response line.
func (c *Client) Invoke(req Request) (Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	line, err := marshalLine(req)
	if err != nil {
		return Response{}, fmt.Errorf("encode request: %w", err)
	}
	if _, err := c.w.Write(line); err != nil {
		return Response{}, fmt.Errorf("write request: %w", err)
	}

	reply, err := c.r.ReadBytes('\n')
	if err != nil && len(reply) == 0 {
		return Response{}, fmt.Errorf("read response: %w", err)
	}
	return ParseResponse(reply)
}
