package main

import (
	"strings"

	"github.com/3s-rg-codes/apexrt/pkg/function"
	"github.com/3s-rg-codes/apexrt/pkg/harness"
)

type Message struct {
	Value string `json:"value" validate:"required"`
}

type Reply struct {
	Value     string `json:"value"`
	RequestID string `json:"requestId"`
}

func main() {
	function.Handle(handler, harness.WithValidation())
}

func handler(in Message, c *harness.Context) (Reply, error) {
	return Reply{Value: strings.ToUpper(in.Value), RequestID: c.RequestID}, nil
}
