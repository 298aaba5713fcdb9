package main

import (
	"github.com/3s-rg-codes/apexrt/pkg/function"
	"github.com/3s-rg-codes/apexrt/pkg/harness"
)

func main() {
	function.Handle(hello)
}

// hello answers with the invocation context, the event it got and a fixed phone list.
func hello(in map[string]any, c *harness.Context) (map[string]any, error) {
	return map[string]any{
		"name":   c,
		"age":    in,
		"phones": []string{"+44 1234567", "+44 2345678"},
	}, nil
}
