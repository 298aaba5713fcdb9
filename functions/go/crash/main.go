package main

import (
	"encoding/json"

	"github.com/3s-rg-codes/apexrt/pkg/function"
	"github.com/3s-rg-codes/apexrt/pkg/harness"
)

func main() {
	function.Handle(handler)
}

// this function panics on purpose
func handler(json.RawMessage, *harness.Context) (any, error) {
	panic("crash")
}
