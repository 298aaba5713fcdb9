package main

import (
	"encoding/json"
	"errors"

	"github.com/3s-rg-codes/apexrt/pkg/function"
	"github.com/3s-rg-codes/apexrt/pkg/harness"
)

var errDummy = errors.New("DummyError")

func main() {
	function.Handle(handler)
}

// handler fails every call, for exercising the error path of a host.
func handler(json.RawMessage, *harness.Context) (any, error) {
	return nil, errDummy
}
