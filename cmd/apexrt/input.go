package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/goforj/godump"

	"github.com/3s-rg-codes/apexrt/pkg/shim"
)

// dump pretty-prints decoded values for --dump.
var dump = godump.Fdump

// readDocuments calls fn for every JSON document in r, in order.
func readDocuments(r io.Reader, fn func(json.RawMessage) error) error {
	dec := json.NewDecoder(r)
	for {
		var doc json.RawMessage
		if err := dec.Decode(&doc); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("parse input: %w", err)
		}
		if err := fn(doc); err != nil {
			return err
		}
	}
}

// requestFromDocument sends a document with an "event" key as it is and wraps anything
// else as the event. contextDoc is used when the document brings no context of its own.
func requestFromDocument(doc, contextDoc json.RawMessage) (shim.Request, error) {
	var envelope map[string]json.RawMessage
	if bytes.HasPrefix(bytes.TrimSpace(doc), []byte("{")) {
		if err := json.Unmarshal(doc, &envelope); err != nil {
			return shim.Request{}, fmt.Errorf("parse input: %w", err)
		}
	}

	req := shim.Request{Event: doc}
	if event, ok := envelope["event"]; ok {
		req.Event = event
		req.Context = envelope["context"]
	}
	if len(req.Context) == 0 {
		req.Context = contextDoc
	}
	return req, nil
}

// printResponse writes the response value as one line. A failed response is returned as
// an error instead.
func printResponse(w io.Writer, resp shim.Response, pretty bool) error {
	if err := resp.Err(); err != nil {
		return err
	}

	if pretty {
		var v any
		if len(resp.Value) > 0 {
			if err := json.Unmarshal(resp.Value, &v); err != nil {
				return fmt.Errorf("decode value: %w", err)
			}
		}
		dump(w, v)
		return nil
	}

	value := resp.Value
	if len(value) == 0 {
		value = json.RawMessage("null")
	}
	_, err := fmt.Fprintf(w, "%s\n", value)
	return err
}
