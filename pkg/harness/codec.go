package harness

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"reflect"

	"github.com/go-playground/validator/v10"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
)

var protoMessageType = reflect.TypeOf((*proto.Message)(nil)).Elem()

var errTrailingData = errors.New("unexpected data after payload")

// decodeInput converts payload into In. Proto message pointers go through protojson, every
// other type through encoding/json. An empty payload is read as null.
func decodeInput[In any](payload []byte, strict bool) (In, error) {
	var in In

	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 {
		payload = []byte("null")
	}

	if t := reflect.TypeFor[In](); t.Kind() == reflect.Pointer && t.Implements(protoMessageType) {
		msg := reflect.New(t.Elem()).Interface().(proto.Message)
		opts := protojson.UnmarshalOptions{DiscardUnknown: !strict}
		if err := opts.Unmarshal(payload, msg); err != nil {
			return in, err
		}
		return msg.(In), nil
	}

	dec := json.NewDecoder(bytes.NewReader(payload))
	if strict {
		dec.DisallowUnknownFields()
	}
	if err := dec.Decode(&in); err != nil {
		return in, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return in, errTrailingData
	}
	return in, nil
}

// validateInput runs struct validation tags on struct inputs. Other kinds pass.
func validateInput(v *validator.Validate, in any) error {
	if _, ok := in.(proto.Message); ok {
		return nil
	}
	rv := reflect.ValueOf(in)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return nil
	}
	return v.Struct(rv.Interface())
}

func encodeOutput(out any) ([]byte, error) {
	if msg, ok := out.(proto.Message); ok {
		b, err := protojson.Marshal(msg)
		if err != nil {
			return nil, err
		}
		// protojson output is deliberately unstable in whitespace
		var buf bytes.Buffer
		if err := json.Compact(&buf, b); err != nil {
			return nil, fmt.Errorf("compact proto output: %w", err)
		}
		return buf.Bytes(), nil
	}
	return json.Marshal(out)
}
