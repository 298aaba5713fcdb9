package main

import (
	"fmt"

	"github.com/cloudevents/sdk-go/v2/event"
	"github.com/google/uuid"

	"github.com/3s-rg-codes/apexrt/pkg/function"
	"github.com/3s-rg-codes/apexrt/pkg/harness"
)

const source = "apexrt/functions/cloudevent"

func main() {
	function.Handle(handler)
}

// handler answers a CloudEvent in structured JSON mode with a reply event.
func handler(in event.Event, c *harness.Context) (event.Event, error) {
	if err := in.Validate(); err != nil {
		return event.Event{}, fmt.Errorf("invalid cloudevent: %w", err)
	}

	var data map[string]any
	if len(in.Data()) > 0 {
		if err := in.DataAs(&data); err != nil {
			return event.Event{}, fmt.Errorf("failed to read event data: %w", err)
		}
	}

	reply := event.New()
	reply.SetID(uuid.NewString())
	reply.SetSource(source)
	reply.SetType(in.Type() + ".reply")
	reply.SetSubject(in.ID())
	reply.SetExtension("requestid", c.RequestID)
	if err := reply.SetData(event.ApplicationJSON, map[string]any{
		"received": in.Type(),
		"from":     in.Source(),
		"data":     data,
	}); err != nil {
		return event.Event{}, fmt.Errorf("failed to set reply data: %w", err)
	}
	return reply, nil
}
