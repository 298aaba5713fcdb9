package main

import (
	"github.com/aws/aws-lambda-go/events"

	"github.com/3s-rg-codes/apexrt/pkg/function"
	"github.com/3s-rg-codes/apexrt/pkg/harness"
)

type Summary struct {
	Records int            `json:"records"`
	Bytes   int            `json:"bytes"`
	Streams map[string]int `json:"streams"`
	Data    []string       `json:"data"`
}

func main() {
	function.Handle(handler)
}

// handler summarizes a batch of Kinesis records delivered by an event source mapping.
func handler(in events.KinesisEvent, _ *harness.Context) (Summary, error) {
	out := Summary{Streams: map[string]int{}}
	for _, rec := range in.Records {
		out.Records++
		out.Bytes += len(rec.Kinesis.Data)
		out.Streams[rec.EventSourceArn]++
		out.Data = append(out.Data, string(rec.Kinesis.Data))
	}
	return out, nil
}
