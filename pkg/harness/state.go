package harness

// State is the position of an invocation in the harness pipeline:
// Idle → Decoding → Invoking → Encoding → Done, with Failed reachable from every step
// after Idle.
type State int

const (
	StateIdle State = iota
	StateDecoding
	StateInvoking
	StateEncoding
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDecoding:
		return "decoding"
	case StateInvoking:
		return "invoking"
	case StateEncoding:
		return "encoding"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Result is the outcome of one invocation. Exactly one of Output and Failure is set.
type Result struct {
	State   State
	Output  []byte
	Failure *Failure
}

// Bytes returns the serialized output, or the failure envelope.
func (r *Result) Bytes() []byte {
	if r.Failure != nil {
		return r.Failure.Envelope()
	}
	return r.Output
}

// Err returns the failure as an error, or nil on success.
func (r *Result) Err() error {
	if r.Failure == nil {
		return nil
	}
	return r.Failure
}

// Fatal reports whether the harness itself could not serve the call. Hosts should stop
// accepting invocations after a fatal result.
func (r *Result) Fatal() bool {
	return r.Failure != nil && r.Failure.Kind == KindContext
}
