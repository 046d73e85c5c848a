package events

import "encoding/json"

// Bus builds correlation-id-stamped envelopes for one session and hands
// them to a Sink (the transport — typically a ws.Conn wrapper). It has
// no knowledge of WebSockets; internal/ws depends on this package, never
// the reverse, so C8 can also use a Bus in tests with an in-memory Sink.
type Bus struct {
	correlationID string
	sink          Sink
	nowMs         func() int64
}

// Sink receives envelopes ready for transport. Implementations must be
// safe for concurrent Send calls, mirroring the teacher's single
// mutex-guarded writer per connection.
type Sink interface {
	Send(Envelope) error
}

// NewBus creates a Bus that stamps every envelope with correlationID and
// delivers it to sink. nowMs supplies the timestamp (injectable for
// deterministic tests).
func NewBus(correlationID string, sink Sink, nowMs func() int64) *Bus {
	return &Bus{correlationID: correlationID, sink: sink, nowMs: nowMs}
}

// Publish marshals data, wraps it in an Envelope of the given type
// stamped with the bus's correlation id and current time, and sends it.
func (b *Bus) Publish(t Type, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return b.sink.Send(Envelope{
		Type:          t,
		Timestamp:     b.nowMs(),
		CorrelationID: b.correlationID,
		Data:          raw,
	})
}

// CorrelationID returns the id this bus stamps every event with.
func (b *Bus) CorrelationID() string { return b.correlationID }
