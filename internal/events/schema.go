package events

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/xeipuuv/gojsonschema"
)

// envelopeSchema is the JSON Schema Validator.ValidateRaw checks a raw
// envelope against. It only requires "data" to be present; Data's own
// fields are not validated per type. Schemas are checked
// using xeipuuv/gojsonschema the way the teacher's model-table loader
// leaned on tidwall/gjson for structural checks before trusting a document.
const envelopeSchema = `{
	"type": "object",
	"required": ["type", "timestamp", "correlation_id", "data"],
	"properties": {
		"type": {"type": "string"},
		"timestamp": {"type": "integer"},
		"correlation_id": {"type": "string", "minLength": 1},
		"data": {}
	}
}`

const commandSchema = `{
	"type": "object",
	"required": ["name"],
	"properties": {
		"name": {"type": "string"}
	}
}`

// Validator holds compiled JSON schemas for the envelope and command
// message shapes. It is safe for concurrent use; schemas are compiled
// once at construction.
type Validator struct {
	envelope *gojsonschema.Schema
	command  *gojsonschema.Schema
}

// NewValidator compiles the envelope and command schemas. It panics on a
// malformed built-in schema, which would be a programmer error caught
// immediately in any test run rather than a runtime condition.
func NewValidator() *Validator {
	env, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(envelopeSchema))
	if err != nil {
		panic(fmt.Sprintf("events: invalid envelope schema: %v", err))
	}
	cmd, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(commandSchema))
	if err != nil {
		panic(fmt.Sprintf("events: invalid command schema: %v", err))
	}
	return &Validator{envelope: env, command: cmd}
}

// ValidateRaw validates a raw envelope frame read off the wire. Invalid
// messages are never forwarded; callers must log and drop per spec §4.10.
func (v *Validator) ValidateRaw(raw []byte) (Envelope, error) {
	result, err := v.envelope.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return Envelope{}, fmt.Errorf("events: schema validation error: %w", err)
	}
	if !result.Valid() {
		return Envelope{}, fmt.Errorf("events: envelope failed schema: %v", result.Errors())
	}
	var e Envelope
	if err := json.Unmarshal(raw, &e); err != nil {
		return Envelope{}, fmt.Errorf("events: envelope unmarshal: %w", err)
	}
	if err := ValidateEnvelope(e); err != nil {
		return Envelope{}, err
	}
	return e, nil
}

// ValidateCommandRaw validates a raw command frame read off the wire.
func (v *Validator) ValidateCommandRaw(raw []byte) (Command, error) {
	result, err := v.command.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return Command{}, fmt.Errorf("events: schema validation error: %w", err)
	}
	if !result.Valid() {
		return Command{}, fmt.Errorf("events: command failed schema: %v", result.Errors())
	}
	var c Command
	if err := json.Unmarshal(raw, &c); err != nil {
		return Command{}, fmt.Errorf("events: command unmarshal: %w", err)
	}
	if err := ValidateCommand(c); err != nil {
		return Command{}, err
	}
	return c, nil
}

// DropInvalid logs a structured entry for a rejected message and returns
// nothing further; it is the one place both the event and command
// inbound paths report a dropped frame so the behavior spec §4.10
// requires ("invalid messages are dropped with a structured log entry")
// cannot silently diverge between them.
func DropInvalid(direction string, raw []byte, err error) {
	slog.Warn("events: dropping invalid message", "direction", direction, "error", err, "size", len(raw))
}
