package events

import (
	"encoding/json"
	"testing"
)

func TestValidateEnvelopeRejectsUnknownType(t *testing.T) {
	e := Envelope{Type: "bogus", CorrelationID: "c1", Data: json.RawMessage(`{}`)}
	if err := ValidateEnvelope(e); err == nil {
		t.Fatal("expected error for unknown envelope type")
	}
}

func TestValidateEnvelopeRejectsMissingCorrelationID(t *testing.T) {
	e := Envelope{Type: TypeStatus, Data: json.RawMessage(`{}`)}
	if err := ValidateEnvelope(e); err == nil {
		t.Fatal("expected error for missing correlation id")
	}
}

func TestValidateEnvelopeAcceptsKnownType(t *testing.T) {
	e := Envelope{Type: TypeASR, CorrelationID: "c1", Data: json.RawMessage(`{}`)}
	if err := ValidateEnvelope(e); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateCommandRejectsUnknownName(t *testing.T) {
	c := Command{Name: "doSomethingElse"}
	if err := ValidateCommand(c); err == nil {
		t.Fatal("expected error for unknown command")
	}
}

func TestValidateCommandAcceptsKnownName(t *testing.T) {
	c := Command{Name: CmdStartListening}
	if err := ValidateCommand(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidatorRejectsRawEnvelopeMissingFields(t *testing.T) {
	v := NewValidator()
	_, err := v.ValidateRaw([]byte(`{"type": "asr"}`))
	if err == nil {
		t.Fatal("expected schema validation failure for missing fields")
	}
}

func TestValidatorAcceptsWellFormedEnvelope(t *testing.T) {
	v := NewValidator()
	raw := []byte(`{"type":"asr","timestamp":123,"correlation_id":"c1","data":{"text":"hi"}}`)
	env, err := v.ValidateRaw(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if env.Type != TypeASR || env.CorrelationID != "c1" {
		t.Fatalf("unexpected envelope: %+v", env)
	}
}

func TestValidatorRejectsUnknownEnvelopeType(t *testing.T) {
	v := NewValidator()
	raw := []byte(`{"type":"bogus","timestamp":123,"correlation_id":"c1","data":{}}`)
	if _, err := v.ValidateRaw(raw); err == nil {
		t.Fatal("expected rejection of unknown type even though it passes the generic schema")
	}
}

func TestEnvelopeSchemaRoundTrip(t *testing.T) {
	v := NewValidator()
	data, _ := json.Marshal(ASRData{Text: "hello", Confidence: 0.9, IsFinal: true, SegmentID: "s1"})
	env := Envelope{Type: TypeASR, Timestamp: 1000, CorrelationID: "c1", Data: data}
	raw, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	parsed, err := v.ValidateRaw(raw)
	if err != nil {
		t.Fatalf("validate round-trip: %v", err)
	}
	var got ASRData
	if err := json.Unmarshal(parsed.Data, &got); err != nil {
		t.Fatalf("unmarshal data: %v", err)
	}
	if got.Text != "hello" || got.SegmentID != "s1" {
		t.Fatalf("round-trip mismatch: %+v", got)
	}
}
