package events

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

type testPayload struct {
	UserID string `json:"user_id"`
}

func (testPayload) PayloadClass() string { return "test.payload.v1" }

func TestNewEnvelope(t *testing.T) {
	before := time.Now().UTC()
	env, err := NewEnvelope("abc-123", TopicUser, "user-42", testPayload{UserID: "user-42"})
	if err != nil {
		t.Fatalf("NewEnvelope failed: %v", err)
	}
	if env.ID == "" {
		t.Fatal("expected generated id")
	}
	if env.CorrelationID != "abc-123" {
		t.Fatalf("expected correlation abc-123, got %q", env.CorrelationID)
	}
	if env.RetryCount != 0 {
		t.Fatalf("expected retry count 0, got %d", env.RetryCount)
	}
	if env.PayloadClass != "test.payload.v1" {
		t.Fatalf("unexpected payload class %q", env.PayloadClass)
	}
	if env.Timestamp.Before(before) {
		t.Fatalf("timestamp %s before construction time %s", env.Timestamp, before)
	}
}

func TestNewEnvelope_GeneratesCorrelation(t *testing.T) {
	env, err := NewEnvelope("", TopicUser, "", testPayload{})
	if err != nil {
		t.Fatalf("NewEnvelope failed: %v", err)
	}
	if env.CorrelationID == "" {
		t.Fatal("expected a generated correlation id")
	}
}

func TestNewEnvelope_RejectsUnknownTopic(t *testing.T) {
	if _, err := NewEnvelope("", Topic("SHARES"), "", testPayload{}); err == nil {
		t.Fatal("expected error for unknown topic")
	}
}

func TestMarshalUnmarshal_RoundTrip(t *testing.T) {
	env, err := NewEnvelope("corr-1", TopicConsent, "consent-1", testPayload{UserID: "u1"})
	if err != nil {
		t.Fatalf("NewEnvelope failed: %v", err)
	}
	data, err := Marshal(env)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	got, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if got.ID != env.ID || got.Topic != env.Topic || got.Key != env.Key || got.CorrelationID != env.CorrelationID {
		t.Fatalf("round trip mismatch: %+v != %+v", got, env)
	}
}

func TestUnmarshal_ToleratesUnknownFields(t *testing.T) {
	wire := `{
		"id": "e-1",
		"topic": "USER",
		"correlationId": "c-1",
		"retryCount": 0,
		"timestamp": "2026-08-01T10:00:00Z",
		"payloadClass": "test.payload.v1",
		"payload": {"user_id": "u1"},
		"schemaVersion": 7,
		"someFutureField": {"nested": true}
	}`
	env, err := Unmarshal([]byte(wire))
	if err != nil {
		t.Fatalf("Unmarshal failed on forward-compatible envelope: %v", err)
	}
	if env.ID != "e-1" || env.Topic != TopicUser {
		t.Fatalf("unexpected envelope %+v", env)
	}
}

func TestUnmarshal_ClassifiesDecodeError(t *testing.T) {
	cases := []string{
		`not json at all`,
		`{"id": "", "topic": "USER"}`,
		`{"id": "e-1", "topic": "UNKNOWN"}`,
	}
	for _, wire := range cases {
		_, err := Unmarshal([]byte(wire))
		var decodeErr *DecodeError
		if !errors.As(err, &decodeErr) {
			t.Fatalf("expected *DecodeError for %q, got %v", wire, err)
		}
	}
}

func TestMarshal_ClassifiesEncodeError(t *testing.T) {
	env := Envelope{
		ID:      "e-1",
		Topic:   TopicUser,
		Payload: json.RawMessage(`{notjson`),
	}
	_, err := Marshal(env)
	var encodeErr *EncodeError
	if !errors.As(err, &encodeErr) {
		t.Fatalf("expected *EncodeError, got %v", err)
	}
}
