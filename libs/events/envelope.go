package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Payload is implemented by every domain event body that can be sent through
// the pipeline. PayloadClass is the stable identifier consumers use to pick a
// decoder; it must never change for an already-published event shape.
type Payload interface {
	PayloadClass() string
}

// Envelope is the wire and at-rest form of one event. Fields are set once at
// send time and never mutated, except RetryCount which the dispatcher
// increments on each failed delivery attempt.
type Envelope struct {
	ID            string          `json:"id"`
	Topic         Topic           `json:"topic"`
	CorrelationID string          `json:"correlationId"`
	Key           string          `json:"key,omitempty"`
	RetryCount    int             `json:"retryCount"`
	Timestamp     time.Time       `json:"timestamp"`
	PayloadClass  string          `json:"payloadClass"`
	Payload       json.RawMessage `json:"payload"`
}

// NewEnvelope builds an envelope for payload: fresh id, the given correlation
// id (generated if empty), timestamp now, retry count zero. A payload
// that cannot be serialized is an error the caller must treat as fatal to its
// transaction.
func NewEnvelope(correlationID string, topic Topic, key string, payload Payload) (Envelope, error) {
	if !topic.Valid() {
		return Envelope{}, fmt.Errorf("unknown topic %q", topic)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("serialize %s payload: %w", payload.PayloadClass(), err)
	}
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	return Envelope{
		ID:            uuid.NewString(),
		Topic:         topic,
		CorrelationID: correlationID,
		Key:           key,
		RetryCount:    0,
		Timestamp:     time.Now().UTC(),
		PayloadClass:  payload.PayloadClass(),
		Payload:       body,
	}, nil
}

func (e Envelope) Validate() error {
	if e.ID == "" {
		return errors.New("envelope has no id")
	}
	if !e.Topic.Valid() {
		return fmt.Errorf("envelope %s has unknown topic %q", e.ID, e.Topic)
	}
	if e.RetryCount < 0 {
		return fmt.Errorf("envelope %s has negative retry count", e.ID)
	}
	return nil
}

// EncodeError marks a local serialization failure. It is permanent: retrying
// the publish cannot make the envelope encodable.
type EncodeError struct {
	ID  string
	Err error
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("encode envelope %s: %v", e.ID, e.Err)
}

func (e *EncodeError) Unwrap() error { return e.Err }

// DecodeError marks a wire payload that could not be interpreted as an
// envelope. It is fatal for that message and must not be treated as transient.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode envelope: %v", e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Marshal renders the envelope to its wire form.
func Marshal(e Envelope) ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, &EncodeError{ID: e.ID, Err: err}
	}
	return data, nil
}

// Unmarshal parses a wire envelope. Unknown fields are ignored so newer
// producers stay compatible with older consumers.
func Unmarshal(data []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return Envelope{}, &DecodeError{Err: err}
	}
	if err := e.Validate(); err != nil {
		return Envelope{}, &DecodeError{Err: err}
	}
	return e, nil
}
