package kafkax

import (
	"context"
	"io"
	"log/slog"
	"reflect"
	"testing"

	"github.com/segmentio/kafka-go"
)

func TestSplitBrokers(t *testing.T) {
	got := SplitBrokers(" kafka-1:9092, kafka-2:9092 ,,")
	want := []string{"kafka-1:9092", "kafka-2:9092"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("SplitBrokers = %v, want %v", got, want)
	}
	if got := SplitBrokers(""); got != nil {
		t.Fatalf("expected nil for empty input, got %v", got)
	}
}

func TestHeaderValue(t *testing.T) {
	headers := []kafka.Header{
		{Key: HeaderEventID, Value: []byte("e-1")},
		{Key: HeaderCorrelationID, Value: []byte("abc-123")},
	}
	if got := HeaderValue(headers, HeaderCorrelationID); got != "abc-123" {
		t.Fatalf("HeaderValue = %q", got)
	}
	if got := HeaderValue(headers, "missing"); got != "" {
		t.Fatalf("expected empty for missing header, got %q", got)
	}
}

func TestProducer_RejectsPublishAfterClose(t *testing.T) {
	p := NewProducer([]string{"localhost:9092"}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err := p.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := p.write(context.Background(), kafka.Message{}); err != ErrClosed {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	// Closing twice must be a no-op.
	if err := p.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}
}
