package kafkax

import (
	"strings"

	"github.com/segmentio/kafka-go"
)

// Header names carried on every published envelope. Consumers in other stacks
// can route and correlate off these without parsing the body.
const (
	HeaderEventID        = "event_id"
	HeaderTopic          = "topic"
	HeaderPayloadClass   = "payload_class"
	HeaderCorrelationID  = "correlation_id"
	HeaderDLQReason      = "dlq_reason"
	HeaderDLQCause       = "dlq_cause"
	HeaderDLQSource      = "dlq_source"
	HeaderRetryNotBefore = "retry_not_before"
)

func HeaderValue(headers []kafka.Header, key string) string {
	for _, h := range headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func SplitBrokers(raw string) []string {
	var brokers []string
	for _, b := range strings.Split(raw, ",") {
		b = strings.TrimSpace(b)
		if b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}
