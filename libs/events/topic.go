package events

import "fmt"

// Topic is a named logical channel domain events travel on. The set is closed
// and known at build time; routing keys off it, payload typing does not.
type Topic string

const (
	TopicUser     Topic = "USER"
	TopicUserAuth Topic = "USER_AUTH"
	TopicConsent  Topic = "CONSENT"
)

var topicDestinations = map[Topic]string{
	TopicUser:     "finagg.user.v1",
	TopicUserAuth: "finagg.user-auth.v1",
	TopicConsent:  "finagg.consent.v1",
}

func (t Topic) Valid() bool {
	_, ok := topicDestinations[t]
	return ok
}

// Destination is the broker topic name events on this Topic are published to.
func (t Topic) Destination() string {
	return topicDestinations[t]
}

// DeadLetterDestination is the broker topic that receives envelopes which
// exhausted their retries or could not be interpreted.
func (t Topic) DeadLetterDestination() string {
	return topicDestinations[t] + ".dlq"
}

func ParseTopic(s string) (Topic, error) {
	t := Topic(s)
	if !t.Valid() {
		return "", fmt.Errorf("unknown topic %q", s)
	}
	return t, nil
}

// Topics returns all known topics, in a stable order.
func Topics() []Topic {
	return []Topic{TopicUser, TopicUserAuth, TopicConsent}
}
