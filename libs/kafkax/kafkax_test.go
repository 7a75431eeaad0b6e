package kafkax

import (
	"context"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
)

func TestEventMetaRoundTripThroughHeaders(t *testing.T) {
	meta := EventMeta{EventID: "evt-1", EventType: "booking.notification.requested.v1"}
	msg := kafka.Message{Topic: "ignored", Key: []byte("appt-1"), Headers: meta.Headers()}
	assert.Equal(t, meta, ExtractEventMeta(msg))
}

func TestExtractEventMetaFallsBackToKeyAndTopic(t *testing.T) {
	msg := kafka.Message{Topic: "booking.payment.charged.v1", Key: []byte("appt-9")}
	got := ExtractEventMeta(msg)
	assert.Equal(t, "appt-9", got.EventID)
	assert.Equal(t, "booking.payment.charged.v1", got.EventType)
}

func TestSplitBrokers(t *testing.T) {
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, SplitBrokers(" k1:9092, ,k2:9092 "))
	assert.Empty(t, SplitBrokers(""))
}

func TestReadyCheckWithoutBrokers(t *testing.T) {
	assert.EqualError(t, ReadyCheck("")(context.Background()), "kafka brokers not configured")
}
