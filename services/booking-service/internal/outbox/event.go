package outbox

// Event is the domain event envelope written to the outbox table.
// The Kafka topic name equals EventType.
type Event struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

const (
	TopicNotificationRequested = "booking.notification.requested.v1"
	TopicPaymentCharged        = "booking.payment.charged.v1"
	TopicPaymentFailed         = "booking.payment.failed.v1"
)
