package driven

import "context"

// QueueConnector opens sessions against the message broker.
type QueueConnector interface {
	// Connect dials the broker and declares the durable queue.
	Connect(ctx context.Context) (QueueSession, error)
}

// QueueSession is one live broker connection.
type QueueSession interface {
	// Deliveries starts consuming with manual acknowledgement.
	// The channel is closed when the connection is lost or ctx ends.
	Deliveries(ctx context.Context) (<-chan Delivery, error)

	// Publish sends a persistent message to the queue.
	Publish(ctx context.Context, body []byte) error

	// Close releases the connection.
	Close() error
}

// Acknowledger settles a delivery with the broker.
type Acknowledger interface {
	Ack() error
	Reject(requeue bool) error
}

// Delivery is one message handed to a consumer.
type Delivery struct {
	Body        []byte
	Redelivered bool

	Acknowledger Acknowledger
}

// Ack confirms the delivery was handled.
func (d Delivery) Ack() error {
	return d.Acknowledger.Ack()
}

// Reject returns the delivery to the broker, optionally for redelivery.
func (d Delivery) Reject(requeue bool) error {
	return d.Acknowledger.Reject(requeue)
}
