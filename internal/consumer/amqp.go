package consumer

import (
	"context"

	amqp "github.com/rabbitmq/amqp091-go"
)

// amqpDelivery adapts an amqp091 delivery to the Delivery interface.
type amqpDelivery struct {
	d amqp.Delivery
}

func (a amqpDelivery) Body() []byte { return a.d.Body }

func (a amqpDelivery) Ack() error { return a.d.Ack(false) }

func (a amqpDelivery) Nack(requeue bool) error { return a.d.Nack(false, requeue) }

// BridgeDeliveries converts a raw amqp delivery channel into the
// consumer's Delivery channel. The goroutine exits when the source
// channel closes or the context is canceled.
func BridgeDeliveries(ctx context.Context, in <-chan amqp.Delivery) <-chan Delivery {
	out := make(chan Delivery)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-in:
				if !ok {
					return
				}
				select {
				case out <- amqpDelivery{d: d}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}
