package notify

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"

	"github.com/sells-group/prospector/internal/model"
)

// Publisher pushes a persisted notification to a real-time topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, n model.Notification) error
}

// Nop discards every push.
type Nop struct{}

// Publish implements Publisher.
func (Nop) Publish(context.Context, string, model.Notification) error { return nil }

// Multi publishes to every publisher and joins their errors.
type Multi []Publisher

// Publish implements Publisher.
func (m Multi) Publish(ctx context.Context, topic string, n model.Notification) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, topic, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Push modes.
const (
	PushWS   = "ws"
	PushAMQP = "amqp"
	PushBoth = "both"
	PushNone = "none"
)

// NewPublisher builds the publisher for mode. dial is only called for the
// amqp and both modes. The returned closer releases broker resources.
func NewPublisher(mode string, hub *Hub, dial func() (*AMQPPublisher, error)) (Publisher, func() error, error) {
	noClose := func() error { return nil }
	switch mode {
	case PushNone, "":
		return Nop{}, noClose, nil
	case PushWS:
		return hub, noClose, nil
	case PushAMQP, PushBoth:
		ap, err := dial()
		if err != nil {
			return nil, nil, err
		}
		if mode == PushAMQP {
			return ap, ap.Close, nil
		}
		return Multi{hub, ap}, ap.Close, nil
	default:
		return nil, nil, eris.Errorf("notify: unknown push mode %q", mode)
	}
}
