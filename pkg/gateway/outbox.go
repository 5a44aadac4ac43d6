package gateway

import (
	"context"
	"errors"

	"opsbot/pkg/bus"
	"opsbot/pkg/engine"
)

var errOutboxClosed = errors.New("outbound queue closed")

// outbox is the scheduler's transport. It queues actions on the bus so a
// slow chat network never stalls the scheduler loop.
type outbox struct {
	bus *bus.MessageBus
}

func (o outbox) SendReply(ctx context.Context, dst engine.Destination, text string) error {
	return o.publish(ctx, bus.OutboundMessage{Kind: bus.OutboundReply, Channel: dst.Channel, ChatID: dst.ChatID, Content: text})
}

func (o outbox) SendTyping(ctx context.Context, dst engine.Destination) error {
	return o.publish(ctx, bus.OutboundMessage{Kind: bus.OutboundTyping, Channel: dst.Channel, ChatID: dst.ChatID})
}

func (o outbox) publish(ctx context.Context, msg bus.OutboundMessage) error {
	if !o.bus.PublishOutbound(ctx, msg) {
		if err := ctx.Err(); err != nil {
			return err
		}
		return errOutboxClosed
	}

	return nil
}
