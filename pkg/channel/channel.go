// Package channel defines the contract between chat transports and the bot.
package channel

import (
	"context"

	"opsbot/pkg/bus"
)

// Handler accepts one inbound chat message. Replies arrive later through
// Adapter.Send.
type Handler func(context.Context, bus.InboundMessage)

// Adapter bridges one external transport (for example Telegram) into opsbot.
type Adapter interface {
	Name() string
	Run(context.Context, Handler) error
	Send(context.Context, bus.OutboundMessage) error
}
