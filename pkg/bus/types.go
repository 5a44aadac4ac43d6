package bus

import "time"

// InboundMessage is one chat message received by a channel adapter.
type InboundMessage struct {
	Channel    string    `json:"channel"`
	MessageID  string    `json:"message_id,omitempty"`
	SenderID   string    `json:"sender_id"`
	SenderName string    `json:"sender_name,omitempty"`
	ChatID     string    `json:"chat_id"`
	ChatName   string    `json:"chat_name,omitempty"`
	Content    string    `json:"content"`
	At         time.Time `json:"at"`
}

// OutboundKind says what an adapter should do with an outbound message.
type OutboundKind string

const (
	OutboundReply  OutboundKind = "reply"
	OutboundTyping OutboundKind = "typing"
)

// OutboundMessage is one reply or typing indicator addressed to a chat.
type OutboundMessage struct {
	Kind    OutboundKind `json:"kind"`
	Channel string       `json:"channel"`
	ChatID  string       `json:"chat_id"`
	Content string       `json:"content,omitempty"`
}
