package transport

import (
	"context"
	"time"
)

// Dialog is one conversation as seen by the messaging client.
// A zero LastActivity means the client has no activity value for it.
type Dialog struct {
	ID           int64
	Name         string
	LastActivity time.Time
}

// Lister enumerates conversations in the client's own order.
type Lister interface {
	ListConversations(ctx context.Context) ([]Dialog, error)
}

// Sender delivers one text message to one conversation.
type Sender interface {
	Send(ctx context.Context, chatID int64, text string) error
}

// Client is the live handle to the messaging service.
type Client interface {
	Lister
	Sender
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

type ActivityKind string

const (
	ActivityMessage  ActivityKind = "message"
	ActivityEdit     ActivityKind = "edit"
	ActivityCallback ActivityKind = "callback"
	ActivityMember   ActivityKind = "member"
)

// Activity is a single observed event in a conversation.
type Activity struct {
	Kind   ActivityKind
	ChatID int64
	Name   string
	At     time.Time
}
