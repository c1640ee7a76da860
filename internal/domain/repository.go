package domain

import (
	"context"
	"time"
)

// ConversationRepository defines persistence operations for conversations.
type ConversationRepository interface {
	// Create stores c and fills its id and timestamps. It returns ErrConflict when a
	// conversation already exists for the same property and participant pair.
	Create(ctx context.Context, c *Conversation) error
	FindByID(ctx context.Context, id string) (*Conversation, error)
	FindByParticipantsAndProperty(ctx context.Context, userIDs []string, propertyID string) (*Conversation, error)
	FindByUserID(ctx context.Context, userID string, limit int) ([]*Conversation, error)
	FindByPropertyID(ctx context.Context, propertyID string) ([]*Conversation, error)
	UpdateLastMessage(ctx context.Context, conversationID string, lm LastMessage) error
	IncrementUnreadCount(ctx context.Context, conversationID, userID string) error
	ResetUnreadCount(ctx context.Context, conversationID, userID string) error
	IsParticipant(ctx context.Context, conversationID, userID string) (bool, error)
	AddParticipant(ctx context.Context, conversationID string, p Participant) error
}

// MessageRepository defines persistence operations for messages.
type MessageRepository interface {
	// Create inserts m unless a message with the same (ConversationID, ClientMessageID)
	// exists. It returns the stored record and whether this call inserted it.
	Create(ctx context.Context, m *Message) (*Message, bool, error)
	FindByID(ctx context.Context, id string) (*Message, error)
	FindByClientMessageID(ctx context.Context, conversationID, clientMessageID string) (*Message, error)
	FindByConversation(ctx context.Context, conversationID string, opts PageOptions) (*Page, error)
	UpdateReadBy(ctx context.Context, conversationID string, messageIDs []string, userID string, readAt time.Time) (int64, error)
	UpdateStatus(ctx context.Context, messageID string, status MessageStatus) error
}
