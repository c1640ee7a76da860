package domain

import "time"

type ParticipantRole string

const (
	RoleHost  ParticipantRole = "host"
	RoleGuest ParticipantRole = "guest"
)

type ConversationStatus string

const (
	ConversationActive   ConversationStatus = "active"
	ConversationArchived ConversationStatus = "archived"
	ConversationBlocked  ConversationStatus = "blocked"
)

type MessageType string

const (
	MessageText   MessageType = "text"
	MessageImage  MessageType = "image"
	MessageFile   MessageType = "file"
	MessageSystem MessageType = "system"
)

type MessageStatus string

const (
	StatusSending   MessageStatus = "sending"
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
	StatusFailed    MessageStatus = "failed"
)

type ModerationStatus string

const (
	ModerationClean   ModerationStatus = "clean"
	ModerationFlagged ModerationStatus = "flagged"
	ModerationBlocked ModerationStatus = "blocked"
)

// Identity is the authenticated caller attached to a connection or request.
type Identity struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Role        string `json:"role"`
}

// Participant is one side of a conversation.
type Participant struct {
	UserID    string          `json:"userId"`
	Role      ParticipantRole `json:"role"`
	FirstName string          `json:"firstName,omitempty"`
	LastName  string          `json:"lastName,omitempty"`
	JoinedAt  time.Time       `json:"joinedAt"`
}

// LastMessage is the conversation summary shown in inbox listings.
type LastMessage struct {
	Content  string    `json:"content"`
	SenderID string    `json:"senderId"`
	SentAt   time.Time `json:"sentAt"`
}

// Conversation pairs one host and one guest around a property.
type Conversation struct {
	ID           string             `json:"id"`
	PropertyID   string             `json:"propertyId"`
	BookingID    string             `json:"bookingId,omitempty"`
	Participants []Participant      `json:"participants"`
	LastMessage  *LastMessage       `json:"lastMessage,omitempty"`
	UnreadCount  map[string]int     `json:"unreadCount"`
	Status       ConversationStatus `json:"status"`
	CreatedAt    time.Time          `json:"createdAt"`
	UpdatedAt    time.Time          `json:"updatedAt"`
}

// HasParticipant reports whether userID belongs to the conversation.
func (c *Conversation) HasParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p.UserID == userID {
			return true
		}
	}
	return false
}

// ParticipantIDs returns the user ids in participant order.
func (c *Conversation) ParticipantIDs() []string {
	ids := make([]string, len(c.Participants))
	for i, p := range c.Participants {
		ids[i] = p.UserID
	}
	return ids
}

// Attachment references a file uploaded elsewhere; transfer is not handled here.
type Attachment struct {
	ID           string `json:"id" validate:"required"`
	URL          string `json:"url" validate:"required,url"`
	Type         string `json:"type" validate:"required,oneof=image document"`
	Filename     string `json:"filename" validate:"required"`
	Size         int64  `json:"size" validate:"gt=0"`
	MimeType     string `json:"mimeType" validate:"required"`
	ThumbnailURL string `json:"thumbnailUrl,omitempty" validate:"omitempty,url"`
}

type MessageContent struct {
	Text        string       `json:"text,omitempty" validate:"max=5000"`
	Attachments []Attachment `json:"attachments,omitempty" validate:"max=10,dive"`
}

// IsEmpty reports whether the content carries neither text nor attachments.
func (c MessageContent) IsEmpty() bool {
	return len(c.Text) == 0 && len(c.Attachments) == 0
}

// ModerationResult is computed once at send time and frozen with the message.
type ModerationResult struct {
	Status          ModerationStatus `json:"status"`
	Flags           []string         `json:"flags"`
	Confidence      float64          `json:"confidence"`
	OriginalContent string           `json:"originalContent,omitempty"`
}

type ReadReceipt struct {
	UserID string    `json:"userId"`
	ReadAt time.Time `json:"readAt"`
}

// Message is a single persisted chat message.
type Message struct {
	ID              string           `json:"id"`
	ConversationID  string           `json:"conversationId"`
	SenderID        string           `json:"senderId"`
	ClientMessageID string           `json:"clientMessageId"`
	Type            MessageType      `json:"type"`
	Content         MessageContent   `json:"content"`
	Moderation      ModerationResult `json:"moderation"`
	ReadBy          []ReadReceipt    `json:"readBy"`
	Status          MessageStatus    `json:"status"`
	CreatedAt       time.Time        `json:"createdAt"`
	UpdatedAt       time.Time        `json:"updatedAt"`
	DeletedAt       *time.Time       `json:"deletedAt,omitempty"`
}

// ReadByUser reports whether userID holds a receipt for the message.
func (m *Message) ReadByUser(userID string) bool {
	for _, r := range m.ReadBy {
		if r.UserID == userID {
			return true
		}
	}
	return false
}
