package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/samber/lo"

	"hostchat/internal/domain"
	"hostchat/internal/moderation"
)

const attachmentSummary = "[Attachment]"

// Notifier fans out events once a write is durable. Errors are logged by the
// caller and never fail the operation that produced the event.
type Notifier interface {
	MessageCreated(ctx context.Context, msg *domain.Message, conv *domain.Conversation) error
	MessagesRead(ctx context.Context, conversationID, userID string, messageIDs []string, at time.Time) error
}

type Moderator interface {
	Classify(text string) domain.ModerationResult
}

// HostVerifier checks that hostID owns propertyID. A *domain.Error with the
// validation code means the pair is wrong; any other error means the lookup
// itself failed.
type HostVerifier interface {
	VerifyHost(ctx context.Context, propertyID, hostID string) error
}

type ChatService struct {
	conversations domain.ConversationRepository
	messages      domain.MessageRepository
	moderator     Moderator
	notifier      Notifier
	hosts         HostVerifier
	log           *slog.Logger
	now           func() time.Time
}

func NewChatService(
	conversations domain.ConversationRepository,
	messages domain.MessageRepository,
	moderator Moderator,
	log *slog.Logger,
) *ChatService {
	return &ChatService{
		conversations: conversations,
		messages:      messages,
		moderator:     moderator,
		log:           log.With("component", "chat_service"),
		now:           time.Now,
	}
}

// SetNotifier wires the broadcast side. The bus needs the service to gate
// joins, so it is attached after both are built.
func (s *ChatService) SetNotifier(n Notifier) {
	s.notifier = n
}

// SetHostVerifier enables property ownership checks on conversation creation.
func (s *ChatService) SetHostVerifier(h HostVerifier) {
	s.hosts = h
}

type SendMessageInput struct {
	ConversationID  string `validate:"required"`
	SenderID        string `validate:"required"`
	Content         domain.MessageContent
	Type            domain.MessageType `validate:"omitempty,oneof=text image file system"`
	ClientMessageID string             `validate:"required,max=128"`
}

// SendMessage persists a message exactly once per (conversation, client id).
// A repeated client id returns the stored message without side effects.
func (s *ChatService) SendMessage(ctx context.Context, in SendMessageInput) (*domain.Message, error) {
	if err := Validate(in); err != nil {
		return nil, err
	}
	if in.Content.IsEmpty() {
		return nil, domain.Validation("Message must contain text or attachments")
	}
	if in.Type == "" {
		in.Type = domain.MessageText
	}

	conv, err := s.loadForParticipant(ctx, in.ConversationID, in.SenderID)
	if err != nil {
		return nil, err
	}
	if conv.Status != domain.ConversationActive {
		return nil, domain.Forbidden("Conversation is not active")
	}

	existing, err := s.messages.FindByClientMessageID(ctx, in.ConversationID, in.ClientMessageID)
	if err != nil {
		return nil, domain.Storage("Failed to load message", err)
	}
	if existing != nil {
		s.log.Debug("duplicate send", "conversation_id", in.ConversationID, "client_message_id", in.ClientMessageID)
		return existing, nil
	}

	result := s.moderator.Classify(in.Content.Text)
	if result.Status == domain.ModerationBlocked {
		s.log.Info("message blocked",
			"conversation_id", in.ConversationID,
			"sender_id", in.SenderID,
			"flags", result.Flags,
		)
		return nil, domain.ModerationBlockedError(moderation.WarningMessage(result), result.Flags)
	}

	now := s.now().UTC()
	msg, created, err := s.messages.Create(ctx, &domain.Message{
		ConversationID:  in.ConversationID,
		SenderID:        in.SenderID,
		ClientMessageID: in.ClientMessageID,
		Type:            in.Type,
		Content:         in.Content,
		Moderation:      result,
		ReadBy:          []domain.ReadReceipt{{UserID: in.SenderID, ReadAt: now}},
		Status:          domain.StatusSent,
		CreatedAt:       now,
	})
	if err != nil {
		return nil, domain.Storage("Failed to save message", err)
	}
	if !created {
		// lost the race to a concurrent retry with the same client id
		return msg, nil
	}

	summary := msg.Content.Text
	if summary == "" {
		summary = attachmentSummary
	}
	if err := s.conversations.UpdateLastMessage(ctx, conv.ID, domain.LastMessage{
		Content:  summary,
		SenderID: msg.SenderID,
		SentAt:   msg.CreatedAt,
	}); err != nil {
		return nil, domain.Storage("Failed to update conversation", err)
	}
	for _, p := range conv.Participants {
		if p.UserID == in.SenderID {
			continue
		}
		if err := s.conversations.IncrementUnreadCount(ctx, conv.ID, p.UserID); err != nil {
			return nil, domain.Storage("Failed to update unread count", err)
		}
	}

	if s.notifier != nil {
		if err := s.notifier.MessageCreated(ctx, msg, conv); err != nil {
			s.log.Error("notify message created", "message_id", msg.ID, "error", err)
		}
	}
	return msg, nil
}

// MarkAsRead records receipts for userID and clears their unread counter.
func (s *ChatService) MarkAsRead(ctx context.Context, conversationID, userID string, messageIDs []string) error {
	if conversationID == "" {
		return domain.Validation("conversationId is required")
	}
	conv, err := s.loadForParticipant(ctx, conversationID, userID)
	if err != nil {
		return err
	}

	ids := lo.Uniq(lo.Compact(messageIDs))
	at := s.now().UTC()
	if len(ids) > 0 {
		if _, err := s.messages.UpdateReadBy(ctx, conv.ID, ids, userID, at); err != nil {
			return domain.Storage("Failed to mark messages as read", err)
		}
	}
	if err := s.conversations.ResetUnreadCount(ctx, conv.ID, userID); err != nil {
		return domain.Storage("Failed to reset unread count", err)
	}

	if s.notifier != nil {
		if err := s.notifier.MessagesRead(ctx, conv.ID, userID, ids, at); err != nil {
			s.log.Error("notify messages read", "conversation_id", conv.ID, "error", err)
		}
	}
	return nil
}

func (s *ChatService) GetMessages(ctx context.Context, conversationID, userID string, opts domain.PageOptions) (*domain.Page, error) {
	if _, err := s.loadForParticipant(ctx, conversationID, userID); err != nil {
		return nil, err
	}
	page, err := s.messages.FindByConversation(ctx, conversationID, opts.Normalize())
	if err != nil {
		var de *domain.Error
		if errors.As(err, &de) {
			return nil, err
		}
		return nil, domain.Storage("Failed to load messages", err)
	}
	return page, nil
}

func (s *ChatService) GetConversations(ctx context.Context, userID string) ([]*domain.Conversation, error) {
	convs, err := s.conversations.FindByUserID(ctx, userID, domain.DefaultPageSize)
	if err != nil {
		return nil, domain.Storage("Failed to load conversations", err)
	}
	if convs == nil {
		convs = []*domain.Conversation{}
	}
	return convs, nil
}

func (s *ChatService) GetConversation(ctx context.Context, conversationID, userID string) (*domain.Conversation, error) {
	return s.loadForParticipant(ctx, conversationID, userID)
}

type CreateConversationInput struct {
	PropertyID     string `json:"propertyId" validate:"required"`
	HostID         string `json:"hostId" validate:"required"`
	GuestID        string `json:"guestId" validate:"required,nefield=HostID"`
	BookingID      string `json:"bookingId,omitempty"`
	HostFirstName  string `json:"hostFirstName,omitempty" validate:"max=100"`
	HostLastName   string `json:"hostLastName,omitempty" validate:"max=100"`
	GuestFirstName string `json:"guestFirstName,omitempty" validate:"max=100"`
	GuestLastName  string `json:"guestLastName,omitempty" validate:"max=100"`
}

// GetOrCreateConversation returns the conversation for the property and
// host/guest pair, creating it on first contact.
func (s *ChatService) GetOrCreateConversation(ctx context.Context, callerID string, in CreateConversationInput) (*domain.Conversation, error) {
	if err := Validate(in); err != nil {
		return nil, err
	}
	if callerID != in.HostID && callerID != in.GuestID {
		return nil, domain.Forbidden("You can only create conversations you participate in")
	}

	// participant lookup ignores roles, so the host claim is checked first
	if err := s.verifyHost(ctx, in.PropertyID, in.HostID); err != nil {
		return nil, err
	}

	pair := []string{in.HostID, in.GuestID}
	conv, err := s.conversations.FindByParticipantsAndProperty(ctx, pair, in.PropertyID)
	if err != nil {
		return nil, domain.Storage("Failed to load conversation", err)
	}
	if conv != nil {
		return conv, nil
	}

	now := s.now().UTC()
	conv = &domain.Conversation{
		PropertyID: in.PropertyID,
		BookingID:  in.BookingID,
		Participants: []domain.Participant{
			{UserID: in.HostID, Role: domain.RoleHost, FirstName: in.HostFirstName, LastName: in.HostLastName, JoinedAt: now},
			{UserID: in.GuestID, Role: domain.RoleGuest, FirstName: in.GuestFirstName, LastName: in.GuestLastName, JoinedAt: now},
		},
		Status:    domain.ConversationActive,
		CreatedAt: now,
	}
	err = s.conversations.Create(ctx, conv)
	if errors.Is(err, domain.ErrConflict) {
		winner, ferr := s.conversations.FindByParticipantsAndProperty(ctx, pair, in.PropertyID)
		if ferr != nil {
			return nil, domain.Storage("Failed to load conversation", ferr)
		}
		if winner == nil {
			return nil, domain.Storage("Failed to create conversation", err)
		}
		return winner, nil
	}
	if err != nil {
		return nil, domain.Storage("Failed to create conversation", err)
	}

	s.log.Info("conversation created",
		"conversation_id", conv.ID,
		"property_id", conv.PropertyID,
		"host_id", in.HostID,
		"guest_id", in.GuestID,
	)
	return conv, nil
}

// CheckConversationExists returns the matching conversation or nil.
func (s *ChatService) CheckConversationExists(ctx context.Context, callerID, propertyID, hostID, guestID string) (*domain.Conversation, error) {
	if propertyID == "" || hostID == "" || guestID == "" {
		return nil, domain.Validation("propertyId, hostId and guestId are required")
	}
	if callerID != hostID && callerID != guestID {
		return nil, domain.Forbidden("You can only check conversations you participate in")
	}
	conv, err := s.conversations.FindByParticipantsAndProperty(ctx, []string{hostID, guestID}, propertyID)
	if err != nil {
		return nil, domain.Storage("Failed to load conversation", err)
	}
	return conv, nil
}

func (s *ChatService) verifyHost(ctx context.Context, propertyID, hostID string) error {
	if s.hosts == nil {
		return nil
	}
	err := s.hosts.VerifyHost(ctx, propertyID, hostID)
	if err == nil {
		return nil
	}
	var de *domain.Error
	if errors.As(err, &de) && de.Code == domain.CodeValidation {
		return de
	}
	s.log.Warn("host verification unavailable, allowing", "property_id", propertyID, "error", err)
	return nil
}

func (s *ChatService) loadForParticipant(ctx context.Context, conversationID, userID string) (*domain.Conversation, error) {
	conv, err := s.conversations.FindByID(ctx, conversationID)
	if err != nil {
		return nil, domain.Storage("Failed to load conversation", err)
	}
	if conv == nil {
		return nil, domain.ConversationNotFound()
	}
	if !conv.HasParticipant(userID) {
		return nil, domain.NotParticipant()
	}
	return conv, nil
}
