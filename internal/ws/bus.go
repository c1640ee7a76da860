package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"hostchat/internal/domain"
	"hostchat/internal/relay"
	"hostchat/internal/service"
)

// ConversationReader gates room joins on conversation participation.
type ConversationReader interface {
	GetConversation(ctx context.Context, conversationID, userID string) (*domain.Conversation, error)
}

// envelope is what travels over the relay between instances.
type envelope struct {
	Origin string          `json:"origin"`
	Except string          `json:"except,omitempty"`
	Event  string          `json:"event"`
	Data   json.RawMessage `json:"data"`
}

// Bus fans room events out to local members and, through the relay, to
// members connected to other instances.
type Bus struct {
	hub        *Hub
	relay      relay.Relay
	convs      ConversationReader
	instanceID string
	log        *slog.Logger

	subsMu sync.Mutex
	subs   map[string]*roomSub
}

// roomSub serialises relay subscription changes for one room.
type roomSub struct {
	mu         sync.Mutex
	refs       int
	subscribed bool
}

func NewBus(hub *Hub, r relay.Relay, convs ConversationReader, instanceID string, log *slog.Logger) *Bus {
	return &Bus{
		hub:        hub,
		relay:      r,
		convs:      convs,
		instanceID: instanceID,
		log:        log.With("component", "bus", "instance_id", instanceID),
		subs:       make(map[string]*roomSub),
	}
}

var _ service.Notifier = (*Bus)(nil)

// Run consumes relay traffic until ctx is done.
func (b *Bus) Run(ctx context.Context) error {
	return b.relay.Run(ctx, b.handleRelay)
}

// Join adds c to the conversation room after checking participation.
func (b *Bus) Join(ctx context.Context, c *Client, conversationID string) error {
	if _, err := b.convs.GetConversation(ctx, conversationID, c.identity.ID); err != nil {
		return err
	}
	room := RoomName(conversationID)
	b.hub.Join(c, room)
	b.syncSubscription(ctx, room)
	b.log.Debug("joined room", "room", room, "conn_id", c.id)
	return nil
}

func (b *Bus) Leave(ctx context.Context, c *Client, conversationID string) {
	room := RoomName(conversationID)
	if b.hub.Leave(c, room) {
		b.syncSubscription(ctx, room)
	}
}

// Disconnect removes c from every room it joined.
func (b *Bus) Disconnect(ctx context.Context, c *Client) {
	for _, room := range b.hub.Unregister(c) {
		b.syncSubscription(ctx, room)
	}
}

// syncSubscription brings the relay subscription for room in line with local
// membership. Membership is read under the room lock, so a join racing the
// last leave always ends subscribed, and a failed subscribe is retried by the
// next join.
func (b *Bus) syncSubscription(ctx context.Context, room string) {
	b.subsMu.Lock()
	s, ok := b.subs[room]
	if !ok {
		s = &roomSub{}
		b.subs[room] = s
	}
	s.refs++
	b.subsMu.Unlock()

	s.mu.Lock()
	occupied := b.hub.Occupied(room)
	switch {
	case occupied && !s.subscribed:
		if err := b.relay.Subscribe(ctx, room); err != nil {
			b.log.Warn("relay subscribe failed", "room", room, "error", err)
		} else {
			s.subscribed = true
		}
	case !occupied && s.subscribed:
		if err := b.relay.Unsubscribe(ctx, room); err != nil {
			b.log.Warn("relay unsubscribe failed", "room", room, "error", err)
		}
		s.subscribed = false
	}
	s.mu.Unlock()

	b.subsMu.Lock()
	s.refs--
	if s.refs == 0 && !s.subscribed {
		delete(b.subs, room)
	}
	b.subsMu.Unlock()
}

// Emit delivers event to every member of room except the connection exceptID,
// locally first and then to other instances.
func (b *Bus) Emit(ctx context.Context, room, event string, data any, exceptID string) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", event, err)
	}
	frame, err := encodeFrame(event, nil, json.RawMessage(raw))
	if err != nil {
		return fmt.Errorf("encode %s: %w", event, err)
	}
	b.deliver(room, frame, exceptID)

	payload, err := json.Marshal(envelope{Origin: b.instanceID, Except: exceptID, Event: event, Data: raw})
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	if err := b.relay.Publish(ctx, room, payload); err != nil {
		return fmt.Errorf("relay %s: %w", event, err)
	}
	return nil
}

func (b *Bus) deliver(room string, frame []byte, exceptID string) {
	for _, c := range b.hub.Members(room) {
		if c.id == exceptID {
			continue
		}
		c.Enqueue(frame)
	}
}

func (b *Bus) handleRelay(room string, payload []byte) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		b.log.Warn("dropping malformed relay payload", "room", room, "error", err)
		return
	}
	if env.Origin == b.instanceID {
		return
	}
	frame, err := encodeFrame(env.Event, nil, env.Data)
	if err != nil {
		b.log.Warn("dropping relay event", "room", room, "event", env.Event, "error", err)
		return
	}
	b.deliver(room, frame, env.Except)
}

// MessageCreated broadcasts message:new to the whole room, sender included.
func (b *Bus) MessageCreated(ctx context.Context, msg *domain.Message, conv *domain.Conversation) error {
	return b.Emit(ctx, RoomName(conv.ID), EventMessageNew, messageNewData{Message: msg, ConversationID: conv.ID}, "")
}

func (b *Bus) MessagesRead(ctx context.Context, conversationID, userID string, messageIDs []string, at time.Time) error {
	if messageIDs == nil {
		messageIDs = []string{}
	}
	return b.Emit(ctx, RoomName(conversationID), EventMessageRead, messageReadData{
		ConversationID: conversationID,
		MessageIDs:     messageIDs,
		UserID:         userID,
		Timestamp:      at.UTC().Format(time.RFC3339Nano),
	}, "")
}

// Typing relays a typing state change to the other members of the room.
// Nothing is stored and repeated states are not collapsed.
func (b *Bus) Typing(ctx context.Context, c *Client, conversationID string, isTyping bool) error {
	room := RoomName(conversationID)
	if !b.hub.InRoom(c, room) {
		return domain.Forbidden("Join the conversation before sending typing events")
	}
	return b.Emit(ctx, room, EventTypingUpdate, typingData{
		ConversationID: conversationID,
		UserID:         c.identity.ID,
		IsTyping:       isTyping,
	}, c.id)
}
