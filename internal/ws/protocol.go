package ws

import (
	"encoding/json"

	"hostchat/internal/domain"
	"hostchat/internal/service"
)

// Inbound event names. Aliases map onto these.
const (
	EventSend        = "send"
	EventRead        = "read"
	EventJoin        = "join"
	EventLeave       = "leave"
	EventTypingStart = "typing:start"
	EventTypingStop  = "typing:stop"
)

// Outbound event names.
const (
	EventReady        = "ready"
	EventMessageNew   = "message:new"
	EventMessageRead  = "message:read"
	EventTypingUpdate = "typing:update"
	EventError        = "error"
	EventAck          = "ack"
)

var eventAliases = map[string]string{
	"message:send":       EventSend,
	"message:read":       EventRead,
	"conversation:join":  EventJoin,
	"conversation:leave": EventLeave,
}

// Frame is the JSON envelope for both directions.
type Frame struct {
	Event string          `json:"event"`
	Ack   json.RawMessage `json:"ack,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type SendCommand struct {
	ConversationID  string                `json:"conversationId" validate:"required"`
	Content         domain.MessageContent `json:"content"`
	Type            domain.MessageType    `json:"type" validate:"omitempty,oneof=text image file system"`
	ClientMessageID string                `json:"clientMessageId" validate:"required,max=128"`
}

type ReadCommand struct {
	ConversationID string   `json:"conversationId" validate:"required"`
	MessageIDs     []string `json:"messageIds" validate:"required,max=500,dive,required"`
}

// RoomCommand is the payload of join, leave and the typing events.
type RoomCommand struct {
	ConversationID string `json:"conversationId" validate:"required"`
}

// canonicalEvent resolves aliases; unknown names are returned unchanged.
func canonicalEvent(name string) string {
	if c, ok := eventAliases[name]; ok {
		return c
	}
	return name
}

// DecodeCommand validates the frame payload and returns the typed command for
// its event: *SendCommand, *ReadCommand or *RoomCommand.
func DecodeCommand(f Frame) (string, any, error) {
	event := canonicalEvent(f.Event)
	var cmd any
	switch event {
	case EventSend:
		cmd = &SendCommand{}
	case EventRead:
		cmd = &ReadCommand{}
	case EventJoin, EventLeave, EventTypingStart, EventTypingStop:
		cmd = &RoomCommand{}
	default:
		return event, nil, domain.Validation("Unknown event: " + f.Event)
	}
	if len(f.Data) == 0 {
		return event, nil, domain.Validation("Missing event data")
	}
	if err := json.Unmarshal(f.Data, cmd); err != nil {
		return event, nil, domain.Validation("Malformed event data")
	}
	if err := service.Validate(cmd); err != nil {
		return event, nil, err
	}
	return event, cmd, nil
}

type ackData struct {
	Success   bool   `json:"success"`
	MessageID string `json:"messageId,omitempty"`
	Error     string `json:"error,omitempty"`
}

type errorData struct {
	Code       domain.Code `json:"code"`
	Message    string      `json:"message"`
	RetryAfter int         `json:"retryAfter,omitempty"`
}

type readyData struct {
	ConnectionID    string `json:"connectionId"`
	UserID          string `json:"userId"`
	TypingTimeoutMs int64  `json:"typingTimeoutMs"`
}

type messageNewData struct {
	Message        *domain.Message `json:"message"`
	ConversationID string          `json:"conversationId"`
}

type messageReadData struct {
	ConversationID string   `json:"conversationId"`
	MessageIDs     []string `json:"messageIds"`
	UserID         string   `json:"userId"`
	Timestamp      string   `json:"timestamp"`
}

type typingData struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	IsTyping       bool   `json:"isTyping"`
}

// encodeFrame marshals an outbound frame. data may already be json.RawMessage.
func encodeFrame(event string, ack json.RawMessage, data any) ([]byte, error) {
	raw, ok := data.(json.RawMessage)
	if !ok {
		b, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		raw = b
	}
	return json.Marshal(Frame{Event: event, Ack: ack, Data: raw})
}

func errorFrameData(err error) errorData {
	de := domain.AsError(err)
	d := errorData{Code: de.Code, Message: de.Message}
	if v, ok := de.Details["retryAfter"].(int); ok {
		d.RetryAfter = v
	}
	return d
}
