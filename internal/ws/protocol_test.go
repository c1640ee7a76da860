package ws

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hostchat/internal/domain"
)

func frame(event, data string) Frame {
	f := Frame{Event: event}
	if data != "" {
		f.Data = json.RawMessage(data)
	}
	return f
}

func TestDecodeCommand_Aliases(t *testing.T) {
	tests := []struct {
		event string
		want  string
		data  string
	}{
		{"send", EventSend, `{"conversationId":"c1","content":{"text":"hi"},"type":"text","clientMessageId":"x"}`},
		{"message:send", EventSend, `{"conversationId":"c1","content":{"text":"hi"},"clientMessageId":"x"}`},
		{"message:read", EventRead, `{"conversationId":"c1","messageIds":["m1"]}`},
		{"conversation:join", EventJoin, `{"conversationId":"c1"}`},
		{"conversation:leave", EventLeave, `{"conversationId":"c1"}`},
		{"typing:start", EventTypingStart, `{"conversationId":"c1"}`},
		{"typing:stop", EventTypingStop, `{"conversationId":"c1"}`},
	}
	for _, tt := range tests {
		t.Run(tt.event, func(t *testing.T) {
			event, cmd, err := DecodeCommand(frame(tt.event, tt.data))
			require.NoError(t, err)
			assert.Equal(t, tt.want, event)
			assert.NotNil(t, cmd)
		})
	}
}

func TestDecodeCommand_TypedSend(t *testing.T) {
	_, cmd, err := DecodeCommand(frame("send",
		`{"conversationId":"c1","content":{"text":"hello"},"type":"text","clientMessageId":"tok-1"}`))
	require.NoError(t, err)
	send, ok := cmd.(*SendCommand)
	require.True(t, ok)
	assert.Equal(t, "c1", send.ConversationID)
	assert.Equal(t, "hello", send.Content.Text)
	assert.Equal(t, domain.MessageText, send.Type)
	assert.Equal(t, "tok-1", send.ClientMessageID)
}

func TestDecodeCommand_Rejects(t *testing.T) {
	tests := []struct {
		name string
		f    Frame
	}{
		{"unknown event", frame("message:edit", `{"conversationId":"c1"}`)},
		{"missing data", frame("join", "")},
		{"malformed json", frame("join", `{"conversationId":`)},
		{"missing conversation", frame("join", `{}`)},
		{"missing client id", frame("send", `{"conversationId":"c1","content":{"text":"hi"}}`)},
		{"bad type", frame("send", `{"conversationId":"c1","content":{"text":"hi"},"type":"video","clientMessageId":"x"}`)},
		{"empty id in read", frame("read", `{"conversationId":"c1","messageIds":[""]}`)},
		{"wrong field type", frame("read", `{"conversationId":"c1","messageIds":"m1"}`)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, cmd, err := DecodeCommand(tt.f)
			assert.Nil(t, cmd)
			assert.ErrorIs(t, err, domain.ErrInvalidInput)
		})
	}
}

func TestErrorFrameData_RetryAfter(t *testing.T) {
	d := errorFrameData(domain.RateLimitedError(12))
	assert.Equal(t, domain.CodeRateLimited, d.Code)
	assert.Equal(t, 12, d.RetryAfter)
}
