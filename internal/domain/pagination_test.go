package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParticipantKey(t *testing.T) {
	assert.Equal(t, ParticipantKey([]string{"host-1", "guest-1"}), ParticipantKey([]string{"guest-1", "host-1"}))
	assert.Equal(t, "7:guest-1|6:host-1", ParticipantKey([]string{"host-1", "guest-1"}))

	// separator inside an id must not alias another pair
	assert.NotEqual(t, ParticipantKey([]string{"a|b", "c"}), ParticipantKey([]string{"a", "b|c"}))
	assert.NotEqual(t, ParticipantKey([]string{"a", "b"}), ParticipantKey([]string{"a|b"}))
}

func TestPageOptions_Normalize(t *testing.T) {
	tests := []struct {
		name string
		in   PageOptions
		want PageOptions
	}{
		{"defaults", PageOptions{}, PageOptions{Limit: DefaultPageSize, Direction: Before}},
		{"clamps limit", PageOptions{Limit: 500, Direction: After}, PageOptions{Limit: MaxPageSize, Direction: After}},
		{"unknown direction", PageOptions{Limit: 10, Direction: "sideways"}, PageOptions{Limit: 10, Direction: Before}},
		{"keeps cursor", PageOptions{Limit: 2, Cursor: "m1"}, PageOptions{Limit: 2, Cursor: "m1", Direction: Before}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.in.Normalize())
		})
	}
}
