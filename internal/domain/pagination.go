package domain

import (
	"sort"
	"strconv"
	"strings"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 100
)

type Direction string

const (
	Before Direction = "before"
	After  Direction = "after"
)

// PageOptions selects a window of a conversation's history.
type PageOptions struct {
	Limit     int
	Cursor    string
	Direction Direction
}

// Normalize applies defaults and clamps Limit to MaxPageSize.
func (o PageOptions) Normalize() PageOptions {
	if o.Limit <= 0 {
		o.Limit = DefaultPageSize
	}
	if o.Limit > MaxPageSize {
		o.Limit = MaxPageSize
	}
	if o.Direction != After {
		o.Direction = Before
	}
	return o
}

// Page is one page of messages. NextCursor is empty when HasMore is false.
type Page struct {
	Data       []*Message `json:"data"`
	NextCursor string     `json:"nextCursor,omitempty"`
	HasMore    bool       `json:"hasMore"`
}

// ParticipantKey is the order-independent key of a participant set. Each id
// is length-prefixed so ids containing the separator cannot collide.
func ParticipantKey(userIDs []string) string {
	ids := append([]string(nil), userIDs...)
	sort.Strings(ids)
	var b strings.Builder
	for i, id := range ids {
		if i > 0 {
			b.WriteByte('|')
		}
		b.WriteString(strconv.Itoa(len(id)))
		b.WriteByte(':')
		b.WriteString(id)
	}
	return b.String()
}
