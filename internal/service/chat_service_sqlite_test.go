package service_test

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hostchat/internal/domain"
	"hostchat/internal/logging"
	"hostchat/internal/moderation"
	"hostchat/internal/service"
	"hostchat/internal/store/sqlite"
)

type recordingNotifier struct {
	mu      sync.Mutex
	created []*domain.Message
	reads   [][]string
}

func (n *recordingNotifier) MessageCreated(_ context.Context, msg *domain.Message, _ *domain.Conversation) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.created = append(n.created, msg)
	return nil
}

func (n *recordingNotifier) MessagesRead(_ context.Context, _, _ string, ids []string, _ time.Time) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.reads = append(n.reads, ids)
	return nil
}

func newSQLiteService(t *testing.T) (*service.ChatService, *sqlite.ConversationRepo, *recordingNotifier) {
	t.Helper()
	db, err := sqlite.Open(filepath.Join(t.TempDir(), "chat.db"))
	require.NoError(t, err)
	require.NoError(t, sqlite.Migrate(db))
	t.Cleanup(func() { db.Close() })

	engine, err := moderation.NewEngine(logging.Discard())
	require.NoError(t, err)

	convs := sqlite.NewConversationRepo(db, nil)
	svc := service.NewChatService(convs, sqlite.NewMessageRepo(db, nil), engine, logging.Discard())
	n := &recordingNotifier{}
	svc.SetNotifier(n)
	return svc, convs, n
}

func TestChatService_SQLite_SendFlow(t *testing.T) {
	svc, convs, notifier := newSQLiteService(t)
	ctx := context.Background()

	conv, err := svc.GetOrCreateConversation(ctx, "guest-1", createInput())
	require.NoError(t, err)
	again, err := svc.GetOrCreateConversation(ctx, "host-1", createInput())
	require.NoError(t, err)
	assert.Equal(t, conv.ID, again.ID)

	const retries = 10
	var wg sync.WaitGroup
	ids := make([]string, retries)
	for i := 0; i < retries; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			msg, err := svc.SendMessage(ctx, service.SendMessageInput{
				ConversationID:  conv.ID,
				SenderID:        "guest-1",
				Content:         domain.MessageContent{Text: "Is the pool heated?"},
				Type:            domain.MessageText,
				ClientMessageID: "retry-token",
			})
			assert.NoError(t, err)
			if msg != nil {
				ids[i] = msg.ID
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	assert.Len(t, notifier.created, 1)

	stored, err := convs.FindByID(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.UnreadCount["host-1"])
	assert.Equal(t, 0, stored.UnreadCount["guest-1"])
	require.NotNil(t, stored.LastMessage)
	assert.Equal(t, "Is the pool heated?", stored.LastMessage.Content)

	_, err = svc.SendMessage(ctx, service.SendMessageInput{
		ConversationID:  conv.ID,
		SenderID:        "guest-1",
		Content:         domain.MessageContent{Text: "call me at 9876543210"},
		ClientMessageID: "blocked-1",
	})
	assert.ErrorIs(t, err, domain.ErrModerationBlocked)

	page, err := svc.GetMessages(ctx, conv.ID, "host-1", domain.PageOptions{})
	require.NoError(t, err)
	require.Len(t, page.Data, 1)
	assert.False(t, page.HasMore)

	require.NoError(t, svc.MarkAsRead(ctx, conv.ID, "host-1", []string{page.Data[0].ID}))
	require.NoError(t, svc.MarkAsRead(ctx, conv.ID, "host-1", []string{page.Data[0].ID}))

	page, err = svc.GetMessages(ctx, conv.ID, "guest-1", domain.PageOptions{})
	require.NoError(t, err)
	assert.Len(t, page.Data[0].ReadBy, 2)

	stored, err = convs.FindByID(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, stored.UnreadCount["host-1"])
	assert.Len(t, notifier.reads, 2)
}

func TestChatService_SQLite_Pagination(t *testing.T) {
	svc, _, _ := newSQLiteService(t)
	ctx := context.Background()

	conv, err := svc.GetOrCreateConversation(ctx, "host-1", createInput())
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		_, err := svc.SendMessage(ctx, service.SendMessageInput{
			ConversationID:  conv.ID,
			SenderID:        "host-1",
			Content:         domain.MessageContent{Text: fmt.Sprintf("message %d", i)},
			ClientMessageID: fmt.Sprintf("c-%d", i),
		})
		require.NoError(t, err)
	}

	seen := map[string]bool{}
	cursor := ""
	for pages := 0; pages < 10; pages++ {
		page, err := svc.GetMessages(ctx, conv.ID, "guest-1", domain.PageOptions{Limit: 2, Cursor: cursor})
		require.NoError(t, err)
		for _, m := range page.Data {
			assert.False(t, seen[m.ID], "duplicate message across pages")
			seen[m.ID] = true
		}
		if !page.HasMore {
			assert.Empty(t, page.NextCursor)
			break
		}
		cursor = page.NextCursor
	}
	assert.Len(t, seen, 5)

	_, err = svc.GetMessages(ctx, conv.ID, "guest-1", domain.PageOptions{Cursor: "missing"})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
