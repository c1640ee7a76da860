package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"hostchat/internal/domain"
	"hostchat/internal/security"
)

type MessageRepo struct {
	db  *sql.DB
	enc *security.Encryptor
}

// NewMessageRepo returns a message store. enc may be nil.
func NewMessageRepo(db *sql.DB, enc *security.Encryptor) *MessageRepo {
	return &MessageRepo{db: db, enc: enc}
}

var _ domain.MessageRepository = (*MessageRepo)(nil)

const messageColumns = `id, conversation_id, sender_id, client_message_id, type, content_text, attachments,
	moderation_status, moderation_flags, moderation_confidence, moderation_original,
	status, created_at, updated_at, deleted_at`

// Create inserts m unless (conversation_id, client_message_id) already exists,
// then reads back whichever row holds the pair.
func (r *MessageRepo) Create(ctx context.Context, m *domain.Message) (*domain.Message, bool, error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = m.CreatedAt
	}

	text, err := r.enc.Encrypt(m.Content.Text)
	if err != nil {
		return nil, false, fmt.Errorf("encrypt content: %w", err)
	}
	original, err := r.enc.Encrypt(m.Moderation.OriginalContent)
	if err != nil {
		return nil, false, fmt.Errorf("encrypt original content: %w", err)
	}
	attachments, err := json.Marshal(nonNil(m.Content.Attachments))
	if err != nil {
		return nil, false, fmt.Errorf("marshal attachments: %w", err)
	}
	flags, err := json.Marshal(nonNil(m.Moderation.Flags))
	if err != nil {
		return nil, false, fmt.Errorf("marshal flags: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, sender_id, client_message_id, type, content_text, attachments,
			moderation_status, moderation_flags, moderation_confidence, moderation_original,
			status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (conversation_id, client_message_id) DO NOTHING
	`, m.ID, m.ConversationID, m.SenderID, m.ClientMessageID, string(m.Type), text, string(attachments),
		string(m.Moderation.Status), string(flags), m.Moderation.Confidence, original,
		string(m.Status), m.CreatedAt.UnixNano(), m.UpdatedAt.UnixNano())
	if err != nil {
		return nil, false, fmt.Errorf("insert message: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("rows affected: %w", err)
	}
	created := n == 1

	if created {
		for _, rr := range m.ReadBy {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO message_reads (message_id, user_id, read_at) VALUES (?, ?, ?)
				ON CONFLICT (message_id, user_id) DO NOTHING
			`, m.ID, rr.UserID, rr.ReadAt.UnixNano()); err != nil {
				return nil, false, fmt.Errorf("insert read receipt: %w", err)
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("commit: %w", err)
	}

	stored, err := r.FindByClientMessageID(ctx, m.ConversationID, m.ClientMessageID)
	if err != nil {
		return nil, false, err
	}
	if stored == nil {
		return nil, false, fmt.Errorf("message %s vanished after insert", m.ClientMessageID)
	}
	return stored, created, nil
}

func (r *MessageRepo) FindByID(ctx context.Context, id string) (*domain.Message, error) {
	return r.findOne(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = ?`, id)
}

func (r *MessageRepo) FindByClientMessageID(ctx context.Context, conversationID, clientMessageID string) (*domain.Message, error) {
	return r.findOne(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE conversation_id = ? AND client_message_id = ?
	`, conversationID, clientMessageID)
}

// FindByConversation pages through history ordered by (created_at, id).
// The cursor is the id of a message in the same conversation.
func (r *MessageRepo) FindByConversation(ctx context.Context, conversationID string, opts domain.PageOptions) (*domain.Page, error) {
	opts = opts.Normalize()

	query := `SELECT ` + messageColumns + ` FROM messages WHERE conversation_id = ? AND deleted_at IS NULL`
	args := []any{conversationID}

	if opts.Cursor != "" {
		var cursorAt int64
		var cursorID string
		err := r.db.QueryRowContext(ctx, `
			SELECT created_at, id FROM messages WHERE id = ? AND conversation_id = ?
		`, opts.Cursor, conversationID).Scan(&cursorAt, &cursorID)
		if err == sql.ErrNoRows {
			return nil, domain.MessageNotFound()
		}
		if err != nil {
			return nil, fmt.Errorf("resolve cursor: %w", err)
		}
		if opts.Direction == domain.After {
			query += ` AND (created_at > ? OR (created_at = ? AND id > ?))`
		} else {
			query += ` AND (created_at < ? OR (created_at = ? AND id < ?))`
		}
		args = append(args, cursorAt, cursorAt, cursorID)
	}

	if opts.Direction == domain.After {
		query += ` ORDER BY created_at ASC, id ASC`
	} else {
		query += ` ORDER BY created_at DESC, id DESC`
	}
	query += ` LIMIT ?`
	args = append(args, opts.Limit+1)

	msgs, err := r.findMany(ctx, query, args...)
	if err != nil {
		return nil, err
	}

	page := &domain.Page{Data: msgs}
	if len(msgs) > opts.Limit {
		page.Data = msgs[:opts.Limit]
		page.HasMore = true
		page.NextCursor = page.Data[len(page.Data)-1].ID
	}
	if page.Data == nil {
		page.Data = []*domain.Message{}
	}
	return page, nil
}

// UpdateReadBy adds a receipt for userID on every listed message of the
// conversation that does not have one yet, and returns how many were added.
func (r *MessageRepo) UpdateReadBy(ctx context.Context, conversationID string, messageIDs []string, userID string, readAt time.Time) (int64, error) {
	if len(messageIDs) == 0 {
		return 0, nil
	}
	args := []any{userID, readAt.UnixNano(), conversationID}
	for _, id := range messageIDs {
		args = append(args, id)
	}
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO message_reads (message_id, user_id, read_at)
		SELECT id, ?, ? FROM messages
		WHERE conversation_id = ? AND id IN (`+placeholders(len(messageIDs))+`)
		ON CONFLICT (message_id, user_id) DO NOTHING
	`, args...)
	if err != nil {
		return 0, fmt.Errorf("insert read receipts: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

func (r *MessageRepo) UpdateStatus(ctx context.Context, messageID string, status domain.MessageStatus) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE messages SET status = ?, updated_at = ? WHERE id = ?
	`, string(status), time.Now().UTC().UnixNano(), messageID)
	if err != nil {
		return fmt.Errorf("update message status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *MessageRepo) findOne(ctx context.Context, query string, args ...any) (*domain.Message, error) {
	msgs, err := r.findMany(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, nil
	}
	return msgs[0], nil
}

func (r *MessageRepo) findMany(ctx context.Context, query string, args ...any) ([]*domain.Message, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	var res []*domain.Message
	for rows.Next() {
		m, err := r.scanMessage(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		res = append(res, m)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	if err := r.loadReceipts(ctx, res); err != nil {
		return nil, err
	}
	return res, nil
}

func (r *MessageRepo) loadReceipts(ctx context.Context, msgs []*domain.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	byID := make(map[string]*domain.Message, len(msgs))
	ids := make([]any, 0, len(msgs))
	for _, m := range msgs {
		byID[m.ID] = m
		ids = append(ids, m.ID)
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT message_id, user_id, read_at FROM message_reads
		WHERE message_id IN (`+placeholders(len(ids))+`)
		ORDER BY read_at, user_id
	`, ids...)
	if err != nil {
		return fmt.Errorf("list read receipts: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var msgID, userID string
		var readAt int64
		if err := rows.Scan(&msgID, &userID, &readAt); err != nil {
			return fmt.Errorf("scan read receipt: %w", err)
		}
		m := byID[msgID]
		m.ReadBy = append(m.ReadBy, domain.ReadReceipt{UserID: userID, ReadAt: fromNanos(readAt)})
	}
	return rows.Err()
}

func (r *MessageRepo) scanMessage(s interface{ Scan(...any) error }) (*domain.Message, error) {
	var (
		m                        domain.Message
		typ, modStatus, status   string
		text, attachments, flags string
		original                 string
		created, updated         int64
		deleted                  sql.NullInt64
	)
	if err := s.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.ClientMessageID, &typ, &text, &attachments,
		&modStatus, &flags, &m.Moderation.Confidence, &original,
		&status, &created, &updated, &deleted); err != nil {
		return nil, fmt.Errorf("scan message: %w", err)
	}
	var err error
	if m.Content.Text, err = r.enc.Decrypt(text); err != nil {
		return nil, fmt.Errorf("decrypt content: %w", err)
	}
	if m.Moderation.OriginalContent, err = r.enc.Decrypt(original); err != nil {
		return nil, fmt.Errorf("decrypt original content: %w", err)
	}
	if err := json.Unmarshal([]byte(attachments), &m.Content.Attachments); err != nil {
		return nil, fmt.Errorf("unmarshal attachments: %w", err)
	}
	if len(m.Content.Attachments) == 0 {
		m.Content.Attachments = nil
	}
	if err := json.Unmarshal([]byte(flags), &m.Moderation.Flags); err != nil {
		return nil, fmt.Errorf("unmarshal flags: %w", err)
	}
	if m.Moderation.Flags == nil {
		m.Moderation.Flags = []string{}
	}
	m.Type = domain.MessageType(typ)
	m.Moderation.Status = domain.ModerationStatus(modStatus)
	m.Status = domain.MessageStatus(status)
	m.CreatedAt = fromNanos(created)
	m.UpdatedAt = fromNanos(updated)
	m.DeletedAt = nullNanos(deleted)
	m.ReadBy = []domain.ReadReceipt{}
	return &m, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
