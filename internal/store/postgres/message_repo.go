package postgres

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

func NewMessageRepo(db *sql.DB, enc *security.Encryptor) *MessageRepo {
	return &MessageRepo{db: db, enc: enc}
}

var _ domain.MessageRepository = (*MessageRepo)(nil)

const messageColumns = `id, conversation_id, sender_id, client_message_id, type, content_text, attachments,
	moderation_status, moderation_flags, moderation_confidence, moderation_original,
	status, created_at, updated_at, deleted_at`

func (r *MessageRepo) Create(ctx context.Context, m *domain.Message) (*domain.Message, bool, error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	m.CreatedAt = pgTime(m.CreatedAt)
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
	attachments := m.Content.Attachments
	if attachments == nil {
		attachments = []domain.Attachment{}
	}
	attJSON, err := json.Marshal(attachments)
	if err != nil {
		return nil, false, fmt.Errorf("marshal attachments: %w", err)
	}
	flags := m.Moderation.Flags
	if flags == nil {
		flags = []string{}
	}
	flagsJSON, err := json.Marshal(flags)
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
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (conversation_id, client_message_id) DO NOTHING
	`, m.ID, m.ConversationID, m.SenderID, m.ClientMessageID, string(m.Type), text, string(attJSON),
		string(m.Moderation.Status), string(flagsJSON), m.Moderation.Confidence, original,
		string(m.Status), m.CreatedAt, pgTime(m.UpdatedAt))
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
				INSERT INTO message_reads (message_id, user_id, read_at) VALUES ($1, $2, $3)
				ON CONFLICT (message_id, user_id) DO NOTHING
			`, m.ID, rr.UserID, pgTime(rr.ReadAt)); err != nil {
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
	return r.findOne(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = $1`, id)
}

func (r *MessageRepo) FindByClientMessageID(ctx context.Context, conversationID, clientMessageID string) (*domain.Message, error) {
	return r.findOne(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE conversation_id = $1 AND client_message_id = $2
	`, conversationID, clientMessageID)
}

func (r *MessageRepo) FindByConversation(ctx context.Context, conversationID string, opts domain.PageOptions) (*domain.Page, error) {
	opts = opts.Normalize()

	query := `SELECT ` + messageColumns + ` FROM messages WHERE conversation_id = $1 AND deleted_at IS NULL`
	args := []any{conversationID}

	if opts.Cursor != "" {
		var cursorAt time.Time
		var cursorID string
		err := r.db.QueryRowContext(ctx, `
			SELECT created_at, id FROM messages WHERE id = $1 AND conversation_id = $2
		`, opts.Cursor, conversationID).Scan(&cursorAt, &cursorID)
		if err == sql.ErrNoRows {
			return nil, domain.MessageNotFound()
		}
		if err != nil {
			return nil, fmt.Errorf("resolve cursor: %w", err)
		}
		if opts.Direction == domain.After {
			query += ` AND (created_at, id) > ($2, $3)`
		} else {
			query += ` AND (created_at, id) < ($2, $3)`
		}
		args = append(args, cursorAt, cursorID)
	}

	if opts.Direction == domain.After {
		query += ` ORDER BY created_at ASC, id ASC`
	} else {
		query += ` ORDER BY created_at DESC, id DESC`
	}
	query += fmt.Sprintf(` LIMIT $%d`, len(args)+1)
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

func (r *MessageRepo) UpdateReadBy(ctx context.Context, conversationID string, messageIDs []string, userID string, readAt time.Time) (int64, error) {
	if len(messageIDs) == 0 {
		return 0, nil
	}
	args := []any{userID, pgTime(readAt), conversationID}
	for _, id := range messageIDs {
		args = append(args, id)
	}
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO message_reads (message_id, user_id, read_at)
		SELECT id, $1::text, $2::timestamptz FROM messages
		WHERE conversation_id = $3 AND id IN (`+placeholders(4, len(messageIDs))+`)
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
		UPDATE messages SET status = $1, updated_at = NOW() WHERE id = $2
	`, string(status), messageID)
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
	if len(res) == 0 {
		return res, nil
	}

	byID := make(map[string]*domain.Message, len(res))
	ids := make([]any, 0, len(res))
	for _, m := range res {
		byID[m.ID] = m
		ids = append(ids, m.ID)
	}
	rrows, err := r.db.QueryContext(ctx, `
		SELECT message_id, user_id, read_at FROM message_reads
		WHERE message_id IN (`+placeholders(1, len(ids))+`)
		ORDER BY read_at, user_id
	`, ids...)
	if err != nil {
		return nil, fmt.Errorf("list read receipts: %w", err)
	}
	defer rrows.Close()
	for rrows.Next() {
		var msgID, userID string
		var readAt time.Time
		if err := rrows.Scan(&msgID, &userID, &readAt); err != nil {
			return nil, fmt.Errorf("scan read receipt: %w", err)
		}
		m := byID[msgID]
		m.ReadBy = append(m.ReadBy, domain.ReadReceipt{UserID: userID, ReadAt: readAt.UTC()})
	}
	return res, rrows.Err()
}

func (r *MessageRepo) scanMessage(s interface{ Scan(...any) error }) (*domain.Message, error) {
	var (
		m                        domain.Message
		typ, modStatus, status   string
		text, attachments, flags string
		original                 string
		deleted                  sql.NullTime
	)
	if err := s.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.ClientMessageID, &typ, &text, &attachments,
		&modStatus, &flags, &m.Moderation.Confidence, &original,
		&status, &m.CreatedAt, &m.UpdatedAt, &deleted); err != nil {
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
	m.CreatedAt = m.CreatedAt.UTC()
	m.UpdatedAt = m.UpdatedAt.UTC()
	if deleted.Valid {
		t := deleted.Time.UTC()
		m.DeletedAt = &t
	}
	m.ReadBy = []domain.ReadReceipt{}
	return &m, nil
}
