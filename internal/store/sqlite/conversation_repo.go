package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"hostchat/internal/domain"
	"hostchat/internal/security"
)

type ConversationRepo struct {
	db  *sql.DB
	enc *security.Encryptor
}

// NewConversationRepo returns a conversation store. enc may be nil.
func NewConversationRepo(db *sql.DB, enc *security.Encryptor) *ConversationRepo {
	return &ConversationRepo{db: db, enc: enc}
}

var _ domain.ConversationRepository = (*ConversationRepo)(nil)

const conversationColumns = `id, property_id, booking_id, status, last_message_content,
	last_message_sender_id, last_message_sent_at, created_at, updated_at`

func (r *ConversationRepo) Create(ctx context.Context, c *domain.Conversation) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = c.CreatedAt
	if c.Status == "" {
		c.Status = domain.ConversationActive
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO conversations (id, property_id, booking_id, participant_key, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (property_id, participant_key) DO NOTHING
	`, c.ID, c.PropertyID, nullString(c.BookingID), domain.ParticipantKey(c.ParticipantIDs()),
		string(c.Status), c.CreatedAt.UnixNano(), c.UpdatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("insert conversation: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("rows affected: %w", err)
	} else if n == 0 {
		return domain.ErrConflict
	}

	c.UnreadCount = make(map[string]int, len(c.Participants))
	for i := range c.Participants {
		p := &c.Participants[i]
		if p.JoinedAt.IsZero() {
			p.JoinedAt = now
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO conversation_participants (conversation_id, user_id, role, first_name, last_name, position, joined_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, c.ID, p.UserID, string(p.Role), nullString(p.FirstName), nullString(p.LastName), i, p.JoinedAt.UnixNano()); err != nil {
			return fmt.Errorf("insert participant: %w", err)
		}
		c.UnreadCount[p.UserID] = 0
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (r *ConversationRepo) FindByID(ctx context.Context, id string) (*domain.Conversation, error) {
	return r.findOne(ctx, `SELECT `+conversationColumns+` FROM conversations WHERE id = ?`, id)
}

func (r *ConversationRepo) FindByParticipantsAndProperty(ctx context.Context, userIDs []string, propertyID string) (*domain.Conversation, error) {
	return r.findOne(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations
		WHERE property_id = ? AND participant_key = ?
	`, propertyID, domain.ParticipantKey(userIDs))
}

func (r *ConversationRepo) FindByUserID(ctx context.Context, userID string, limit int) ([]*domain.Conversation, error) {
	if limit <= 0 {
		limit = domain.DefaultPageSize
	}
	return r.findMany(ctx, `
		SELECT c.id, c.property_id, c.booking_id, c.status, c.last_message_content,
			c.last_message_sender_id, c.last_message_sent_at, c.created_at, c.updated_at
		FROM conversations c
		JOIN conversation_participants p ON p.conversation_id = c.id
		WHERE p.user_id = ?
		ORDER BY c.updated_at DESC, c.id DESC
		LIMIT ?
	`, userID, limit)
}

func (r *ConversationRepo) FindByPropertyID(ctx context.Context, propertyID string) ([]*domain.Conversation, error) {
	return r.findMany(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations
		WHERE property_id = ?
		ORDER BY updated_at DESC, id DESC
	`, propertyID)
}

func (r *ConversationRepo) UpdateLastMessage(ctx context.Context, conversationID string, lm domain.LastMessage) error {
	content, err := r.enc.Encrypt(lm.Content)
	if err != nil {
		return fmt.Errorf("encrypt last message: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		UPDATE conversations
		SET last_message_content = ?, last_message_sender_id = ?, last_message_sent_at = ?, updated_at = ?
		WHERE id = ?
	`, content, lm.SenderID, lm.SentAt.UnixNano(), time.Now().UTC().UnixNano(), conversationID)
	if err != nil {
		return fmt.Errorf("update last message: %w", err)
	}
	return nil
}

func (r *ConversationRepo) IncrementUnreadCount(ctx context.Context, conversationID, userID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE conversation_participants SET unread_count = unread_count + 1
		WHERE conversation_id = ? AND user_id = ?
	`, conversationID, userID)
	if err != nil {
		return fmt.Errorf("increment unread count: %w", err)
	}
	return nil
}

func (r *ConversationRepo) ResetUnreadCount(ctx context.Context, conversationID, userID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE conversation_participants SET unread_count = 0
		WHERE conversation_id = ? AND user_id = ?
	`, conversationID, userID)
	if err != nil {
		return fmt.Errorf("reset unread count: %w", err)
	}
	return nil
}

func (r *ConversationRepo) IsParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx, `
		SELECT 1 FROM conversation_participants WHERE conversation_id = ? AND user_id = ?
	`, conversationID, userID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check participant: %w", err)
	}
	return true, nil
}

// AddParticipant is a no-op for an existing participant. A conversation never
// holds more than two participants.
func (r *ConversationRepo) AddParticipant(ctx context.Context, conversationID string, p domain.Participant) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var propertyID string
	err = tx.QueryRowContext(ctx, `SELECT property_id FROM conversations WHERE id = ?`, conversationID).Scan(&propertyID)
	if err == sql.ErrNoRows {
		return domain.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get conversation: %w", err)
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT user_id FROM conversation_participants WHERE conversation_id = ? ORDER BY position
	`, conversationID)
	if err != nil {
		return fmt.Errorf("list participants: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return fmt.Errorf("scan participant: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("list participants: %w", err)
	}

	for _, id := range ids {
		if id == p.UserID {
			return nil
		}
	}
	if len(ids) >= 2 {
		return domain.Forbidden("Conversation already has two participants")
	}

	key := domain.ParticipantKey(append(ids, p.UserID))
	var clash int
	err = tx.QueryRowContext(ctx, `
		SELECT 1 FROM conversations WHERE property_id = ? AND participant_key = ? AND id <> ?
	`, propertyID, key, conversationID).Scan(&clash)
	if err == nil {
		return domain.ErrConflict
	}
	if err != sql.ErrNoRows {
		return fmt.Errorf("check participant pair: %w", err)
	}

	if p.JoinedAt.IsZero() {
		p.JoinedAt = time.Now().UTC()
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO conversation_participants (conversation_id, user_id, role, first_name, last_name, position, joined_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, conversationID, p.UserID, string(p.Role), nullString(p.FirstName), nullString(p.LastName), len(ids), p.JoinedAt.UnixNano()); err != nil {
		return fmt.Errorf("insert participant: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE conversations SET participant_key = ?, updated_at = ? WHERE id = ?
	`, key, time.Now().UTC().UnixNano(), conversationID); err != nil {
		return fmt.Errorf("update participant key: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (r *ConversationRepo) findOne(ctx context.Context, query string, args ...any) (*domain.Conversation, error) {
	convs, err := r.findMany(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	if len(convs) == 0 {
		return nil, nil
	}
	return convs[0], nil
}

// findMany reads conversation rows, then their participants in one query.
// Rows are drained before the second query since the pool has one connection.
func (r *ConversationRepo) findMany(ctx context.Context, query string, args ...any) ([]*domain.Conversation, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	var res []*domain.Conversation
	byID := make(map[string]*domain.Conversation)
	for rows.Next() {
		c, err := r.scanConversation(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		res = append(res, c)
		byID[c.ID] = c
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	if len(res) == 0 {
		return res, nil
	}

	ids := make([]any, 0, len(res))
	for _, c := range res {
		ids = append(ids, c.ID)
	}
	prow, err := r.db.QueryContext(ctx, `
		SELECT conversation_id, user_id, role, first_name, last_name, unread_count, joined_at
		FROM conversation_participants
		WHERE conversation_id IN (`+placeholders(len(ids))+`)
		ORDER BY conversation_id, position
	`, ids...)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	defer prow.Close()
	for prow.Next() {
		var (
			convID, userID, role string
			first, last          sql.NullString
			unread               int
			joined               int64
		)
		if err := prow.Scan(&convID, &userID, &role, &first, &last, &unread, &joined); err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		c := byID[convID]
		c.Participants = append(c.Participants, domain.Participant{
			UserID:    userID,
			Role:      domain.ParticipantRole(role),
			FirstName: first.String,
			LastName:  last.String,
			JoinedAt:  fromNanos(joined),
		})
		c.UnreadCount[userID] = unread
	}
	if err := prow.Err(); err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	return res, nil
}

func (r *ConversationRepo) scanConversation(s interface{ Scan(...any) error }) (*domain.Conversation, error) {
	var (
		c                domain.Conversation
		status           string
		booking          sql.NullString
		lmContent, lmSnd sql.NullString
		lmSent           sql.NullInt64
		created, updated int64
	)
	if err := s.Scan(&c.ID, &c.PropertyID, &booking, &status, &lmContent, &lmSnd, &lmSent, &created, &updated); err != nil {
		return nil, fmt.Errorf("scan conversation: %w", err)
	}
	c.BookingID = booking.String
	c.Status = domain.ConversationStatus(status)
	c.CreatedAt = fromNanos(created)
	c.UpdatedAt = fromNanos(updated)
	c.UnreadCount = make(map[string]int)
	if lmSent.Valid {
		content, err := r.enc.Decrypt(lmContent.String)
		if err != nil {
			return nil, fmt.Errorf("decrypt last message: %w", err)
		}
		c.LastMessage = &domain.LastMessage{
			Content:  content,
			SenderID: lmSnd.String,
			SentAt:   fromNanos(lmSent.Int64),
		}
	}
	return &c, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
