package postgres

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

func NewConversationRepo(db *sql.DB, enc *security.Encryptor) *ConversationRepo {
	return &ConversationRepo{db: db, enc: enc}
}

var _ domain.ConversationRepository = (*ConversationRepo)(nil)

const conversationColumns = `c.id, c.property_id, c.booking_id, c.status, c.last_message_content,
	c.last_message_sender_id, c.last_message_sent_at, c.created_at, c.updated_at`

func (r *ConversationRepo) Create(ctx context.Context, c *domain.Conversation) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	now := pgTime(time.Now())
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.CreatedAt = pgTime(c.CreatedAt)
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
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (property_id, participant_key) DO NOTHING
	`, c.ID, c.PropertyID, nullString(c.BookingID), domain.ParticipantKey(c.ParticipantIDs()),
		string(c.Status), c.CreatedAt, c.UpdatedAt)
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
		p.JoinedAt = pgTime(p.JoinedAt)
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO conversation_participants (conversation_id, user_id, role, first_name, last_name, position, joined_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, c.ID, p.UserID, string(p.Role), nullString(p.FirstName), nullString(p.LastName), i, p.JoinedAt); err != nil {
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
	return r.findOne(ctx, `SELECT `+conversationColumns+` FROM conversations c WHERE c.id = $1`, id)
}

func (r *ConversationRepo) FindByParticipantsAndProperty(ctx context.Context, userIDs []string, propertyID string) (*domain.Conversation, error) {
	return r.findOne(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations c
		WHERE c.property_id = $1 AND c.participant_key = $2
	`, propertyID, domain.ParticipantKey(userIDs))
}

func (r *ConversationRepo) FindByUserID(ctx context.Context, userID string, limit int) ([]*domain.Conversation, error) {
	if limit <= 0 {
		limit = domain.DefaultPageSize
	}
	return r.findMany(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations c
		JOIN conversation_participants p ON p.conversation_id = c.id
		WHERE p.user_id = $1
		ORDER BY c.updated_at DESC, c.id DESC
		LIMIT $2
	`, userID, limit)
}

func (r *ConversationRepo) FindByPropertyID(ctx context.Context, propertyID string) ([]*domain.Conversation, error) {
	return r.findMany(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations c
		WHERE c.property_id = $1
		ORDER BY c.updated_at DESC, c.id DESC
	`, propertyID)
}

func (r *ConversationRepo) UpdateLastMessage(ctx context.Context, conversationID string, lm domain.LastMessage) error {
	content, err := r.enc.Encrypt(lm.Content)
	if err != nil {
		return fmt.Errorf("encrypt last message: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		UPDATE conversations
		SET last_message_content = $1, last_message_sender_id = $2, last_message_sent_at = $3, updated_at = NOW()
		WHERE id = $4
	`, content, lm.SenderID, pgTime(lm.SentAt), conversationID)
	if err != nil {
		return fmt.Errorf("update last message: %w", err)
	}
	return nil
}

func (r *ConversationRepo) IncrementUnreadCount(ctx context.Context, conversationID, userID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE conversation_participants SET unread_count = unread_count + 1
		WHERE conversation_id = $1 AND user_id = $2
	`, conversationID, userID)
	if err != nil {
		return fmt.Errorf("increment unread count: %w", err)
	}
	return nil
}

func (r *ConversationRepo) ResetUnreadCount(ctx context.Context, conversationID, userID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE conversation_participants SET unread_count = 0
		WHERE conversation_id = $1 AND user_id = $2
	`, conversationID, userID)
	if err != nil {
		return fmt.Errorf("reset unread count: %w", err)
	}
	return nil
}

func (r *ConversationRepo) IsParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM conversation_participants WHERE conversation_id = $1 AND user_id = $2
		)
	`, conversationID, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check participant: %w", err)
	}
	return exists, nil
}

func (r *ConversationRepo) AddParticipant(ctx context.Context, conversationID string, p domain.Participant) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var propertyID string
	err = tx.QueryRowContext(ctx, `SELECT property_id FROM conversations WHERE id = $1 FOR UPDATE`, conversationID).Scan(&propertyID)
	if err == sql.ErrNoRows {
		return domain.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("lock conversation: %w", err)
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT user_id FROM conversation_participants WHERE conversation_id = $1 ORDER BY position
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

	if p.JoinedAt.IsZero() {
		p.JoinedAt = time.Now()
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO conversation_participants (conversation_id, user_id, role, first_name, last_name, position, joined_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, conversationID, p.UserID, string(p.Role), nullString(p.FirstName), nullString(p.LastName), len(ids), pgTime(p.JoinedAt)); err != nil {
		return fmt.Errorf("insert participant: %w", err)
	}

	key := domain.ParticipantKey(append(ids, p.UserID))
	res, err := tx.ExecContext(ctx, `
		UPDATE conversations SET participant_key = $1, updated_at = NOW()
		WHERE id = $2 AND NOT EXISTS (
			SELECT 1 FROM conversations WHERE property_id = $3 AND participant_key = $1 AND id <> $2
		)
	`, key, conversationID, propertyID)
	if err != nil {
		return fmt.Errorf("update participant key: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrConflict
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
		WHERE conversation_id IN (`+placeholders(1, len(ids))+`)
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
			joined               time.Time
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
			JoinedAt:  joined.UTC(),
		})
		c.UnreadCount[userID] = unread
	}
	return res, prow.Err()
}

func (r *ConversationRepo) scanConversation(s interface{ Scan(...any) error }) (*domain.Conversation, error) {
	var (
		c                domain.Conversation
		status           string
		booking          sql.NullString
		lmContent, lmSnd sql.NullString
		lmSent           sql.NullTime
	)
	if err := s.Scan(&c.ID, &c.PropertyID, &booking, &status, &lmContent, &lmSnd, &lmSent, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, fmt.Errorf("scan conversation: %w", err)
	}
	c.BookingID = booking.String
	c.Status = domain.ConversationStatus(status)
	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()
	c.UnreadCount = make(map[string]int)
	if lmSent.Valid {
		content, err := r.enc.Decrypt(lmContent.String)
		if err != nil {
			return nil, fmt.Errorf("decrypt last message: %w", err)
		}
		c.LastMessage = &domain.LastMessage{Content: content, SenderID: lmSnd.String, SentAt: lmSent.Time.UTC()}
	}
	return &c, nil
}
