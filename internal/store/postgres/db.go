package postgres

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Open opens a PostgreSQL database using the pgx stdlib driver.
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// Migrate runs idempotent DDL migrations on PostgreSQL.
func Migrate(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS conversations (
			id                      TEXT        PRIMARY KEY,
			property_id             TEXT        NOT NULL,
			booking_id              TEXT,
			participant_key         TEXT        NOT NULL,
			status                  TEXT        NOT NULL DEFAULT 'active',
			last_message_content    TEXT,
			last_message_sender_id  TEXT,
			last_message_sent_at    TIMESTAMPTZ,
			created_at              TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at              TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,

		`CREATE TABLE IF NOT EXISTS conversation_participants (
			conversation_id TEXT        NOT NULL REFERENCES conversations(id),
			user_id         TEXT        NOT NULL,
			role            TEXT        NOT NULL,
			first_name      TEXT,
			last_name       TEXT,
			position        INT         NOT NULL DEFAULT 0,
			unread_count    INT         NOT NULL DEFAULT 0,
			joined_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (conversation_id, user_id)
		)`,

		`CREATE TABLE IF NOT EXISTS messages (
			id                    TEXT             PRIMARY KEY,
			conversation_id       TEXT             NOT NULL REFERENCES conversations(id),
			sender_id             TEXT             NOT NULL,
			client_message_id     TEXT             NOT NULL,
			type                  TEXT             NOT NULL,
			content_text          TEXT             NOT NULL DEFAULT '',
			attachments           JSONB            NOT NULL DEFAULT '[]',
			moderation_status     TEXT             NOT NULL,
			moderation_flags      JSONB            NOT NULL DEFAULT '[]',
			moderation_confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
			moderation_original   TEXT             NOT NULL DEFAULT '',
			status                TEXT             NOT NULL,
			created_at            TIMESTAMPTZ      NOT NULL,
			updated_at            TIMESTAMPTZ      NOT NULL,
			deleted_at            TIMESTAMPTZ
		)`,

		`CREATE TABLE IF NOT EXISTS message_reads (
			message_id TEXT        NOT NULL REFERENCES messages(id),
			user_id    TEXT        NOT NULL,
			read_at    TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (message_id, user_id)
		)`,

		`CREATE UNIQUE INDEX IF NOT EXISTS ux_conversations_property_pair ON conversations(property_id, participant_key)`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_updated_at ON conversations(updated_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_conv_participants_user ON conversation_participants(user_id)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS ux_messages_client_id ON messages(conversation_id, client_message_id)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_conv_created ON messages(conversation_id, created_at, id)`,
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// placeholders returns "$start,$start+1,..." for n parameters.
func placeholders(start, n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("$%d", start+i)
	}
	return strings.Join(parts, ",")
}

// pgTime truncates to the microsecond precision of TIMESTAMPTZ.
func pgTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
