package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ArtixJP/albert-api/internal/openai"
)

// Session is one persisted (user, chat) history.
type Session struct {
	UserID    string               `json:"-"`
	ChatID    string               `json:"chat_id"`
	Messages  []openai.ChatMessage `json:"messages"`
	UpdatedAt time.Time            `json:"updated_at"`
}

// SessionRef is one entry of a user's history listing.
type SessionRef struct {
	ChatID    string    `json:"id"`
	UpdatedAt time.Time `json:"updated_at"`
}

type SessionsRepo struct{ pool *pgxpool.Pool }

// Get fetches one session. The boolean reports whether the session exists;
// an unknown chat id is not an error.
func (r *SessionsRepo) Get(ctx context.Context, userID, chatID string) (Session, bool, error) {
	var raw []byte
	s := Session{UserID: userID, ChatID: chatID}
	err := r.pool.QueryRow(ctx, `
SELECT messages, updated_at
FROM chat_sessions
WHERE user_id=$1 AND chat_id=$2
`, userID, chatID).Scan(&raw, &s.UpdatedAt)
	if err == pgx.ErrNoRows {
		return Session{}, false, nil
	}
	if err != nil {
		return Session{}, false, err
	}
	if err := json.Unmarshal(raw, &s.Messages); err != nil {
		return Session{}, false, err
	}
	return s, true, nil
}

// Append adds one (user, assistant) message pair to a session, creating the
// row if needed. The jsonb concatenation runs as a single statement, so
// concurrent appends to the same session serialize on the row lock.
func (r *SessionsRepo) Append(ctx context.Context, userID, chatID string, userMsg, assistantMsg openai.ChatMessage) error {
	pair, err := json.Marshal([]openai.ChatMessage{userMsg, assistantMsg})
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
INSERT INTO chat_sessions(user_id, chat_id, messages, updated_at)
VALUES($1,$2,$3::jsonb, now())
ON CONFLICT (user_id, chat_id)
DO UPDATE SET messages = chat_sessions.messages || EXCLUDED.messages, updated_at = now()
`, userID, chatID, string(pair))
	return err
}

// List returns the user's sessions, most recently updated first. An unknown
// user yields an empty listing.
func (r *SessionsRepo) List(ctx context.Context, userID string) ([]SessionRef, error) {
	rows, err := r.pool.Query(ctx, `
SELECT chat_id, updated_at
FROM chat_sessions
WHERE user_id=$1
ORDER BY updated_at DESC
`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []SessionRef
	for rows.Next() {
		var ref SessionRef
		if err := rows.Scan(&ref.ChatID, &ref.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, ref)
	}
	return out, rows.Err()
}
