// Package history stitches per-user conversational state across requests.
package history

import (
	"context"

	"github.com/google/uuid"

	"github.com/ArtixJP/albert-api/internal/openai"
	"github.com/ArtixJP/albert-api/internal/store"
)

// Store is the session persistence contract. The pgx sessions repo is the
// production implementation; tests use fakes.
type Store interface {
	Get(ctx context.Context, userID, chatID string) (store.Session, bool, error)
	Append(ctx context.Context, userID, chatID string, userMsg, assistantMsg openai.ChatMessage) error
	List(ctx context.Context, userID string) ([]store.SessionRef, error)
}

type Manager struct {
	store Store
}

func New(s Store) *Manager { return &Manager{store: s} }

// Expand resolves the effective chat id and prepends any recorded history
// to the incoming messages.
//
// Anonymous requests (empty userID) pass through untouched. A user-scoped
// request without a chat id gets a freshly minted one and no history. An
// unknown chat id, or a session without recorded messages, behaves as if no
// history existed.
func (m *Manager) Expand(ctx context.Context, userID, chatID string, incoming []openai.ChatMessage) (string, []openai.ChatMessage, error) {
	if userID == "" {
		return chatID, incoming, nil
	}
	if chatID == "" {
		return uuid.NewString(), incoming, nil
	}

	sess, ok, err := m.store.Get(ctx, userID, chatID)
	if err != nil {
		return "", nil, err
	}
	if !ok || len(sess.Messages) == 0 {
		return chatID, incoming, nil
	}

	full := make([]openai.ChatMessage, 0, len(sess.Messages)+len(incoming))
	full = append(full, sess.Messages...)
	full = append(full, incoming...)
	return chatID, full, nil
}

// Commit appends one completed (user, assistant) exchange. No-op for
// anonymous requests; a store failure surfaces so the exchange never looks
// committed when it is not.
func (m *Manager) Commit(ctx context.Context, userID, chatID string, userMsg, assistantMsg openai.ChatMessage) error {
	if userID == "" {
		return nil
	}
	return m.store.Append(ctx, userID, chatID, userMsg, assistantMsg)
}

// Session fetches one session for the history endpoint. The boolean reports
// existence; absence is not an error.
func (m *Manager) Session(ctx context.Context, userID, chatID string) (store.Session, bool, error) {
	return m.store.Get(ctx, userID, chatID)
}

// List returns the user's session listing.
func (m *Manager) List(ctx context.Context, userID string) ([]store.SessionRef, error) {
	return m.store.List(ctx, userID)
}
