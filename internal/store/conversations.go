package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/CollideNV/hadron/internal/agent"
)

// SaveConversation upserts the full message transcript for one agent call,
// keyed by the same stage label runAgentStreamed emits events under
// (internal/stages/stages.go), so get_conversation(cr_id, key) can retrieve
// it by the label an operator already sees in the event stream.
func (s *Store) SaveConversation(ctx context.Context, crID, key string, messages []agent.ConversationMessage) error {
	blob, err := json.Marshal(messages)
	if err != nil {
		return fmt.Errorf("failed to marshal conversation: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO conversations (cr_id, key, messages)
		VALUES ($1, $2, $3)
		ON CONFLICT (cr_id, key) DO UPDATE SET messages = $3, updated_at = now()
	`, crID, key, blob)
	if err != nil {
		return fmt.Errorf("failed to save conversation: %w", err)
	}
	return nil
}

// GetConversation retrieves a stored conversation by key, per spec.md §4.6's
// get_conversation(cr_id, key).
func (s *Store) GetConversation(ctx context.Context, crID, key string) ([]agent.ConversationMessage, error) {
	var blob []byte
	err := s.pool.QueryRow(ctx, `
		SELECT messages FROM conversations WHERE cr_id = $1 AND key = $2
	`, crID, key).Scan(&blob)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}

	var messages []agent.ConversationMessage
	if err := json.Unmarshal(blob, &messages); err != nil {
		return nil, fmt.Errorf("failed to unmarshal conversation: %w", err)
	}
	return messages, nil
}
