package sqlstore

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/blackmichael/drops-backend/internal/domain"
	"github.com/jmoiron/sqlx"
)

type messageRow struct {
	ID             string    `db:"id"`
	ConversationID string    `db:"conversation_id"`
	SenderID       string    `db:"sender_id"`
	Body           string    `db:"body"`
	CreatedAt      time.Time `db:"created_at"`
}

// CreateConversation inserts the conversation and its participants.
func (s *Store) CreateConversation(ctx context.Context, conv *domain.Conversation) error {
	return s.execTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, tx.Rebind(`
			INSERT INTO conversations (id, creator_id, created_at) VALUES (?, ?, ?)`),
			conv.ID, conv.CreatorID, conv.CreatedAt.UTC(),
		)
		if err != nil {
			return fmt.Errorf("insert conversation: %w", translateError(err))
		}

		insert := tx.Rebind(`
			INSERT INTO conversation_participants (conversation_id, user_id, joined_at)
			VALUES (?, ?, ?)
			ON CONFLICT (conversation_id, user_id) DO NOTHING`)
		for _, userID := range conv.ParticipantIDs {
			if _, err := tx.ExecContext(ctx, insert, conv.ID, userID, conv.CreatedAt.UTC()); err != nil {
				return fmt.Errorf("insert participant %s: %w", userID, err)
			}
		}
		return nil
	})
}

type conversationRow struct {
	ID        string    `db:"id"`
	CreatorID string    `db:"creator_id"`
	CreatedAt time.Time `db:"created_at"`
}

// GetConversation returns the conversation with its participants.
func (s *Store) GetConversation(ctx context.Context, id string) (*domain.Conversation, error) {
	var row conversationRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(`
		SELECT id, creator_id, created_at FROM conversations WHERE id = ?`), id)
	if err != nil {
		return nil, translateError(err)
	}
	convs, err := s.hydrateConversations(ctx, []conversationRow{row})
	if err != nil {
		return nil, err
	}
	return &convs[0], nil
}

// ListConversations returns the user's conversations ordered by their latest
// message, falling back to creation time.
func (s *Store) ListConversations(ctx context.Context, userID string) ([]domain.Conversation, error) {
	var rows []conversationRow
	err := s.db.SelectContext(ctx, &rows, s.db.Rebind(`
		SELECT c.id, c.creator_id, c.created_at
		FROM conversations c
		JOIN conversation_participants p ON p.conversation_id = c.id
		WHERE p.user_id = ?`), userID)
	if err != nil {
		return nil, fmt.Errorf("query conversations: %w", err)
	}
	convs, err := s.hydrateConversations(ctx, rows)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(convs, func(i, j int) bool {
		if !convs[i].UpdatedAt.Equal(convs[j].UpdatedAt) {
			return convs[i].UpdatedAt.After(convs[j].UpdatedAt)
		}
		return convs[i].ID < convs[j].ID
	})
	return convs, nil
}

// hydrateConversations attaches participants and the latest message time.
func (s *Store) hydrateConversations(ctx context.Context, rows []conversationRow) ([]domain.Conversation, error) {
	convs := make([]domain.Conversation, len(rows))
	if len(rows) == 0 {
		return convs, nil
	}
	ids := make([]string, len(rows))
	for i, r := range rows {
		ids[i] = r.ID
	}

	query, args, err := sqlx.In(`
		SELECT conversation_id, user_id
		FROM conversation_participants
		WHERE conversation_id IN (?)
		ORDER BY joined_at, user_id`, ids)
	if err != nil {
		return nil, fmt.Errorf("build participants query: %w", err)
	}
	var members []struct {
		ConversationID string `db:"conversation_id"`
		UserID         string `db:"user_id"`
	}
	if err := s.db.SelectContext(ctx, &members, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("query participants: %w", err)
	}
	byConv := make(map[string][]string, len(rows))
	for _, m := range members {
		byConv[m.ConversationID] = append(byConv[m.ConversationID], m.UserID)
	}

	query, args, err = sqlx.In(`
		SELECT m.conversation_id, m.created_at
		FROM messages m
		WHERE m.conversation_id IN (?)
			AND m.created_at = (SELECT MAX(x.created_at) FROM messages x WHERE x.conversation_id = m.conversation_id)`, ids)
	if err != nil {
		return nil, fmt.Errorf("build latest message query: %w", err)
	}
	var latest []struct {
		ConversationID string    `db:"conversation_id"`
		CreatedAt      time.Time `db:"created_at"`
	}
	if err := s.db.SelectContext(ctx, &latest, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("query latest messages: %w", err)
	}
	lastAt := make(map[string]time.Time, len(latest))
	for _, l := range latest {
		lastAt[l.ConversationID] = l.CreatedAt.UTC()
	}

	for i, r := range rows {
		convs[i] = domain.Conversation{
			ID:             r.ID,
			CreatorID:      r.CreatorID,
			ParticipantIDs: byConv[r.ID],
			CreatedAt:      r.CreatedAt.UTC(),
			UpdatedAt:      r.CreatedAt.UTC(),
		}
		if t, ok := lastAt[r.ID]; ok && t.After(convs[i].UpdatedAt) {
			convs[i].UpdatedAt = t
		}
	}
	return convs, nil
}

// RemoveParticipant removes the user from the conversation. The last member
// to leave deletes the conversation and its messages.
func (s *Store) RemoveParticipant(ctx context.Context, conversationID, userID string) error {
	return s.execTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, tx.Rebind(`
			DELETE FROM conversation_participants
			WHERE conversation_id = ? AND user_id = ?`), conversationID, userID)
		if err != nil {
			return fmt.Errorf("delete participant: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return domain.ErrNotFound
		}

		var left int
		err = tx.GetContext(ctx, &left, tx.Rebind(`
			SELECT COUNT(*) FROM conversation_participants WHERE conversation_id = ?`), conversationID)
		if err != nil {
			return fmt.Errorf("count participants: %w", err)
		}
		if left > 0 {
			return nil
		}

		if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM messages WHERE conversation_id = ?`), conversationID); err != nil {
			return fmt.Errorf("delete messages: %w", err)
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM conversations WHERE id = ?`), conversationID); err != nil {
			return fmt.Errorf("delete conversation: %w", err)
		}
		return nil
	})
}

// IsParticipant reports whether the user belongs to the conversation.
func (s *Store) IsParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	var n int
	err := s.db.GetContext(ctx, &n, s.db.Rebind(`
		SELECT COUNT(*) FROM conversation_participants
		WHERE conversation_id = ? AND user_id = ?`), conversationID, userID)
	if err != nil {
		return false, fmt.Errorf("query participant: %w", err)
	}
	return n > 0, nil
}

// Participants returns the user IDs of a conversation in join order.
func (s *Store) Participants(ctx context.Context, conversationID string) ([]string, error) {
	var ids []string
	err := s.db.SelectContext(ctx, &ids, s.db.Rebind(`
		SELECT user_id FROM conversation_participants
		WHERE conversation_id = ?
		ORDER BY joined_at, user_id`), conversationID)
	if err != nil {
		return nil, fmt.Errorf("query participants: %w", err)
	}
	// Conversations are always created with at least two participants.
	if len(ids) == 0 {
		return nil, domain.ErrNotFound
	}
	return ids, nil
}

// CreateMessage inserts a message.
func (s *Store) CreateMessage(ctx context.Context, msg *domain.Message) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO messages (id, conversation_id, sender_id, body, created_at)
		VALUES (?, ?, ?, ?, ?)`),
		msg.ID, msg.ConversationID, msg.SenderID, msg.Body, msg.CreatedAt.UTC(),
	)
	return translateError(err)
}

// ListMessages returns up to limit messages older than before, newest first.
// A zero before returns the latest messages.
func (s *Store) ListMessages(ctx context.Context, conversationID string, limit int, before time.Time) ([]domain.Message, error) {
	var (
		rows []messageRow
		err  error
	)
	if before.IsZero() {
		err = s.db.SelectContext(ctx, &rows, s.db.Rebind(`
			SELECT id, conversation_id, sender_id, body, created_at
			FROM messages
			WHERE conversation_id = ?
			ORDER BY created_at DESC, id DESC
			LIMIT ?`), conversationID, limit)
	} else {
		err = s.db.SelectContext(ctx, &rows, s.db.Rebind(`
			SELECT id, conversation_id, sender_id, body, created_at
			FROM messages
			WHERE conversation_id = ? AND created_at < ?
			ORDER BY created_at DESC, id DESC
			LIMIT ?`), conversationID, before.UTC(), limit)
	}
	if err != nil {
		return nil, fmt.Errorf("query messages (conversation=%s, limit=%d): %w", conversationID, limit, err)
	}

	messages := make([]domain.Message, len(rows))
	for i, r := range rows {
		messages[i] = domain.Message{
			ID:             r.ID,
			ConversationID: r.ConversationID,
			SenderID:       r.SenderID,
			Body:           r.Body,
			CreatedAt:      r.CreatedAt.UTC(),
		}
	}
	return messages, nil
}
