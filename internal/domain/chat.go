package domain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

const (
	previewLimit     = 100
	maxMessageLength = 4000
	maxMessagePage   = 100
)

// ChatService manages conversations and delivers messages in real time.
type ChatService struct {
	conversations ConversationRepository
	users         UserDirectory
	publisher     Publisher
	notifier      Notifier
	logger        *slog.Logger
	now           func() time.Time
}

// NewChatService creates a ChatService.
func NewChatService(conversations ConversationRepository, users UserDirectory, publisher Publisher, notifier Notifier, logger *slog.Logger) *ChatService {
	return &ChatService{
		conversations: conversations,
		users:         users,
		publisher:     publisher,
		notifier:      notifier,
		logger:        logger,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// CreateConversation starts a conversation between the creator and the
// given participants.
func (s *ChatService) CreateConversation(ctx context.Context, creatorID string, participantIDs []string) (*Conversation, error) {
	members := []string{creatorID}
	seen := map[string]struct{}{creatorID: {}}
	for _, id := range participantIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		members = append(members, id)
	}
	if len(members) < 2 {
		return nil, fmt.Errorf("%w: a conversation needs at least one other participant", ErrInvalidInput)
	}

	conv := &Conversation{
		ID:             uuid.NewString(),
		CreatorID:      creatorID,
		ParticipantIDs: members,
		CreatedAt:      s.now(),
	}
	conv.UpdatedAt = conv.CreatedAt
	if err := s.conversations.CreateConversation(ctx, conv); err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	return conv, nil
}

// ListConversations returns the caller's conversations, most recently active
// first.
func (s *ChatService) ListConversations(ctx context.Context, userID string) ([]Conversation, error) {
	return s.conversations.ListConversations(ctx, userID)
}

// GetConversation returns a conversation the viewer participates in.
func (s *ChatService) GetConversation(ctx context.Context, viewerID, conversationID string) (*Conversation, error) {
	if _, err := s.participantsFor(ctx, conversationID, viewerID); err != nil {
		return nil, err
	}
	return s.conversations.GetConversation(ctx, conversationID)
}

// LeaveConversation removes the caller from a conversation and tells the
// remaining participants.
func (s *ChatService) LeaveConversation(ctx context.Context, userID, conversationID string) error {
	if _, err := s.participantsFor(ctx, conversationID, userID); err != nil {
		return err
	}
	if err := s.conversations.RemoveParticipant(ctx, conversationID, userID); err != nil {
		return fmt.Errorf("remove participant: %w", err)
	}
	topic := ConversationTopic(conversationID)
	if ev, ok := s.publisher.(TopicEvictor); ok {
		ev.Evict(topic, userID)
	}
	s.publisher.Publish(topic, EventMemberLeft, map[string]any{
		"conversationId": conversationID,
		"userId":         userID,
	})
	return nil
}

// CanJoin reports whether the user may subscribe to the conversation.
func (s *ChatService) CanJoin(ctx context.Context, conversationID, userID string) (bool, error) {
	return s.conversations.IsParticipant(ctx, conversationID, userID)
}

// SendMessage stores a message, publishes it to the conversation topic and
// notifies every other participant.
func (s *ChatService) SendMessage(ctx context.Context, senderID, conversationID, body string) (*Message, error) {
	body = strings.TrimSpace(body)
	if body == "" || utf8.RuneCountInString(body) > maxMessageLength {
		return nil, fmt.Errorf("%w: message body must be 1-%d characters", ErrInvalidInput, maxMessageLength)
	}

	participants, err := s.participantsFor(ctx, conversationID, senderID)
	if err != nil {
		return nil, err
	}

	msg := &Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Body:           body,
		CreatedAt:      s.now(),
	}
	if err := s.conversations.CreateMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("create message: %w", err)
	}

	s.publisher.Publish(ConversationTopic(conversationID), EventNewMessage, map[string]any{
		"id":             msg.ID,
		"conversationId": msg.ConversationID,
		"senderId":       msg.SenderID,
		"body":           msg.Body,
		"createdAt":      msg.CreatedAt.Format(time.RFC3339Nano),
	})

	senderName := fallbackUserName
	if u, err := s.users.GetUser(ctx, senderID); err == nil && u.DisplayName != "" {
		senderName = u.DisplayName
	}
	preview := Preview(body)
	for _, id := range participants {
		if id == senderID {
			continue
		}
		s.notifier.Notify(id, Notification{
			Category: CategoryMessage,
			Title:    senderName,
			Body:     preview,
			Data: map[string]string{
				"conversationId": conversationID,
				"messageId":      msg.ID,
				"senderId":       senderID,
			},
		})
	}
	return msg, nil
}

// ListMessages returns a page of messages for a participant.
func (s *ChatService) ListMessages(ctx context.Context, viewerID, conversationID string, limit int, before time.Time) ([]Message, error) {
	if _, err := s.participantsFor(ctx, conversationID, viewerID); err != nil {
		return nil, err
	}
	switch {
	case limit <= 0:
		limit = 50
	case limit > maxMessagePage:
		limit = maxMessagePage
	}
	return s.conversations.ListMessages(ctx, conversationID, limit, before)
}

func (s *ChatService) participantsFor(ctx context.Context, conversationID, userID string) ([]string, error) {
	participants, err := s.conversations.Participants(ctx, conversationID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load participants: %w", err)
	}
	for _, id := range participants {
		if id == userID {
			return participants, nil
		}
	}
	return nil, ErrForbidden
}

// Preview shortens a message body for notifications.
func Preview(body string) string {
	if utf8.RuneCountInString(body) <= previewLimit {
		return body
	}
	runes := []rune(body)
	return string(runes[:previewLimit-3]) + "..."
}
