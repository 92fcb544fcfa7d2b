package httpserver

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/blackmichael/drops-backend/internal/domain"
	"github.com/gorilla/mux"
)

type createConversationRequest struct {
	ParticipantIDs []string `json:"participantIds" validate:"required,min=1,dive,required"`
}

type sendMessageRequest struct {
	Body string `json:"body" validate:"required"`
}

type conversationResponse struct {
	ID             string    `json:"id"`
	CreatorID      string    `json:"creatorId"`
	ParticipantIDs []string  `json:"participantIds"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

func toConversationResponse(c *domain.Conversation) conversationResponse {
	return conversationResponse{
		ID:             c.ID,
		CreatorID:      c.CreatorID,
		ParticipantIDs: c.ParticipantIDs,
		CreatedAt:      c.CreatedAt,
		UpdatedAt:      c.UpdatedAt,
	}
}

type messageResponse struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	SenderID       string    `json:"senderId"`
	Body           string    `json:"body"`
	CreatedAt      time.Time `json:"createdAt"`
}

func toMessageResponse(m *domain.Message) messageResponse {
	return messageResponse{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Body:           m.Body,
		CreatedAt:      m.CreatedAt,
	}
}

func (s *Server) handleCreateConversation(w http.ResponseWriter, r *http.Request, userID string) {
	var req createConversationRequest
	if err := s.decode(r, &req); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	conv, err := s.svc.Chat.CreateConversation(r.Context(), userID, req.ParticipantIDs)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toConversationResponse(conv))
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request, userID string) {
	convs, err := s.svc.Chat.ListConversations(r.Context(), userID)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	resp := make([]conversationResponse, len(convs))
	for i := range convs {
		resp[i] = toConversationResponse(&convs[i])
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversations": resp})
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request, userID string) {
	conv, err := s.svc.Chat.GetConversation(r.Context(), userID, mux.Vars(r)["id"])
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toConversationResponse(conv))
}

func (s *Server) handleLeaveConversation(w http.ResponseWriter, r *http.Request, userID string) {
	if err := s.svc.Chat.LeaveConversation(r.Context(), userID, mux.Vars(r)["id"]); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request, userID string) {
	var req sendMessageRequest
	if err := s.decode(r, &req); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	msg, err := s.svc.Chat.SendMessage(r.Context(), userID, mux.Vars(r)["id"], req.Body)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toMessageResponse(msg))
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request, userID string) {
	q := r.URL.Query()

	limit := 0
	if l := q.Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed < 1 {
			s.writeDomainError(w, r, fmt.Errorf("%w: limit must be a positive integer", domain.ErrInvalidInput))
			return
		}
		limit = parsed
	}

	var before time.Time
	if b := q.Get("before"); b != "" {
		parsed, err := time.Parse(time.RFC3339Nano, b)
		if err != nil {
			s.writeDomainError(w, r, fmt.Errorf("%w: before must be an RFC 3339 timestamp", domain.ErrInvalidInput))
			return
		}
		before = parsed
	}

	msgs, err := s.svc.Chat.ListMessages(r.Context(), userID, mux.Vars(r)["id"], limit, before)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	resp := map[string]any{"messages": toMessagesResponse(msgs)}
	if len(msgs) > 0 {
		resp["cursor"] = msgs[len(msgs)-1].CreatedAt.Format(time.RFC3339Nano)
	}
	writeJSON(w, http.StatusOK, resp)
}

func toMessagesResponse(msgs []domain.Message) []messageResponse {
	result := make([]messageResponse, len(msgs))
	for i := range msgs {
		result[i] = toMessageResponse(&msgs[i])
	}
	return result
}
