package httpserver

import (
	"net/http"
	"time"

	"github.com/blackmichael/drops-backend/internal/domain"
	"github.com/gorilla/mux"
)

type updateProfileRequest struct {
	DisplayName string `json:"displayName" validate:"required,max=100"`
	AvatarURL   string `json:"avatarUrl" validate:"omitempty,url"`
}

type inviteFriendRequest struct {
	FriendID string `json:"friendId" validate:"required"`
}

type acceptFriendRequest struct {
	RequesterID string `json:"requesterId" validate:"required"`
}

type declineFriendRequest struct {
	UserID string `json:"userId" validate:"required"`
}

type unfriendRequest struct {
	FriendID string `json:"friendId" validate:"required"`
}

type registerDeviceRequest struct {
	Token    string `json:"token" validate:"required"`
	Platform string `json:"platform" validate:"required,oneof=ios android"`
}

type unregisterDeviceRequest struct {
	Token string `json:"token" validate:"required"`
}

type userResponse struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"displayName"`
	AvatarURL   string    `json:"avatarUrl,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

type friendRequestResponse struct {
	Requester   userResponse `json:"requester"`
	RequestedAt time.Time    `json:"requestedAt"`
}

func toUserResponse(u *domain.User) userResponse {
	return userResponse{
		ID:          u.ID,
		DisplayName: u.DisplayName,
		AvatarURL:   u.AvatarURL,
		CreatedAt:   u.CreatedAt,
	}
}

func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request, userID string) {
	var req updateProfileRequest
	if err := s.decode(r, &req); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	u, err := s.svc.Accounts.UpdateProfile(r.Context(), userID, req.DisplayName, req.AvatarURL)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(u))
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request, _ string) {
	u, err := s.svc.Accounts.GetUser(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(u))
}

func (s *Server) handleListFriends(w http.ResponseWriter, r *http.Request, userID string) {
	friends, err := s.svc.Accounts.ListFriends(r.Context(), userID)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	resp := make([]userResponse, len(friends))
	for i := range friends {
		resp[i] = toUserResponse(&friends[i])
	}
	writeJSON(w, http.StatusOK, map[string]any{"friends": resp})
}

func (s *Server) handleInviteFriend(w http.ResponseWriter, r *http.Request, userID string) {
	var req inviteFriendRequest
	if err := s.decode(r, &req); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	status, err := s.svc.Accounts.InviteFriend(r.Context(), userID, req.FriendID)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	code := http.StatusAccepted
	if status == domain.FriendshipAccepted {
		code = http.StatusOK
	}
	writeJSON(w, code, map[string]string{"status": status})
}

func (s *Server) handleAcceptFriend(w http.ResponseWriter, r *http.Request, userID string) {
	var req acceptFriendRequest
	if err := s.decode(r, &req); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if err := s.svc.Accounts.AcceptFriend(r.Context(), userID, req.RequesterID); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
}

func (s *Server) handleListFriendRequests(w http.ResponseWriter, r *http.Request, userID string) {
	requests, err := s.svc.Accounts.ListFriendRequests(r.Context(), userID)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	resp := make([]friendRequestResponse, len(requests))
	for i := range requests {
		resp[i] = friendRequestResponse{
			Requester:   toUserResponse(&requests[i].Requester),
			RequestedAt: requests[i].CreatedAt,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"requests": resp})
}

func (s *Server) handleDeclineFriend(w http.ResponseWriter, r *http.Request, userID string) {
	var req declineFriendRequest
	if err := s.decode(r, &req); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if err := s.svc.Accounts.DeclineFriend(r.Context(), userID, req.UserID); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleUnfriend(w http.ResponseWriter, r *http.Request, userID string) {
	var req unfriendRequest
	if err := s.decode(r, &req); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if err := s.svc.Accounts.RemoveFriend(r.Context(), userID, req.FriendID); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}

func (s *Server) handleRegisterDevice(w http.ResponseWriter, r *http.Request, userID string) {
	var req registerDeviceRequest
	if err := s.decode(r, &req); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if err := s.svc.Accounts.RegisterDevice(r.Context(), userID, req.Token, req.Platform); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "registered"})
}

func (s *Server) handleUnregisterDevice(w http.ResponseWriter, r *http.Request, userID string) {
	var req unregisterDeviceRequest
	if err := s.decode(r, &req); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if err := s.svc.Accounts.UnregisterDevice(r.Context(), userID, req.Token); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "unregistered"})
}
