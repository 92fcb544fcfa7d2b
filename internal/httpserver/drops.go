package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"

	"github.com/blackmichael/drops-backend/internal/domain"
	"github.com/gorilla/mux"
)

type createDropRequest struct {
	Type      string          `json:"type" validate:"required"`
	Title     string          `json:"title" validate:"required,max=200"`
	Content   string          `json:"content" validate:"required"`
	Location  json.RawMessage `json:"location" validate:"required"`
	FriendIDs []string        `json:"friendIds" validate:"dive,required"`
}

type shareDropRequest struct {
	FriendIDs []string `json:"friendIds" validate:"required,min=1,dive,required"`
}

// unlockResponse flattens the drop view next to the unlock outcome.
type unlockResponse struct {
	domain.DropView
	Status           domain.UnlockStatus `json:"status"`
	Unlocked         bool                `json:"unlocked"`
	Distance         *int                `json:"distance,omitempty"`
	RequiredDistance int                 `json:"requiredDistance"`
}

func (s *Server) handleCreateDrop(w http.ResponseWriter, r *http.Request, userID string) {
	var req createDropRequest
	if err := s.decode(r, &req); err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	view, err := s.svc.Drops.CreateDrop(r.Context(), userID, domain.NewDrop{
		Kind:         req.Type,
		Title:        req.Title,
		Body:         req.Content,
		Location:     string(req.Location),
		RecipientIDs: req.FriendIDs,
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

func (s *Server) handleGetDrop(w http.ResponseWriter, r *http.Request, userID string) {
	view, err := s.svc.Drops.GetDrop(r.Context(), userID, mux.Vars(r)["id"])
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleDeleteDrop(w http.ResponseWriter, r *http.Request, userID string) {
	if err := s.svc.Drops.DeleteDrop(r.Context(), userID, mux.Vars(r)["id"]); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListMine(w http.ResponseWriter, r *http.Request, userID string) {
	views, err := s.svc.Drops.ListMine(r.Context(), userID)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"drops": views})
}

func (s *Server) handleListShared(w http.ResponseWriter, r *http.Request, userID string) {
	views, err := s.svc.Drops.ListShared(r.Context(), userID)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"drops": views})
}

func (s *Server) handleListNearby(w http.ResponseWriter, r *http.Request, userID string) {
	q := r.URL.Query()
	lat, latErr := strconv.ParseFloat(q.Get("lat"), 64)
	lng, lngErr := strconv.ParseFloat(q.Get("lng"), 64)
	if latErr != nil || lngErr != nil {
		s.writeDomainError(w, r, fmt.Errorf("%w: lat and lng query parameters are required", domain.ErrInvalidLocation))
		return
	}

	var radius float64
	if raw := q.Get("radius"); raw != "" {
		parsed, err := strconv.ParseFloat(raw, 64)
		if err != nil || parsed <= 0 || math.IsInf(parsed, 0) {
			s.writeDomainError(w, r, fmt.Errorf("%w: radius must be a positive number of kilometers", domain.ErrInvalidInput))
			return
		}
		radius = parsed
	}

	views, err := s.svc.Drops.ListNearby(r.Context(), userID, domain.Coordinate{Lat: lat, Lng: lng}, radius)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"drops": views})
}

func (s *Server) handleShareDrop(w http.ResponseWriter, r *http.Request, userID string) {
	var req shareDropRequest
	if err := s.decode(r, &req); err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	added, err := s.svc.Drops.AddRecipients(r.Context(), userID, mux.Vars(r)["id"], req.FriendIDs)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sharedWith": added})
}

func (s *Server) handleUnlock(w http.ResponseWriter, r *http.Request, userID string) {
	lat, lng, _, err := claimedLocation(r)
	if err != nil {
		s.metrics.UnlockAttempt("error")
		s.writeDomainError(w, r, err)
		return
	}
	result, err := s.svc.Drops.AttemptUnlock(r.Context(), userID, mux.Vars(r)["id"], lat, lng)
	s.writeUnlock(w, r, result, err)
}

// handleCheckUnlock attempts an unlock when coordinates are supplied and
// otherwise reports the current state without recording an attempt.
func (s *Server) handleCheckUnlock(w http.ResponseWriter, r *http.Request, userID string) {
	lat, lng, present, err := claimedLocation(r)
	if err != nil {
		s.metrics.UnlockAttempt("error")
		s.writeDomainError(w, r, err)
		return
	}

	var result *domain.UnlockResult
	if present {
		result, err = s.svc.Drops.AttemptUnlock(r.Context(), userID, mux.Vars(r)["id"], lat, lng)
	} else {
		result, err = s.svc.Drops.UnlockStatus(r.Context(), userID, mux.Vars(r)["id"])
	}
	s.writeUnlock(w, r, result, err)
}

// claimedLocation reads lat and lng from the request body. Missing or
// non-numeric values come back as NaN so the unlock engine rejects them with
// ErrInvalidLocation after authorization has been checked. present reports
// whether either key was supplied.
func claimedLocation(r *http.Request) (lat, lng float64, present bool, err error) {
	var body map[string]any
	if err := decodeJSON(r, &body); err != nil {
		return 0, 0, false, err
	}
	rawLat, hasLat := body["lat"]
	rawLng, hasLng := body["lng"]
	return numberOrNaN(rawLat), numberOrNaN(rawLng), hasLat || hasLng, nil
}

func numberOrNaN(v any) float64 {
	if v == nil {
		return math.NaN()
	}
	f, err := domain.NumberValue(v)
	if err != nil {
		return math.NaN()
	}
	return f
}

func (s *Server) writeUnlock(w http.ResponseWriter, r *http.Request, result *domain.UnlockResult, err error) {
	if err != nil {
		outcome := "error"
		if errors.Is(err, domain.ErrForbidden) {
			outcome = "forbidden"
		} else if errors.Is(err, domain.ErrInvalidLocation) {
			outcome = "invalid_location"
		}
		s.metrics.UnlockAttempt(outcome)
		s.writeDomainError(w, r, err)
		return
	}

	s.metrics.UnlockAttempt(string(result.Status))
	writeJSON(w, http.StatusOK, unlockResponse{
		DropView:         result.Drop,
		Status:           result.Status,
		Unlocked:         result.Unlocked(),
		Distance:         result.DistanceMeters,
		RequiredDistance: result.RequiredMeters,
	})
}
