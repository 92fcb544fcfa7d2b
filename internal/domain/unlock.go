package domain

import (
	"context"
	"fmt"
	"math"
	"time"
)

// UnlockStatus is the outcome of an unlock attempt or status check.
type UnlockStatus string

const (
	// UnlockStatusOwner means the viewer owns the drop; owners never need to
	// unlock.
	UnlockStatusOwner UnlockStatus = "owner"

	// UnlockStatusUnlocked means this attempt moved the share to unlocked.
	UnlockStatusUnlocked UnlockStatus = "unlocked"

	// UnlockStatusAlreadyUnlocked means the share was unlocked earlier.
	UnlockStatusAlreadyUnlocked UnlockStatus = "already_unlocked"

	// UnlockStatusTooFar means the claimed location is outside the radius.
	UnlockStatusTooFar UnlockStatus = "too_far"

	// UnlockStatusLocked is returned by UnlockStatus for a locked share when
	// no attempt was made.
	UnlockStatusLocked UnlockStatus = "locked"
)

// UnlockResult describes the state of a drop for the viewer after an unlock
// attempt. Distances are in whole meters.
type UnlockResult struct {
	Status         UnlockStatus
	Drop           DropView
	DistanceMeters *int
	RequiredMeters int
}

// Unlocked reports whether the viewer can see the full drop.
func (r *UnlockResult) Unlocked() bool {
	return r.Status != UnlockStatusTooFar && r.Status != UnlockStatusLocked
}

// AttemptUnlock runs the proximity unlock state machine for the viewer.
//
// Owners short-circuit to success. Viewers without a share get ErrForbidden.
// Shares that are already unlocked return success without looking at the
// location. Otherwise the claimed location must be valid, the attempt is
// recorded, and the share is unlocked when the distance to the drop is at
// most UnlockRadiusKm. The unlock event fires only from the call whose
// conditional update actually changed the share.
func (s *DropService) AttemptUnlock(ctx context.Context, viewerID, dropID string, lat, lng float64) (*UnlockResult, error) {
	drop, share, err := s.resolve(ctx, viewerID, dropID)
	if err != nil {
		return nil, err
	}
	if share == nil {
		return s.unlockResult(ctx, drop, nil, UnlockStatusOwner, nil)
	}
	if !share.Locked {
		return s.unlockResult(ctx, drop, share, UnlockStatusAlreadyUnlocked, nil)
	}

	claimed := Coordinate{Lat: lat, Lng: lng}
	if !claimed.Valid() {
		return nil, ErrInvalidLocation
	}
	target, err := drop.Coordinate()
	if err != nil {
		return nil, fmt.Errorf("drop %s: %w", drop.ID, err)
	}

	distanceKm := s.distance(claimed, target)
	if math.IsNaN(distanceKm) {
		return nil, ErrInvalidLocation
	}

	now := s.now()
	if err := s.shares.TouchLastChecked(ctx, share.ID, now); err != nil {
		s.logger.Warn("failed to record unlock attempt", "share_id", share.ID, "error", err)
	} else {
		share.LastCheckedAt = &now
	}

	meters := int(math.Round(distanceKm * 1000))
	if distanceKm > UnlockRadiusKm {
		s.logger.Debug("unlock attempt too far", "drop_id", drop.ID, "viewer_id", viewerID, "distance_m", meters)
		return s.unlockResult(ctx, drop, share, UnlockStatusTooFar, &meters)
	}

	changed, err := s.shares.SetUnlocked(ctx, share.ID, now)
	if err != nil {
		return nil, fmt.Errorf("unlock share: %w", err)
	}
	if !changed {
		// A concurrent attempt won the transition; report its timestamp.
		current, err := s.shares.GetShare(ctx, drop.ID, viewerID)
		if err != nil {
			return nil, fmt.Errorf("reload share: %w", err)
		}
		return s.unlockResult(ctx, drop, current, UnlockStatusAlreadyUnlocked, &meters)
	}

	share.Locked = false
	share.UnlockedAt = &now
	s.logger.Info("drop unlocked", "drop_id", drop.ID, "recipient_id", viewerID, "distance_m", meters)
	s.announceUnlock(ctx, drop, share)

	return s.unlockResult(ctx, drop, share, UnlockStatusUnlocked, &meters)
}

// UnlockStatus reports the viewer's current lock state without attempting
// an unlock or recording an attempt.
func (s *DropService) UnlockStatus(ctx context.Context, viewerID, dropID string) (*UnlockResult, error) {
	drop, share, err := s.resolve(ctx, viewerID, dropID)
	if err != nil {
		return nil, err
	}
	switch {
	case share == nil:
		return s.unlockResult(ctx, drop, nil, UnlockStatusOwner, nil)
	case share.Locked:
		return s.unlockResult(ctx, drop, share, UnlockStatusLocked, nil)
	default:
		return s.unlockResult(ctx, drop, share, UnlockStatusAlreadyUnlocked, nil)
	}
}

func (s *DropService) unlockResult(ctx context.Context, drop *Drop, share *Share, status UnlockStatus, meters *int) (*UnlockResult, error) {
	view, err := s.view(ctx, drop, share, share == nil)
	if err != nil {
		return nil, err
	}
	return &UnlockResult{
		Status:         status,
		Drop:           view,
		DistanceMeters: meters,
		RequiredMeters: int(math.Round(UnlockRadiusKm * 1000)),
	}, nil
}

func (s *DropService) announceUnlock(ctx context.Context, drop *Drop, share *Share) {
	payload := map[string]any{
		"dropId":      drop.ID,
		"recipientId": share.RecipientID,
		"unlockedAt":  share.UnlockedAt.Format(time.RFC3339),
	}
	s.publisher.Publish(UserTopic(drop.OwnerID), EventDropUnlocked, payload)
	s.publisher.Publish(UserTopic(share.RecipientID), EventDropUnlocked, payload)

	recipient := s.creatorView(ctx, share.RecipientID)
	s.notifier.Notify(drop.OwnerID, Notification{
		Category: CategoryDropUnlocked,
		Data: map[string]string{
			"dropId":        drop.ID,
			"dropTitle":     drop.Title,
			"recipientId":   share.RecipientID,
			"recipientName": recipient.Name,
			"action":        "viewDrop",
		},
	})
}
