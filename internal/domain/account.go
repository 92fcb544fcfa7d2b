package domain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

var devicePlatforms = map[string]struct{}{"ios": {}, "android": {}}

// AccountService manages profiles, the friend graph and push devices.
type AccountService struct {
	users     UserDirectory
	friends   FriendRepository
	devices   DeviceRegistry
	publisher Publisher
	notifier  Notifier
	logger    *slog.Logger
	now       func() time.Time
}

// NewAccountService creates an AccountService.
func NewAccountService(users UserDirectory, friends FriendRepository, devices DeviceRegistry, publisher Publisher, notifier Notifier, logger *slog.Logger) *AccountService {
	return &AccountService{
		users:     users,
		friends:   friends,
		devices:   devices,
		publisher: publisher,
		notifier:  notifier,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// GetUser returns a profile.
func (s *AccountService) GetUser(ctx context.Context, id string) (*User, error) {
	return s.users.GetUser(ctx, id)
}

// UpdateProfile creates or updates the caller's profile and returns the
// stored record.
func (s *AccountService) UpdateProfile(ctx context.Context, userID, displayName, avatarURL string) (*User, error) {
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		return nil, fmt.Errorf("%w: display name is required", ErrInvalidInput)
	}
	err := s.users.UpsertUser(ctx, &User{
		ID:          userID,
		DisplayName: displayName,
		AvatarURL:   strings.TrimSpace(avatarURL),
		CreatedAt:   s.now(),
	})
	if err != nil {
		return nil, fmt.Errorf("upsert user: %w", err)
	}
	return s.users.GetUser(ctx, userID)
}

// InviteFriend asks addresseeID to become a friend of requesterID and
// returns the resulting friendship state. Inviting someone who already sent
// the caller a request accepts that request instead. Only a newly stored
// request or an acceptance notifies the other user.
func (s *AccountService) InviteFriend(ctx context.Context, requesterID, addresseeID string) (string, error) {
	if addresseeID == "" || addresseeID == requesterID {
		return "", fmt.Errorf("%w: cannot befriend yourself", ErrInvalidInput)
	}
	if _, err := s.users.GetUser(ctx, addresseeID); err != nil {
		return "", err
	}

	already, err := s.friends.IsFriend(ctx, requesterID, addresseeID)
	if err != nil {
		return "", fmt.Errorf("check friendship: %w", err)
	}
	if already {
		return FriendshipAccepted, nil
	}

	now := s.now()
	err = s.friends.AcceptFriend(ctx, addresseeID, requesterID, now)
	switch {
	case err == nil:
		s.notifyAccepted(ctx, addresseeID, requesterID)
		return FriendshipAccepted, nil
	case !errors.Is(err, ErrNotFound):
		return "", fmt.Errorf("accept reverse request: %w", err)
	}

	created, err := s.friends.RequestFriend(ctx, requesterID, addresseeID, now)
	if err != nil {
		return "", fmt.Errorf("request friend: %w", err)
	}
	if created {
		s.notifier.Notify(addresseeID, Notification{
			Category: CategoryFriendRequest,
			Data: map[string]string{
				"senderId":   requesterID,
				"senderName": s.displayName(ctx, requesterID),
			},
		})
	}
	return FriendshipPending, nil
}

// AcceptFriend accepts a pending request from requesterID and notifies the
// requester.
func (s *AccountService) AcceptFriend(ctx context.Context, addresseeID, requesterID string) error {
	if err := s.friends.AcceptFriend(ctx, requesterID, addresseeID, s.now()); err != nil {
		return err
	}
	s.notifyAccepted(ctx, requesterID, addresseeID)
	return nil
}

func (s *AccountService) notifyAccepted(ctx context.Context, requesterID, accepterID string) {
	s.notifier.Notify(requesterID, Notification{
		Category: CategoryFriendAccepted,
		Data: map[string]string{
			"friendId":     accepterID,
			"accepterName": s.displayName(ctx, accepterID),
			"action":       "viewProfile",
		},
	})
}

// DeclineFriend removes a pending request between the caller and otherID,
// whichever of them sent it.
func (s *AccountService) DeclineFriend(ctx context.Context, userID, otherID string) error {
	if otherID == "" {
		return fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	return s.friends.DeleteRequest(ctx, userID, otherID)
}

// RemoveFriend ends a friendship. Drops already shared between the two stay
// shared.
func (s *AccountService) RemoveFriend(ctx context.Context, userID, friendID string) error {
	if friendID == "" || friendID == userID {
		return fmt.Errorf("%w: friend id is required", ErrInvalidInput)
	}
	return s.friends.RemoveFriend(ctx, userID, friendID)
}

// ListFriends returns the caller's accepted friends.
func (s *AccountService) ListFriends(ctx context.Context, userID string) ([]User, error) {
	return s.friends.ListFriends(ctx, userID)
}

// ListFriendRequests returns requests waiting for the caller's answer.
func (s *AccountService) ListFriendRequests(ctx context.Context, userID string) ([]FriendRequest, error) {
	return s.friends.ListFriendRequests(ctx, userID)
}

// RegisterDevice registers or re-activates a push token for the caller.
func (s *AccountService) RegisterDevice(ctx context.Context, userID, token, platform string) error {
	token = strings.TrimSpace(token)
	platform = strings.ToLower(strings.TrimSpace(platform))
	if token == "" {
		return fmt.Errorf("%w: device token is required", ErrInvalidInput)
	}
	if _, ok := devicePlatforms[platform]; !ok {
		return fmt.Errorf("%w: platform must be ios or android", ErrInvalidInput)
	}

	now := s.now()
	return s.devices.RegisterDevice(ctx, &Device{
		ID:        uuid.NewString(),
		UserID:    userID,
		Token:     token,
		Platform:  platform,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	})
}

// UnregisterDevice deactivates a push token of the caller.
func (s *AccountService) UnregisterDevice(ctx context.Context, userID, token string) error {
	if strings.TrimSpace(token) == "" {
		return fmt.Errorf("%w: device token is required", ErrInvalidInput)
	}
	return s.devices.UnregisterDevice(ctx, userID, token)
}

// StartCleanupJob removes devices that have been inactive for longer than
// maxAge. It runs immediately on start and then at the given interval, and
// blocks until ctx is cancelled.
func (s *AccountService) StartCleanupJob(ctx context.Context, interval, maxAge time.Duration) {
	s.runCleanup(ctx, maxAge)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runCleanup(ctx, maxAge)
		}
	}
}

func (s *AccountService) runCleanup(ctx context.Context, maxAge time.Duration) {
	deleted, err := s.devices.DeleteInactiveDevices(ctx, maxAge)
	if err != nil {
		s.logger.Error("device cleanup failed", "error", err)
	} else if deleted > 0 {
		s.logger.Info("device cleanup complete", "deleted", deleted)
	}
}

func (s *AccountService) displayName(ctx context.Context, userID string) string {
	u, err := s.users.GetUser(ctx, userID)
	if err != nil || u.DisplayName == "" {
		return fallbackUserName
	}
	return u.DisplayName
}
