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

const (
	// UnlockRadiusKm is how close a recipient must be to a drop to unlock it.
	UnlockRadiusKm = 0.1

	// DefaultNearbyRadiusKm is used by ListNearby when no radius is given.
	DefaultNearbyRadiusKm = 5.0

	fallbackUserName = "Someone"
)

// NewDrop is the input for CreateDrop.
type NewDrop struct {
	Kind         string
	Title        string
	Body         string
	Location     string
	RecipientIDs []string
}

// DropDeps are the collaborators of a DropService.
type DropDeps struct {
	Drops     DropRepository
	Shares    ShareRepository
	Users     UserDirectory
	Friends   FriendGraph
	Publisher Publisher
	Notifier  Notifier
	Logger    *slog.Logger
}

// DropOption customises a DropService.
type DropOption func(*DropService)

// WithClock overrides the time source.
func WithClock(now func() time.Time) DropOption {
	return func(s *DropService) { s.now = now }
}

// WithDistanceFunc overrides the distance computation in kilometres.
func WithDistanceFunc(fn func(a, b Coordinate) float64) DropOption {
	return func(s *DropService) { s.distance = fn }
}

// WithNearbyRadius overrides the default radius of ListNearby.
func WithNearbyRadius(km float64) DropOption {
	return func(s *DropService) {
		if km > 0 {
			s.nearbyRadiusKm = km
		}
	}
}

// DropService is the core domain service. It owns drop creation and sharing,
// the proximity unlock state machine and every read path over drops.
type DropService struct {
	drops     DropRepository
	shares    ShareRepository
	users     UserDirectory
	friends   FriendGraph
	publisher Publisher
	notifier  Notifier
	logger    *slog.Logger

	now            func() time.Time
	distance       func(a, b Coordinate) float64
	nearbyRadiusKm float64
}

// NewDropService creates a DropService.
func NewDropService(deps DropDeps, opts ...DropOption) (*DropService, error) {
	if deps.Drops == nil || deps.Shares == nil || deps.Users == nil || deps.Friends == nil {
		return nil, fmt.Errorf("drop service: repositories are required")
	}
	if deps.Publisher == nil || deps.Notifier == nil {
		return nil, fmt.Errorf("drop service: publisher and notifier are required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	s := &DropService{
		drops:          deps.Drops,
		shares:         deps.Shares,
		users:          deps.Users,
		friends:        deps.Friends,
		publisher:      deps.Publisher,
		notifier:       deps.Notifier,
		logger:         deps.Logger,
		now:            func() time.Time { return time.Now().UTC() },
		distance:       Distance,
		nearbyRadiusKm: DefaultNearbyRadiusKm,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// CreateDrop stores a new drop and shares it with every requested recipient
// that is an accepted friend of the owner. Other recipient IDs are dropped
// silently. The owner view of the new drop is returned.
func (s *DropService) CreateDrop(ctx context.Context, ownerID string, in NewDrop) (*DropView, error) {
	in.Title = strings.TrimSpace(in.Title)
	in.Kind = strings.TrimSpace(in.Kind)
	if in.Title == "" || in.Kind == "" || in.Body == "" {
		return nil, fmt.Errorf("%w: type, title and content are required", ErrInvalidInput)
	}

	loc, err := ParseLocation(in.Location)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidLocation, err)
	}

	recipients, err := s.friendRecipients(ctx, ownerID, in.RecipientIDs)
	if err != nil {
		return nil, err
	}

	drop := &Drop{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		Kind:      in.Kind,
		Title:     in.Title,
		Body:      in.Body,
		Location:  loc.String(),
		CreatedAt: s.now(),
	}
	created, err := s.drops.CreateDropWithShares(ctx, drop, recipients)
	if err != nil {
		return nil, fmt.Errorf("create drop: %w", err)
	}

	s.logger.Info("drop created", "drop_id", drop.ID, "owner_id", ownerID, "recipients", len(created))

	creator := s.creatorView(ctx, ownerID)
	for _, sh := range created {
		s.announceShare(drop, sh, creator.Name)
	}

	view := FormatDrop(drop, recipientIDs(created), nil, true)
	view.Creator = &creator
	return &view, nil
}

// AddRecipients shares an existing drop with more friends. Recipients who
// already hold a share are left untouched; only newly shared recipients are
// returned and notified.
func (s *DropService) AddRecipients(ctx context.Context, ownerID, dropID string, candidateIDs []string) ([]string, error) {
	drop, err := s.drops.GetDrop(ctx, dropID)
	if err != nil {
		return nil, err
	}
	if drop.OwnerID != ownerID {
		return nil, ErrForbidden
	}

	recipients, err := s.friendRecipients(ctx, ownerID, candidateIDs)
	if err != nil {
		return nil, err
	}
	if len(recipients) == 0 {
		return []string{}, nil
	}

	created, err := retryOnce(ctx, func() ([]Share, error) {
		return s.shares.CreateShares(ctx, dropID, recipients)
	})
	if err != nil {
		return nil, fmt.Errorf("create shares: %w", err)
	}

	creator := s.creatorView(ctx, ownerID)
	for _, sh := range created {
		s.announceShare(drop, sh, creator.Name)
	}
	return recipientIDs(created), nil
}

// DeleteDrop removes a drop owned by the caller together with its shares.
func (s *DropService) DeleteDrop(ctx context.Context, viewerID, dropID string) error {
	drop, err := s.drops.GetDrop(ctx, dropID)
	if err != nil {
		return err
	}
	if drop.OwnerID != viewerID {
		return ErrForbidden
	}
	if err := s.drops.DeleteDrop(ctx, dropID); err != nil {
		return fmt.Errorf("delete drop: %w", err)
	}
	s.logger.Info("drop deleted", "drop_id", dropID)
	return nil
}

// GetDrop returns the viewer's projection of a single drop. Viewers that are
// neither owner nor recipient get ErrForbidden.
func (s *DropService) GetDrop(ctx context.Context, viewerID, dropID string) (*DropView, error) {
	drop, share, err := s.resolve(ctx, viewerID, dropID)
	if err != nil {
		return nil, err
	}
	view, err := s.view(ctx, drop, share, drop.OwnerID == viewerID)
	if err != nil {
		return nil, err
	}
	return &view, nil
}

// ListMine returns the viewer's own drops.
func (s *DropService) ListMine(ctx context.Context, viewerID string) ([]DropView, error) {
	drops, err := s.drops.ListDropsByOwner(ctx, viewerID)
	if err != nil {
		return nil, fmt.Errorf("list own drops: %w", err)
	}
	return s.viewList(ctx, viewerID, drops)
}

// ListShared returns drops shared with the viewer.
func (s *DropService) ListShared(ctx context.Context, viewerID string) ([]DropView, error) {
	shared, err := s.drops.ListDropsSharedWith(ctx, viewerID)
	if err != nil {
		return nil, fmt.Errorf("list shared drops: %w", err)
	}

	drops := make([]Drop, len(shared))
	for i, sd := range shared {
		drops[i] = sd.Drop
	}
	return s.viewList(ctx, viewerID, drops)
}

// ListNearby returns drops the viewer owns or was shared that lie within
// radiusKm of center. A non-positive radius uses the service default. Drops
// with corrupt stored locations are skipped.
func (s *DropService) ListNearby(ctx context.Context, viewerID string, center Coordinate, radiusKm float64) ([]DropView, error) {
	if !center.Valid() {
		return nil, ErrInvalidLocation
	}
	if radiusKm <= 0 {
		radiusKm = s.nearbyRadiusKm
	}

	visible, err := s.drops.ListDropsVisibleTo(ctx, viewerID)
	if err != nil {
		return nil, fmt.Errorf("list visible drops: %w", err)
	}

	nearby := make([]Drop, 0, len(visible))
	for _, d := range visible {
		c, err := d.Coordinate()
		if err != nil {
			s.logger.Warn("skipping drop with invalid stored location", "drop_id", d.ID, "location", d.Location)
			continue
		}
		if s.distance(center, c) <= radiusKm {
			nearby = append(nearby, d)
		}
	}
	return s.viewList(ctx, viewerID, nearby)
}

// resolve loads a drop and the viewer's share. The share is nil for the
// owner.
func (s *DropService) resolve(ctx context.Context, viewerID, dropID string) (*Drop, *Share, error) {
	drop, err := s.drops.GetDrop(ctx, dropID)
	if err != nil {
		return nil, nil, err
	}
	if drop.OwnerID == viewerID {
		return drop, nil, nil
	}

	share, err := s.shares.GetShare(ctx, dropID, viewerID)
	if errors.Is(err, ErrNotFound) {
		return nil, nil, ErrForbidden
	}
	if err != nil {
		return nil, nil, fmt.Errorf("get share: %w", err)
	}
	return drop, share, nil
}

func (s *DropService) view(ctx context.Context, drop *Drop, share *Share, isOwner bool) (DropView, error) {
	recipients, err := s.drops.RecipientsForDrops(ctx, []string{drop.ID})
	if err != nil {
		return DropView{}, fmt.Errorf("load recipients: %w", err)
	}
	view := FormatDrop(drop, recipients[drop.ID], share, isOwner)
	creator := s.creatorView(ctx, drop.OwnerID)
	view.Creator = &creator
	return view, nil
}

// viewList formats a list of drops for the viewer. Share state is read in
// one batch so every item gets the same redaction rules as GetDrop.
func (s *DropService) viewList(ctx context.Context, viewerID string, drops []Drop) ([]DropView, error) {
	views := make([]DropView, 0, len(drops))
	if len(drops) == 0 {
		return views, nil
	}

	ids := make([]string, len(drops))
	for i, d := range drops {
		ids[i] = d.ID
	}
	recipients, err := s.drops.RecipientsForDrops(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load recipients: %w", err)
	}
	shares, err := s.shares.SharesForViewer(ctx, viewerID, ids)
	if err != nil {
		return nil, fmt.Errorf("load viewer shares: %w", err)
	}

	creators := make(map[string]CreatorView)
	for i := range drops {
		d := &drops[i]
		isOwner := d.OwnerID == viewerID

		var share *Share
		if sh, ok := shares[d.ID]; ok {
			share = &sh
		} else if !isOwner {
			continue
		}

		view := FormatDrop(d, recipients[d.ID], share, isOwner)
		creator, ok := creators[d.OwnerID]
		if !ok {
			creator = s.creatorView(ctx, d.OwnerID)
			creators[d.OwnerID] = creator
		}
		view.Creator = &creator
		views = append(views, view)
	}
	return views, nil
}

func (s *DropService) creatorView(ctx context.Context, userID string) CreatorView {
	u, err := s.users.GetUser(ctx, userID)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.logger.Warn("failed to load user profile", "user_id", userID, "error", err)
		}
		return CreatorView{ID: userID, Name: fallbackUserName}
	}
	name := u.DisplayName
	if name == "" {
		name = fallbackUserName
	}
	return CreatorView{ID: u.ID, Name: name, AvatarURL: u.AvatarURL}
}

// friendRecipients dedupes candidates and keeps only accepted friends of the
// owner. The owner is never a recipient of their own drop.
func (s *DropService) friendRecipients(ctx context.Context, ownerID string, candidates []string) ([]string, error) {
	seen := make(map[string]struct{}, len(candidates))
	result := make([]string, 0, len(candidates))
	for _, id := range candidates {
		id = strings.TrimSpace(id)
		if id == "" || id == ownerID {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		ok, err := s.friends.IsFriend(ctx, ownerID, id)
		if err != nil {
			return nil, fmt.Errorf("check friendship: %w", err)
		}
		if !ok {
			s.logger.Debug("dropping non-friend recipient", "owner_id", ownerID, "recipient_id", id)
			continue
		}
		result = append(result, id)
	}
	return result, nil
}

func (s *DropService) announceShare(drop *Drop, share Share, senderName string) {
	s.publisher.Publish(UserTopic(share.RecipientID), EventDropShared, map[string]any{
		"dropId":   drop.ID,
		"title":    drop.Title,
		"senderId": drop.OwnerID,
	})
	s.notifier.Notify(share.RecipientID, Notification{
		Category: CategoryDropShared,
		Data: map[string]string{
			"dropId":     drop.ID,
			"dropTitle":  drop.Title,
			"senderId":   drop.OwnerID,
			"senderName": senderName,
			"action":     "viewDrop",
		},
	})
}

func recipientIDs(shares []Share) []string {
	ids := make([]string, len(shares))
	for i, sh := range shares {
		ids[i] = sh.RecipientID
	}
	return ids
}

// retryOnce runs op and repeats it a single time on failure. Only
// idempotent operations may use it.
func retryOnce[T any](ctx context.Context, op func() (T, error)) (T, error) {
	v, err := op()
	if err == nil || ctx.Err() != nil {
		return v, err
	}
	return op()
}
