package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/blackmichael/drops-backend/internal/domain"
)

const (
	friendshipPending  = "pending"
	friendshipAccepted = "accepted"
)

type userRow struct {
	ID          string    `db:"id"`
	DisplayName string    `db:"display_name"`
	AvatarURL   string    `db:"avatar_url"`
	CreatedAt   time.Time `db:"created_at"`
}

// GetUser retrieves a profile by ID.
func (s *Store) GetUser(ctx context.Context, id string) (*domain.User, error) {
	var row userRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(`
		SELECT id, display_name, avatar_url, created_at
		FROM users
		WHERE id = ?`), id)
	if err != nil {
		return nil, translateError(err)
	}
	return &domain.User{
		ID:          row.ID,
		DisplayName: row.DisplayName,
		AvatarURL:   row.AvatarURL,
		CreatedAt:   row.CreatedAt.UTC(),
	}, nil
}

// UpsertUser creates a profile or updates its display fields.
func (s *Store) UpsertUser(ctx context.Context, u *domain.User) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO users (id, display_name, avatar_url, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE
		SET display_name = excluded.display_name, avatar_url = excluded.avatar_url`),
		u.ID, u.DisplayName, u.AvatarURL, u.CreatedAt.UTC(),
	)
	return err
}

// IsFriend reports whether a and b have an accepted friendship in either
// direction.
func (s *Store) IsFriend(ctx context.Context, a, b string) (bool, error) {
	var n int
	err := s.db.GetContext(ctx, &n, s.db.Rebind(`
		SELECT COUNT(*)
		FROM friendships
		WHERE status = ?
			AND ((requester_id = ? AND addressee_id = ?) OR (requester_id = ? AND addressee_id = ?))`),
		friendshipAccepted, a, b, b, a,
	)
	if err != nil {
		return false, fmt.Errorf("query friendship: %w", err)
	}
	return n > 0, nil
}

// RequestFriend records a pending request and reports whether a row was
// inserted. Repeated requests are ignored.
func (s *Store) RequestFriend(ctx context.Context, requesterID, addresseeID string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO friendships (requester_id, addressee_id, status, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (requester_id, addressee_id) DO NOTHING`),
		requesterID, addresseeID, friendshipPending, at.UTC(),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// AcceptFriend accepts a pending request from requester to addressee.
func (s *Store) AcceptFriend(ctx context.Context, requesterID, addresseeID string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE friendships
		SET status = ?, accepted_at = ?
		WHERE requester_id = ? AND addressee_id = ? AND status = ?`),
		friendshipAccepted, at.UTC(), requesterID, addresseeID, friendshipPending,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// DeleteRequest removes a pending request between a and b in either
// direction.
func (s *Store) DeleteRequest(ctx context.Context, a, b string) error {
	return s.deleteFriendship(ctx, friendshipPending, a, b)
}

// RemoveFriend removes an accepted friendship between a and b.
func (s *Store) RemoveFriend(ctx context.Context, a, b string) error {
	return s.deleteFriendship(ctx, friendshipAccepted, a, b)
}

func (s *Store) deleteFriendship(ctx context.Context, status, a, b string) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`
		DELETE FROM friendships
		WHERE status = ?
			AND ((requester_id = ? AND addressee_id = ?) OR (requester_id = ? AND addressee_id = ?))`),
		status, a, b, b, a,
	)
	if err != nil {
		return fmt.Errorf("delete friendship: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListFriendRequests returns pending requests addressed to the user, oldest
// first.
func (s *Store) ListFriendRequests(ctx context.Context, addresseeID string) ([]domain.FriendRequest, error) {
	var rows []struct {
		RequesterID   string         `db:"requester_id"`
		RequestedAt   time.Time      `db:"requested_at"`
		DisplayName   sql.NullString `db:"display_name"`
		AvatarURL     sql.NullString `db:"avatar_url"`
		UserCreatedAt sql.NullTime   `db:"user_created_at"`
	}
	err := s.db.SelectContext(ctx, &rows, s.db.Rebind(`
		SELECT f.requester_id, f.created_at AS requested_at,
			u.display_name, u.avatar_url, u.created_at AS user_created_at
		FROM friendships f
		LEFT JOIN users u ON u.id = f.requester_id
		WHERE f.addressee_id = ? AND f.status = ?
		ORDER BY f.created_at, f.requester_id`),
		addresseeID, friendshipPending,
	)
	if err != nil {
		return nil, fmt.Errorf("query friend requests: %w", err)
	}

	requests := make([]domain.FriendRequest, len(rows))
	for i, r := range rows {
		requests[i] = domain.FriendRequest{
			Requester: domain.User{
				ID:          r.RequesterID,
				DisplayName: r.DisplayName.String,
				AvatarURL:   r.AvatarURL.String,
			},
			CreatedAt: r.RequestedAt.UTC(),
		}
		if r.UserCreatedAt.Valid {
			requests[i].Requester.CreatedAt = r.UserCreatedAt.Time.UTC()
		}
	}
	return requests, nil
}

// ListFriends returns accepted friends of the user. Friends without a
// profile are returned with their ID only.
func (s *Store) ListFriends(ctx context.Context, userID string) ([]domain.User, error) {
	var rows []struct {
		FriendID    string         `db:"friend_id"`
		DisplayName sql.NullString `db:"display_name"`
		AvatarURL   sql.NullString `db:"avatar_url"`
		CreatedAt   sql.NullTime   `db:"created_at"`
	}
	err := s.db.SelectContext(ctx, &rows, s.db.Rebind(`
		SELECT f.friend_id, u.display_name, u.avatar_url, u.created_at
		FROM (
			SELECT addressee_id AS friend_id FROM friendships WHERE requester_id = ? AND status = ?
			UNION
			SELECT requester_id AS friend_id FROM friendships WHERE addressee_id = ? AND status = ?
		) f
		LEFT JOIN users u ON u.id = f.friend_id
		ORDER BY f.friend_id`),
		userID, friendshipAccepted, userID, friendshipAccepted,
	)
	if err != nil {
		return nil, fmt.Errorf("query friends: %w", err)
	}

	friends := make([]domain.User, len(rows))
	for i, r := range rows {
		friends[i] = domain.User{
			ID:          r.FriendID,
			DisplayName: r.DisplayName.String,
			AvatarURL:   r.AvatarURL.String,
		}
		if r.CreatedAt.Valid {
			friends[i].CreatedAt = r.CreatedAt.Time.UTC()
		}
	}
	return friends, nil
}
