package sqlstore

import (
	"context"
	"fmt"
	"time"

	"github.com/blackmichael/drops-backend/internal/domain"
)

type deviceRow struct {
	ID        string    `db:"id"`
	UserID    string    `db:"user_id"`
	Token     string    `db:"token"`
	Platform  string    `db:"platform"`
	IsActive  bool      `db:"is_active"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// RegisterDevice upserts a device by token. A token moving to another user
// is reassigned to that user.
func (s *Store) RegisterDevice(ctx context.Context, d *domain.Device) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO devices (id, user_id, token, platform, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, TRUE, ?, ?)
		ON CONFLICT (token) DO UPDATE
		SET user_id = excluded.user_id,
			platform = excluded.platform,
			is_active = TRUE,
			updated_at = excluded.updated_at`),
		d.ID, d.UserID, d.Token, d.Platform, d.CreatedAt.UTC(), d.UpdatedAt.UTC(),
	)
	return err
}

// UnregisterDevice deactivates the user's device with the given token.
func (s *Store) UnregisterDevice(ctx context.Context, userID, token string) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE devices
		SET is_active = FALSE, updated_at = ?
		WHERE user_id = ? AND token = ?`),
		time.Now().UTC(), userID, token,
	)
	return err
}

// ActiveDevices returns the user's active devices.
func (s *Store) ActiveDevices(ctx context.Context, userID string) ([]domain.Device, error) {
	var rows []deviceRow
	err := s.db.SelectContext(ctx, &rows, s.db.Rebind(`
		SELECT id, user_id, token, platform, is_active, created_at, updated_at
		FROM devices
		WHERE user_id = ? AND is_active = TRUE
		ORDER BY updated_at DESC`), userID)
	if err != nil {
		return nil, fmt.Errorf("query devices: %w", err)
	}

	devices := make([]domain.Device, len(rows))
	for i, r := range rows {
		devices[i] = domain.Device{
			ID:        r.ID,
			UserID:    r.UserID,
			Token:     r.Token,
			Platform:  r.Platform,
			IsActive:  r.IsActive,
			CreatedAt: r.CreatedAt.UTC(),
			UpdatedAt: r.UpdatedAt.UTC(),
		}
	}
	return devices, nil
}

// DeactivateDevice marks a device inactive, typically after the push gateway
// reported its token as unregistered.
func (s *Store) DeactivateDevice(ctx context.Context, deviceID string) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE devices SET is_active = FALSE, updated_at = ? WHERE id = ?`),
		time.Now().UTC(), deviceID,
	)
	return err
}

// DeleteInactiveDevices removes devices that have been inactive for longer
// than maxAge. Returns the number of rows deleted.
func (s *Store) DeleteInactiveDevices(ctx context.Context, maxAge time.Duration) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`
		DELETE FROM devices WHERE is_active = FALSE AND updated_at < ?`),
		time.Now().UTC().Add(-maxAge),
	)
	if err != nil {
		return 0, fmt.Errorf("delete inactive devices: %w", err)
	}
	return res.RowsAffected()
}
