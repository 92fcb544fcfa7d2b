package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/blackmichael/drops-backend/internal/domain"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

const dropColumns = `d.id, d.owner_id, d.kind, d.title, d.body, d.location, d.created_at`

type dropRow struct {
	ID        string    `db:"id"`
	OwnerID   string    `db:"owner_id"`
	Kind      string    `db:"kind"`
	Title     string    `db:"title"`
	Body      string    `db:"body"`
	Location  string    `db:"location"`
	CreatedAt time.Time `db:"created_at"`
}

func (r dropRow) toDomain() domain.Drop {
	return domain.Drop{
		ID:        r.ID,
		OwnerID:   r.OwnerID,
		Kind:      r.Kind,
		Title:     r.Title,
		Body:      r.Body,
		Location:  r.Location,
		CreatedAt: r.CreatedAt.UTC(),
	}
}

type sharedDropRow struct {
	dropRow
	ShareID        string       `db:"share_id"`
	Locked         bool         `db:"locked"`
	ShareCreatedAt time.Time    `db:"share_created_at"`
	UnlockedAt     sql.NullTime `db:"unlocked_at"`
	LastCheckedAt  sql.NullTime `db:"last_checked_at"`
}

// CreateDropWithShares inserts the drop and its initial locked shares in one
// transaction.
func (s *Store) CreateDropWithShares(ctx context.Context, drop *domain.Drop, recipientIDs []string) ([]domain.Share, error) {
	var created []domain.Share
	err := s.execTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, tx.Rebind(`
			INSERT INTO drops (id, owner_id, kind, title, body, location, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`),
			drop.ID, drop.OwnerID, drop.Kind, drop.Title, drop.Body, drop.Location, drop.CreatedAt.UTC(),
		)
		if err != nil {
			return fmt.Errorf("insert drop: %w", translateError(err))
		}

		created, err = insertShares(ctx, tx, drop.ID, recipientIDs, drop.CreatedAt)
		return err
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// insertShares creates a locked share per recipient, skipping pairs that
// already exist. Only newly inserted shares are returned.
func insertShares(ctx context.Context, tx *sqlx.Tx, dropID string, recipientIDs []string, at time.Time) ([]domain.Share, error) {
	query := tx.Rebind(`
		INSERT INTO shares (id, drop_id, recipient_id, locked, created_at)
		VALUES (?, ?, ?, TRUE, ?)
		ON CONFLICT (drop_id, recipient_id) DO NOTHING`)

	created := make([]domain.Share, 0, len(recipientIDs))
	for _, recipientID := range recipientIDs {
		share := domain.Share{
			ID:          uuid.NewString(),
			DropID:      dropID,
			RecipientID: recipientID,
			Locked:      true,
			CreatedAt:   at.UTC(),
		}
		res, err := tx.ExecContext(ctx, query, share.ID, share.DropID, share.RecipientID, share.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("insert share for %s: %w", recipientID, translateError(err))
		}
		if n, _ := res.RowsAffected(); n == 1 {
			created = append(created, share)
		}
	}
	return created, nil
}

// GetDrop retrieves a drop by ID.
func (s *Store) GetDrop(ctx context.Context, id string) (*domain.Drop, error) {
	var row dropRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(`SELECT `+dropColumns+` FROM drops d WHERE d.id = ?`), id)
	if err != nil {
		return nil, translateError(err)
	}
	d := row.toDomain()
	return &d, nil
}

// DeleteDrop removes a drop and its shares.
func (s *Store) DeleteDrop(ctx context.Context, id string) error {
	return s.execTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM shares WHERE drop_id = ?`), id); err != nil {
			return fmt.Errorf("delete shares: %w", err)
		}
		res, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM drops WHERE id = ?`), id)
		if err != nil {
			return fmt.Errorf("delete drop: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return domain.ErrNotFound
		}
		return nil
	})
}

// ListDropsByOwner returns the owner's drops, newest first.
func (s *Store) ListDropsByOwner(ctx context.Context, ownerID string) ([]domain.Drop, error) {
	var rows []dropRow
	err := s.db.SelectContext(ctx, &rows, s.db.Rebind(`
		SELECT `+dropColumns+`
		FROM drops d
		WHERE d.owner_id = ?
		ORDER BY d.created_at DESC, d.id`), ownerID)
	if err != nil {
		return nil, fmt.Errorf("query drops by owner: %w", err)
	}
	return toDrops(rows), nil
}

// ListDropsSharedWith returns drops shared with the recipient joined with
// the recipient's share, newest share first.
func (s *Store) ListDropsSharedWith(ctx context.Context, recipientID string) ([]domain.SharedDrop, error) {
	var rows []sharedDropRow
	err := s.db.SelectContext(ctx, &rows, s.db.Rebind(`
		SELECT `+dropColumns+`,
			s.id AS share_id, s.locked, s.created_at AS share_created_at,
			s.unlocked_at, s.last_checked_at
		FROM shares s
		JOIN drops d ON d.id = s.drop_id
		WHERE s.recipient_id = ?
		ORDER BY s.created_at DESC, d.id`), recipientID)
	if err != nil {
		return nil, fmt.Errorf("query shared drops: %w", err)
	}

	out := make([]domain.SharedDrop, len(rows))
	for i, r := range rows {
		out[i] = domain.SharedDrop{
			Drop: r.dropRow.toDomain(),
			Share: shareRow{
				ID:            r.ShareID,
				DropID:        r.dropRow.ID,
				RecipientID:   recipientID,
				Locked:        r.Locked,
				CreatedAt:     r.ShareCreatedAt,
				UnlockedAt:    r.UnlockedAt,
				LastCheckedAt: r.LastCheckedAt,
			}.toDomain(),
		}
	}
	return out, nil
}

// ListDropsVisibleTo returns drops the user owns or has a share for.
func (s *Store) ListDropsVisibleTo(ctx context.Context, userID string) ([]domain.Drop, error) {
	var rows []dropRow
	err := s.db.SelectContext(ctx, &rows, s.db.Rebind(`
		SELECT `+dropColumns+`
		FROM drops d
		WHERE d.owner_id = ?
			OR EXISTS (SELECT 1 FROM shares s WHERE s.drop_id = d.id AND s.recipient_id = ?)
		ORDER BY d.created_at DESC, d.id`), userID, userID)
	if err != nil {
		return nil, fmt.Errorf("query visible drops: %w", err)
	}
	return toDrops(rows), nil
}

// RecipientsForDrops returns the recipient IDs of each drop in share
// creation order.
func (s *Store) RecipientsForDrops(ctx context.Context, dropIDs []string) (map[string][]string, error) {
	out := make(map[string][]string, len(dropIDs))
	if len(dropIDs) == 0 {
		return out, nil
	}

	query, args, err := sqlx.In(`
		SELECT drop_id, recipient_id
		FROM shares
		WHERE drop_id IN (?)
		ORDER BY created_at, recipient_id`, dropIDs)
	if err != nil {
		return nil, fmt.Errorf("build recipients query: %w", err)
	}

	var rows []struct {
		DropID      string `db:"drop_id"`
		RecipientID string `db:"recipient_id"`
	}
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("query recipients: %w", err)
	}
	for _, r := range rows {
		out[r.DropID] = append(out[r.DropID], r.RecipientID)
	}
	return out, nil
}

func toDrops(rows []dropRow) []domain.Drop {
	drops := make([]domain.Drop, len(rows))
	for i, r := range rows {
		drops[i] = r.toDomain()
	}
	return drops
}
