package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/blackmichael/drops-backend/internal/domain"
	"github.com/jmoiron/sqlx"
)

const shareColumns = `id, drop_id, recipient_id, locked, created_at, unlocked_at, last_checked_at`

type shareRow struct {
	ID            string       `db:"id"`
	DropID        string       `db:"drop_id"`
	RecipientID   string       `db:"recipient_id"`
	Locked        bool         `db:"locked"`
	CreatedAt     time.Time    `db:"created_at"`
	UnlockedAt    sql.NullTime `db:"unlocked_at"`
	LastCheckedAt sql.NullTime `db:"last_checked_at"`
}

func (r shareRow) toDomain() domain.Share {
	sh := domain.Share{
		ID:          r.ID,
		DropID:      r.DropID,
		RecipientID: r.RecipientID,
		Locked:      r.Locked,
		CreatedAt:   r.CreatedAt.UTC(),
	}
	if r.UnlockedAt.Valid {
		t := r.UnlockedAt.Time.UTC()
		sh.UnlockedAt = &t
	}
	if r.LastCheckedAt.Valid {
		t := r.LastCheckedAt.Time.UTC()
		sh.LastCheckedAt = &t
	}
	return sh
}

// CreateShares adds locked shares for recipients that do not have one yet.
func (s *Store) CreateShares(ctx context.Context, dropID string, recipientIDs []string) ([]domain.Share, error) {
	var created []domain.Share
	err := s.execTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		created, err = insertShares(ctx, tx, dropID, recipientIDs, time.Now())
		return err
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// GetShare retrieves the share for a (drop, recipient) pair.
func (s *Store) GetShare(ctx context.Context, dropID, recipientID string) (*domain.Share, error) {
	var row shareRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(`
		SELECT `+shareColumns+`
		FROM shares
		WHERE drop_id = ? AND recipient_id = ?`), dropID, recipientID)
	if err != nil {
		return nil, translateError(err)
	}
	sh := row.toDomain()
	return &sh, nil
}

// SharesForViewer returns the viewer's shares for the given drops keyed by
// drop ID.
func (s *Store) SharesForViewer(ctx context.Context, viewerID string, dropIDs []string) (map[string]domain.Share, error) {
	out := make(map[string]domain.Share, len(dropIDs))
	if len(dropIDs) == 0 {
		return out, nil
	}

	query, args, err := sqlx.In(`
		SELECT `+shareColumns+`
		FROM shares
		WHERE recipient_id = ? AND drop_id IN (?)`, viewerID, dropIDs)
	if err != nil {
		return nil, fmt.Errorf("build shares query: %w", err)
	}

	var rows []shareRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("query viewer shares: %w", err)
	}
	for _, r := range rows {
		out[r.DropID] = r.toDomain()
	}
	return out, nil
}

// SetUnlocked flips a locked share to unlocked. The WHERE clause makes the
// transition a compare-and-set: of any number of concurrent callers exactly
// one sees a changed row.
func (s *Store) SetUnlocked(ctx context.Context, shareID string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE shares
		SET locked = FALSE, unlocked_at = ?
		WHERE id = ? AND locked = TRUE`), at.UTC(), shareID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

// TouchLastChecked records the time of an unlock attempt.
func (s *Store) TouchLastChecked(ctx context.Context, shareID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`UPDATE shares SET last_checked_at = ? WHERE id = ?`), at.UTC(), shareID)
	return err
}
