package repo

import (
	"context"

	"github.com/jmoiron/sqlx"
)

// Row is one ranked account as read from the accounts table.
type Row struct {
	Username string `db:"username"`
	Name     string `db:"name"`
	Points   int64  `db:"points"`
}

// LeaderboardRepo reads rankings from the accounts table. It relies on the
// idx_accounts_points index created with that table.
type LeaderboardRepo struct {
	db *sqlx.DB
}

func NewLeaderboardRepo(db *sqlx.DB) *LeaderboardRepo {
	return &LeaderboardRepo{db: db}
}

// Top returns up to limit accounts ordered by points, ties broken by username.
func (r *LeaderboardRepo) Top(ctx context.Context, limit int) ([]Row, error) {
	const q = `SELECT username, name, points FROM accounts
		ORDER BY points DESC, lower(username) ASC
		LIMIT $1`
	out := []Row{}
	if err := r.db.SelectContext(ctx, &out, q, limit); err != nil {
		return nil, err
	}
	return out, nil
}
