package repo

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/ghostzpy/truco-server/internal/notification/entity"
)

const pgForeignKeyViolation = "23503"

// ErrUnknownAccount is returned when a notice targets a missing account.
var ErrUnknownAccount = errors.New("unknown account")

// Repo is the notifications repository backed by PostgreSQL.
type Repo struct {
	db *sqlx.DB
}

func NewRepo(db *sqlx.DB) *Repo {
	return &Repo{db: db}
}

// EnsureTable creates the notifications table and its index when missing.
// Must run after the accounts table exists.
func (r *Repo) EnsureTable(ctx context.Context) error {
	var tblName sql.NullString
	if err := r.db.QueryRowContext(ctx, "SELECT to_regclass('public.notifications')").Scan(&tblName); err != nil {
		return err
	}
	if !tblName.Valid {
		createTable := `CREATE TABLE notifications (
			id varchar(32) PRIMARY KEY,
			account_id TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
			title TEXT NOT NULL,
			description TEXT NOT NULL,
			type varchar(16) NOT NULL CHECK (type IN ('normal', 'alert', 'blue', 'red')),
			date_created TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			expired_date TIMESTAMPTZ
		)`
		if _, err := r.db.ExecContext(ctx, createTable); err != nil {
			return err
		}
	}

	var idxName sql.NullString
	if err := r.db.QueryRowContext(ctx, "SELECT to_regclass('public.idx_notifications_account_id')").Scan(&idxName); err != nil {
		return err
	}
	if !idxName.Valid {
		createIndex := `CREATE INDEX idx_notifications_account_id ON notifications (account_id, date_created DESC)`
		if _, err := r.db.ExecContext(ctx, createIndex); err != nil {
			return err
		}
	}
	return nil
}

func (r *Repo) Create(ctx context.Context, n *entity.Notification) error {
	const q = `INSERT INTO notifications (id, account_id, title, description, type, date_created, expired_date)
		VALUES (:id, :account_id, :title, :description, :type, :date_created, :expired_date)`
	if _, err := r.db.NamedExecContext(ctx, q, n); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == pgForeignKeyViolation {
			return ErrUnknownAccount
		}
		return err
	}
	return nil
}

// ListActive returns the notices of accountID that have not expired at now,
// newest first.
func (r *Repo) ListActive(ctx context.Context, accountID string, now time.Time) ([]*entity.Notification, error) {
	const q = `SELECT id, account_id, title, description, type, date_created, expired_date
		FROM notifications
		WHERE account_id = $1 AND (expired_date IS NULL OR expired_date > $2)
		ORDER BY date_created DESC`
	out := []*entity.Notification{}
	if err := r.db.SelectContext(ctx, &out, q, accountID, now); err != nil {
		return nil, err
	}
	return out, nil
}

// Delete removes a notice and returns the number of rows deleted.
func (r *Repo) Delete(ctx context.Context, id string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM notifications WHERE id = $1`, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
