package postgres

import (
	"context"
	"time"

	"github.com/dairyops/dairyhub/internal/domain/passwordreset"
	"github.com/dairyops/dairyhub/internal/observability"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ResetTokensRepo is the durable single-use ledger for password reset
// tokens, used when no Redis is configured.
type ResetTokensRepo struct {
	pool *pgxpool.Pool
	prom *observability.Prom
	now  func() time.Time
}

func NewResetTokensRepo(pool *pgxpool.Pool, prom *observability.Prom) *ResetTokensRepo {
	return &ResetTokensRepo{pool: pool, prom: prom, now: time.Now}
}

func (r *ResetTokensRepo) observe(op string, fn func() error) error {
	return r.prom.ObserveDB(op, fn)
}

func (r *ResetTokensRepo) Record(ctx context.Context, jti, userID string, expiresAt time.Time) error {
	return r.observe("reset_tokens.record", func() error {
		_, err := r.pool.Exec(ctx, `
		INSERT INTO password_reset_tokens (jti, user_id, expires_at, created_at)
		VALUES ($1,$2,$3,$4)
	`, jti, userID, expiresAt.UTC(), r.now().UTC())
		return err
	})
}

// Consume marks the token used in a single conditional UPDATE, so two
// concurrent confirms for the same jti cannot both succeed.
func (r *ResetTokensRepo) Consume(ctx context.Context, jti, userID string) error {
	var affected int64
	err := r.observe("reset_tokens.consume", func() error {
		tag, e := r.pool.Exec(ctx, `
		UPDATE password_reset_tokens
		SET used_at = $3
		WHERE jti = $1 AND user_id = $2 AND used_at IS NULL AND expires_at > $3
	`, jti, userID, r.now().UTC())
		affected = tag.RowsAffected()
		return e
	})
	if err != nil {
		return err
	}
	if affected == 0 {
		return passwordreset.ErrTokenUnknown
	}
	return nil
}

// DeleteExpired prunes rows past their expiry. Returns the number removed.
func (r *ResetTokensRepo) DeleteExpired(ctx context.Context) (int64, error) {
	var n int64
	err := r.observe("reset_tokens.delete_expired", func() error {
		tag, e := r.pool.Exec(ctx, `DELETE FROM password_reset_tokens WHERE expires_at <= $1`, r.now().UTC())
		n = tag.RowsAffected()
		return e
	})
	return n, err
}
