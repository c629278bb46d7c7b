package redisrepo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dairyops/dairyhub/internal/domain/passwordreset"
	"github.com/redis/go-redis/v9"
)

// ResetTokensRepo stores one key per outstanding reset token:
// password_reset:<jti> -> userID, expiring with the token itself.
type ResetTokensRepo struct {
	client *redis.Client
	now    func() time.Time
}

func NewResetTokensRepo(client *redis.Client) *ResetTokensRepo {
	return &ResetTokensRepo{client: client, now: time.Now}
}

func (r *ResetTokensRepo) Record(ctx context.Context, jti, userID string, expiresAt time.Time) error {
	ttl := expiresAt.Sub(r.now())
	if ttl <= 0 {
		return nil
	}

	ok, err := r.client.SetNX(ctx, key(jti), userID, ttl).Result()
	if err != nil {
		return fmt.Errorf("record reset token: %w", err)
	}
	if !ok {
		return fmt.Errorf("record reset token: jti %s already present", jti)
	}
	return nil
}

// Consume deletes the key with GETDEL so exactly one caller observes it.
func (r *ResetTokensRepo) Consume(ctx context.Context, jti, userID string) error {
	owner, err := r.client.GetDel(ctx, key(jti)).Result()
	if errors.Is(err, redis.Nil) {
		return passwordreset.ErrTokenUnknown
	}
	if err != nil {
		return fmt.Errorf("consume reset token: %w", err)
	}

	if owner != userID {
		return passwordreset.ErrTokenUnknown
	}
	return nil
}

func key(jti string) string {
	return passwordreset.KeyPrefix + jti
}
