package memory

import (
	"context"
	"sync"
	"time"

	"github.com/dairyops/dairyhub/internal/domain/passwordreset"
)

type resetEntry struct {
	userID    string
	expiresAt time.Time
}

// ResetTokensRepo keeps outstanding reset token ids in process memory.
type ResetTokensRepo struct {
	mu    sync.Mutex
	items map[string]resetEntry
	now   func() time.Time
}

func NewResetTokensRepo() *ResetTokensRepo {
	return &ResetTokensRepo{
		items: make(map[string]resetEntry),
		now:   time.Now,
	}
}

func (r *ResetTokensRepo) Record(ctx context.Context, jti, userID string, expiresAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.pruneLocked()
	r.items[jti] = resetEntry{userID: userID, expiresAt: expiresAt}
	return nil
}

func (r *ResetTokensRepo) Consume(ctx context.Context, jti, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.items[jti]
	if !ok || e.userID != userID {
		return passwordreset.ErrTokenUnknown
	}

	delete(r.items, jti)

	if !r.now().Before(e.expiresAt) {
		return passwordreset.ErrTokenUnknown
	}
	return nil
}

func (r *ResetTokensRepo) pruneLocked() {
	now := r.now()
	for k, e := range r.items {
		if !now.Before(e.expiresAt) {
			delete(r.items, k)
		}
	}
}
