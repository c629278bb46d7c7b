package postgres

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/dairyops/dairyhub/internal/db"
	"github.com/dairyops/dairyhub/internal/domain/passwordreset"
	"github.com/dairyops/dairyhub/internal/domain/user"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	dsn := os.Getenv("TEST_DB_DSN")
	if dsn == "" {
		t.Skip("TEST_DB_DSN not set; skipping postgres integration test")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, db.ApplySchema(ctx, pool))

	_, err = pool.Exec(ctx, `TRUNCATE password_reset_tokens, users CASCADE`)
	require.NoError(t, err)

	return pool
}

func TestIsUniqueViolation(t *testing.T) {
	err := &pgconn.PgError{Code: "23505", ConstraintName: "users_email_key"}

	assert.True(t, IsUniqueViolation(err, ""))
	assert.True(t, IsUniqueViolation(err, "users_email_key"))
	assert.False(t, IsUniqueViolation(err, "other_key"))
	assert.False(t, IsUniqueViolation(&pgconn.PgError{Code: "40001"}, ""))
	assert.False(t, IsUniqueViolation(errors.New("boom"), ""))
}

func TestUsersRepo_CreateAndGet(t *testing.T) {
	pool := setupPool(t)
	repo := NewUsersRepo(pool, nil)
	ctx := context.Background()

	created, err := repo.Create(ctx, "Jane Farmer", "jane@example.com", "hash", user.RoleUser)
	require.NoError(t, err)

	byEmail, err := repo.GetByEmail(ctx, "jane@example.com")
	require.NoError(t, err)
	assert.Equal(t, created.ID, byEmail.ID)
	assert.Equal(t, "hash", byEmail.PasswordHash)

	byID, err := repo.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, user.RoleUser, byID.Role)

	_, err = repo.GetByID(ctx, uuid.NewString())
	assert.ErrorIs(t, err, user.ErrNotFound)

	_, err = repo.GetByID(ctx, "not-a-uuid")
	assert.ErrorIs(t, err, user.ErrNotFound)
}

func TestUsersRepo_ConcurrentDuplicateEmail(t *testing.T) {
	pool := setupPool(t)
	repo := NewUsersRepo(pool, nil)
	ctx := context.Background()

	const n = 8
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		ok    int
		taken int
	)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.Create(ctx, "Dup", "dup@example.com", "hash", user.RoleUser)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, user.ErrEmailTaken):
				taken++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, ok)
	assert.Equal(t, n-1, taken)
}

func TestUsersRepo_Updates(t *testing.T) {
	pool := setupPool(t)
	repo := NewUsersRepo(pool, nil)
	ctx := context.Background()

	u, err := repo.Create(ctx, "Old Name", "upd@example.com", "old-hash", user.RoleUser)
	require.NoError(t, err)

	updated, err := repo.UpdateName(ctx, u.ID, "New Name")
	require.NoError(t, err)
	assert.Equal(t, "New Name", updated.Name)
	assert.Equal(t, u.Email, updated.Email)

	require.NoError(t, repo.UpdatePassword(ctx, u.ID, "new-hash"))
	got, err := repo.GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "new-hash", got.PasswordHash)

	assert.ErrorIs(t, repo.UpdatePassword(ctx, uuid.NewString(), "x"), user.ErrNotFound)
	_, err = repo.UpdateName(ctx, uuid.NewString(), "x")
	assert.ErrorIs(t, err, user.ErrNotFound)
}

func TestResetTokensRepo_SingleUse(t *testing.T) {
	pool := setupPool(t)
	users := NewUsersRepo(pool, nil)
	ledger := NewResetTokensRepo(pool, nil)
	ctx := context.Background()

	u, err := users.Create(ctx, "Reset", "reset@example.com", "hash", user.RoleUser)
	require.NoError(t, err)

	jti := uuid.NewString()
	require.NoError(t, ledger.Record(ctx, jti, u.ID, time.Now().Add(time.Hour)))

	other, err := users.Create(ctx, "Other", "other@example.com", "hash", user.RoleUser)
	require.NoError(t, err)
	assert.ErrorIs(t, ledger.Consume(ctx, jti, other.ID), passwordreset.ErrTokenUnknown)

	require.NoError(t, ledger.Consume(ctx, jti, u.ID))
	assert.ErrorIs(t, ledger.Consume(ctx, jti, u.ID), passwordreset.ErrTokenUnknown)

	expired := uuid.NewString()
	require.NoError(t, ledger.Record(ctx, expired, u.ID, time.Now().Add(-time.Minute)))
	assert.ErrorIs(t, ledger.Consume(ctx, expired, u.ID), passwordreset.ErrTokenUnknown)

	n, err := ledger.DeleteExpired(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}
