package db

import (
	"context"
	"errors"
	"log/slog"

	"github.com/dairyops/dairyhub/internal/config"
	"github.com/dairyops/dairyhub/internal/domain/user"
	"github.com/dairyops/dairyhub/internal/security"
)

// EnsureAdminUser creates the configured bootstrap admin if its email is
// not taken yet. It goes through the store's atomic Create, so two
// instances starting together cannot both insert it.
func EnsureAdminUser(ctx context.Context, store user.Store, hasher *security.Hasher, cfg config.Config, log *slog.Logger) error {
	if cfg.AdminEmail == "" || cfg.AdminPassword == "" {
		return nil
	}

	hash, err := hasher.Hash(cfg.AdminPassword)

	if err != nil {
		return err
	}

	_, err = store.Create(ctx, cfg.AdminName, cfg.AdminEmail, hash, user.RoleAdmin)

	if errors.Is(err, user.ErrEmailTaken) {
		log.Debug("admin user already present", "email", cfg.AdminEmail)
		return nil
	}

	if err != nil {
		return err
	}

	log.Info("admin user created", "email", cfg.AdminEmail)
	return nil
}
