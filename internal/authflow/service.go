// Package authflow implements the account flows behind the public auth
// endpoints: registration, login, password reset and profile access.
// Every error it returns is an *apperr.Error.
package authflow

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/dairyops/dairyhub/internal/apperr"
	"github.com/dairyops/dairyhub/internal/auth"
	"github.com/dairyops/dairyhub/internal/cache"
	"github.com/dairyops/dairyhub/internal/domain/passwordreset"
	"github.com/dairyops/dairyhub/internal/domain/user"
	"github.com/dairyops/dairyhub/internal/notifications"
	"github.com/dairyops/dairyhub/internal/security"
)

type PasswordHasher interface {
	Hash(plain string) (string, error)
	Compare(hash, plain string) error
	CompareDummy(plain string)
}

type TokenIssuer interface {
	IssueSession(p auth.Payload) (string, error)
	IssueReset(p auth.Payload) (auth.ResetToken, error)
	VerifyReset(token string) (auth.ResetClaims, error)
}

// ResetLedger tracks outstanding reset token ids so each can be used once.
type ResetLedger interface {
	Record(ctx context.Context, jti, userID string, expiresAt time.Time) error
	Consume(ctx context.Context, jti, userID string) error
}

type Enqueuer interface {
	Enqueue(msg notifications.Message) error
}

type Metrics interface {
	ObserveAuth(op, result string)
}

type Deps struct {
	Users     user.Store
	Hasher    PasswordHasher
	Tokens    TokenIssuer
	Ledger    ResetLedger
	Mailer    notifications.Notifier // synchronous, used for reset mail
	Queue     Enqueuer               // async, used for welcome mail
	Templates notifications.Templates
	Profiles  *cache.Cache[user.User]
	Metrics   Metrics
	Log       *slog.Logger

	// AllowAdminSignup permits role=ADMIN on public registration.
	AllowAdminSignup bool
}

type Service struct {
	users            user.Store
	hasher           PasswordHasher
	tokens           TokenIssuer
	ledger           ResetLedger
	mailer           notifications.Notifier
	queue            Enqueuer
	templates        notifications.Templates
	profiles         *cache.Cache[user.User]
	metrics          Metrics
	log              *slog.Logger
	allowAdminSignup bool
}

func New(d Deps) *Service {
	log := d.Log
	if log == nil {
		log = slog.Default()
	}

	return &Service{
		users:            d.Users,
		hasher:           d.Hasher,
		tokens:           d.Tokens,
		ledger:           d.Ledger,
		mailer:           d.Mailer,
		queue:            d.Queue,
		templates:        d.Templates,
		profiles:         d.Profiles,
		metrics:          d.Metrics,
		log:              log,
		allowAdminSignup: d.AllowAdminSignup,
	}
}

type RegisterInput struct {
	Name     string
	Email    string
	Password string
	Role     user.Role
}

type AuthResult struct {
	User  user.User `json:"user"`
	Token string    `json:"token"`
}

func (s *Service) Register(ctx context.Context, in RegisterInput) (AuthResult, error) {
	role := in.Role
	if role == "" {
		role = user.RoleUser
	}
	if !role.IsValid() {
		return AuthResult{}, fieldError("role", "oneof", "ADMIN USER", "must be one of ADMIN, USER")
	}
	if role == user.RoleAdmin && !s.allowAdminSignup {
		s.observe("register", "admin_refused")
		return AuthResult{}, fieldError("role", "oneof", "USER", "self-registration as ADMIN is not allowed")
	}

	hash, err := s.hashPassword(in.Password)
	if err != nil {
		return AuthResult{}, err
	}

	u, err := s.users.Create(ctx, in.Name, in.Email, hash, role)
	if err != nil {
		if errors.Is(err, user.ErrEmailTaken) {
			s.observe("register", "duplicate_email")
			return AuthResult{}, apperr.New(apperr.KindDuplicateEmail, "")
		}
		return AuthResult{}, apperr.Internal(err)
	}

	token, err := s.tokens.IssueSession(payloadOf(u))
	if err != nil {
		return AuthResult{}, apperr.Internal(err)
	}

	s.enqueueWelcome(ctx, u)
	s.observe("register", "ok")

	return AuthResult{User: u, Token: token}, nil
}

// enqueueWelcome never fails registration; problems are logged only.
func (s *Service) enqueueWelcome(ctx context.Context, u user.User) {
	if s.queue == nil {
		return
	}

	msg, err := s.templates.Welcome(u.Email, u.Name)
	if err == nil {
		err = s.queue.Enqueue(msg)
	}
	if err != nil {
		s.log.WarnContext(ctx, "welcome email not queued", "user_id", u.ID, "err", err)
	}
}

func (s *Service) Login(ctx context.Context, email, password string) (AuthResult, error) {
	u, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			s.hasher.CompareDummy(password)
			s.observe("login", "invalid_credentials")
			return AuthResult{}, apperr.New(apperr.KindInvalidCredentials, "")
		}
		return AuthResult{}, apperr.Internal(err)
	}

	if err := s.hasher.Compare(u.PasswordHash, password); err != nil {
		s.observe("login", "invalid_credentials")
		return AuthResult{}, apperr.New(apperr.KindInvalidCredentials, "")
	}

	token, err := s.tokens.IssueSession(payloadOf(u))
	if err != nil {
		return AuthResult{}, apperr.Internal(err)
	}

	s.observe("login", "ok")
	return AuthResult{User: u, Token: token}, nil
}

// RequestPasswordReset returns nil for unknown emails without sending
// anything, so the response cannot be used to probe for accounts.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	u, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			s.observe("reset_request", "unknown_email")
			return nil
		}
		return apperr.Internal(err)
	}

	rt, err := s.tokens.IssueReset(payloadOf(u))
	if err != nil {
		return apperr.Internal(err)
	}

	if err := s.ledger.Record(ctx, rt.JTI, u.ID, rt.ExpiresAt); err != nil {
		return apperr.Internal(err)
	}

	msg, err := s.templates.PasswordReset(u.Email, rt.Raw)
	if err != nil {
		return apperr.Internal(err)
	}

	if err := s.mailer.Send(ctx, msg); err != nil {
		s.log.ErrorContext(ctx, "password reset email failed", "user_id", u.ID, "err", err)
		s.observe("reset_request", "notification_failed")
		return apperr.Wrap(apperr.KindNotificationFailure, "Failed to send password reset email", err)
	}

	s.observe("reset_request", "sent")
	return nil
}

// ConfirmPasswordReset hashes the new password before burning the token,
// so a rejected password leaves the link usable. Once the token is burned
// a failed update means the user has to request a new link.
func (s *Service) ConfirmPasswordReset(ctx context.Context, token, newPassword string) error {
	claims, err := s.tokens.VerifyReset(token)
	if err != nil {
		s.observe("reset_confirm", "invalid_token")
		return apperr.New(apperr.KindInvalidToken, "")
	}

	hash, err := s.hashPassword(newPassword)
	if err != nil {
		return err
	}

	if err := s.ledger.Consume(ctx, claims.JTI, claims.UserID); err != nil {
		if errors.Is(err, passwordreset.ErrTokenUnknown) {
			s.observe("reset_confirm", "replayed")
			return apperr.New(apperr.KindInvalidToken, "")
		}
		return apperr.Internal(err)
	}

	if err := s.users.UpdatePassword(ctx, claims.UserID, hash); err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return apperr.New(apperr.KindInvalidToken, "")
		}
		return apperr.Internal(err)
	}

	s.forget(claims.UserID)
	s.observe("reset_confirm", "ok")
	return nil
}

// Profile returns the caller's own record, served through the profile cache.
func (s *Service) Profile(ctx context.Context, userID string) (user.User, error) {
	if s.profiles != nil {
		if u, ok := s.profiles.Get(userID); ok {
			return u, nil
		}
	}

	u, err := s.lookup(ctx, userID)
	if err != nil {
		return user.User{}, err
	}

	if s.profiles != nil {
		s.profiles.Set(userID, u)
	}
	return u, nil
}

// UpdateProfile changes the display name only; email and role are fixed.
func (s *Service) UpdateProfile(ctx context.Context, userID, name string) (user.User, error) {
	u, err := s.users.UpdateName(ctx, userID, name)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return user.User{}, apperr.New(apperr.KindNotFound, "User not found")
		}
		return user.User{}, apperr.Internal(err)
	}

	if s.profiles != nil {
		s.profiles.Set(userID, u)
	}
	return u, nil
}

// GetUser is the admin lookup; it always reads the store.
func (s *Service) GetUser(ctx context.Context, id string) (user.User, error) {
	return s.lookup(ctx, id)
}

func (s *Service) lookup(ctx context.Context, id string) (user.User, error) {
	u, err := s.users.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return user.User{}, apperr.New(apperr.KindNotFound, "User not found")
		}
		return user.User{}, apperr.Internal(err)
	}
	return u, nil
}

func (s *Service) hashPassword(plain string) (string, error) {
	hash, err := s.hasher.Hash(plain)
	if err != nil {
		if errors.Is(err, security.ErrPasswordTooLong) {
			return "", fieldError("password", "max", "72", "must be at most 72 bytes")
		}
		return "", apperr.Internal(err)
	}
	return hash, nil
}

func (s *Service) forget(userID string) {
	if s.profiles != nil {
		s.profiles.Delete(userID)
	}
}

func (s *Service) observe(op, result string) {
	if s.metrics != nil {
		s.metrics.ObserveAuth(op, result)
	}
}

func payloadOf(u user.User) auth.Payload {
	return auth.Payload{UserID: u.ID, Email: u.Email, Role: u.Role}
}

func fieldError(field, rule, param, msg string) *apperr.Error {
	return apperr.Validation("Validation failed", map[string]any{
		"fields": []apperr.FieldError{{Field: field, Rule: rule, Param: param, Message: msg}},
	})
}
