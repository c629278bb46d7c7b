package authflow

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dairyops/dairyhub/internal/apperr"
	"github.com/dairyops/dairyhub/internal/auth"
	"github.com/dairyops/dairyhub/internal/cache"
	"github.com/dairyops/dairyhub/internal/domain/user"
	"github.com/dairyops/dairyhub/internal/notifications"
	"github.com/dairyops/dairyhub/internal/repo/memory"
	"github.com/dairyops/dairyhub/internal/security"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type captureMailer struct {
	mu   sync.Mutex
	err  error
	sent []notifications.Message
}

func (m *captureMailer) Send(ctx context.Context, msg notifications.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, msg)
	return nil
}

type captureQueue struct {
	err    error
	queued []notifications.Message
}

func (q *captureQueue) Enqueue(msg notifications.Message) error {
	if q.err != nil {
		return q.err
	}
	q.queued = append(q.queued, msg)
	return nil
}

type countingMetrics struct {
	outcomes map[string]int
}

func (m *countingMetrics) ObserveAuth(op, result string) {
	if m.outcomes == nil {
		m.outcomes = map[string]int{}
	}
	m.outcomes[op+"/"+result]++
}

type fixture struct {
	svc     *Service
	users   *memory.UsersRepo
	tokens  *auth.Manager
	mailer  *captureMailer
	queue   *captureQueue
	metrics *countingMetrics
}

func newFixture(t *testing.T, opts ...func(*Deps)) *fixture {
	t.Helper()

	f := &fixture{
		users:   memory.NewUsersRepo(),
		tokens:  auth.NewManager("test-secret", time.Hour, time.Hour),
		mailer:  &captureMailer{},
		queue:   &captureQueue{},
		metrics: &countingMetrics{},
	}

	d := Deps{
		Users:     f.users,
		Hasher:    security.NewHasher(bcrypt.MinCost),
		Tokens:    f.tokens,
		Ledger:    memory.NewResetTokensRepo(),
		Mailer:    f.mailer,
		Queue:     f.queue,
		Templates: notifications.Templates{FrontendURL: "http://farm.test", ResetTTL: time.Hour},
		Profiles:  cache.New[user.User](time.Minute),
		Metrics:   f.metrics,
		Log:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, o := range opts {
		o(&d)
	}

	f.svc = New(d)
	return f
}

func kindOf(t *testing.T, err error) apperr.Kind {
	t.Helper()
	var appErr *apperr.Error
	require.True(t, errors.As(err, &appErr), "expected *apperr.Error, got %T: %v", err, err)
	return appErr.Kind
}

func (f *fixture) register(t *testing.T, email, password string) AuthResult {
	t.Helper()
	res, err := f.svc.Register(context.Background(), RegisterInput{Name: "Jane Farmer", Email: email, Password: password})
	require.NoError(t, err)
	return res
}

func TestRegister_ThenLogin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	reg := f.register(t, "jane@example.com", "secret1")
	assert.Equal(t, user.RoleUser, reg.User.Role)
	assert.NotEqual(t, "secret1", reg.User.PasswordHash)

	p, err := f.tokens.VerifySession(reg.Token)
	require.NoError(t, err)
	assert.Equal(t, reg.User.ID, p.UserID)

	login, err := f.svc.Login(ctx, "jane@example.com", "secret1")
	require.NoError(t, err)
	assert.Equal(t, reg.User.ID, login.User.ID)
	assert.NotEmpty(t, login.Token)

	require.Len(t, f.queue.queued, 1)
	assert.Equal(t, notifications.KindWelcome, f.queue.queued[0].Kind)
	assert.Equal(t, 1, f.metrics.outcomes["register/ok"])
	assert.Equal(t, 1, f.metrics.outcomes["login/ok"])
}

func TestRegister_DuplicateEmail(t *testing.T) {
	f := newFixture(t)
	f.register(t, "dup@example.com", "secret1")

	_, err := f.svc.Register(context.Background(), RegisterInput{Name: "Other", Email: "dup@example.com", Password: "secret2"})
	assert.Equal(t, apperr.KindDuplicateEmail, kindOf(t, err))
}

func TestRegister_ConcurrentDuplicateEmail(t *testing.T) {
	f := newFixture(t, func(d *Deps) { d.Queue = nil })

	const n = 10
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		ok   int
		dups int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Register(context.Background(), RegisterInput{Name: "Race", Email: "race@example.com", Password: "secret1"})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				ok++
				return
			}
			var appErr *apperr.Error
			if errors.As(err, &appErr) && appErr.Kind == apperr.KindDuplicateEmail {
				dups++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, ok)
	assert.Equal(t, n-1, dups)
}

func TestRegister_AdminRole(t *testing.T) {
	allowed := newFixture(t, func(d *Deps) { d.AllowAdminSignup = true })
	res, err := allowed.svc.Register(context.Background(), RegisterInput{Name: "Boss", Email: "boss@example.com", Password: "secret1", Role: user.RoleAdmin})
	require.NoError(t, err)
	assert.Equal(t, user.RoleAdmin, res.User.Role)
}

func TestRegister_AdminRoleRefusedWhenSignupDisabled(t *testing.T) {
	f := newFixture(t, func(d *Deps) { d.AllowAdminSignup = false })

	_, err := f.svc.Register(context.Background(), RegisterInput{Name: "Boss", Email: "boss@example.com", Password: "secret1", Role: user.RoleAdmin})
	assert.Equal(t, apperr.KindValidation, kindOf(t, err))

	res, err := f.svc.Register(context.Background(), RegisterInput{Name: "Hand", Email: "hand@example.com", Password: "secret1"})
	require.NoError(t, err)
	assert.Equal(t, user.RoleUser, res.User.Role)
}

func TestRegister_UnknownRole(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Register(context.Background(), RegisterInput{Name: "X", Email: "x@example.com", Password: "secret1", Role: "OWNER"})
	assert.Equal(t, apperr.KindValidation, kindOf(t, err))
}

func TestRegister_PasswordTooLong(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Register(context.Background(), RegisterInput{Name: "X", Email: "x@example.com", Password: strings.Repeat("é", 40)})
	assert.Equal(t, apperr.KindValidation, kindOf(t, err))
}

func TestRegister_WelcomeQueueFailureIsSwallowed(t *testing.T) {
	f := newFixture(t, func(d *Deps) { d.Queue = &captureQueue{err: notifications.ErrQueueFull} })

	res, err := f.svc.Register(context.Background(), RegisterInput{Name: "Jane", Email: "jane@example.com", Password: "secret1"})
	require.NoError(t, err)
	assert.NotEmpty(t, res.Token)
}

func TestLogin_FailuresLookIdentical(t *testing.T) {
	f := newFixture(t)
	f.register(t, "jane@example.com", "secret1")
	ctx := context.Background()

	_, errUnknown := f.svc.Login(ctx, "nobody@example.com", "secret1")
	_, errWrong := f.svc.Login(ctx, "jane@example.com", "wrong-password")

	var a, b *apperr.Error
	require.True(t, errors.As(errUnknown, &a))
	require.True(t, errors.As(errWrong, &b))

	assert.Equal(t, apperr.KindInvalidCredentials, a.Kind)
	assert.Equal(t, a.Kind, b.Kind)
	assert.Equal(t, a.PublicMessage(), b.PublicMessage())
	assert.Equal(t, 2, f.metrics.outcomes["login/invalid_credentials"])
}

func TestRequestPasswordReset_UnknownEmailSendsNothing(t *testing.T) {
	f := newFixture(t)

	err := f.svc.RequestPasswordReset(context.Background(), "nobody@example.com")
	require.NoError(t, err)
	assert.Empty(t, f.mailer.sent)
}

func TestRequestPasswordReset_SendFailureSurfaces(t *testing.T) {
	f := newFixture(t)
	f.register(t, "jane@example.com", "secret1")
	f.mailer.err = errors.New("smtp down")

	err := f.svc.RequestPasswordReset(context.Background(), "jane@example.com")
	assert.Equal(t, apperr.KindNotificationFailure, kindOf(t, err))
}

// resetTokenFrom pulls the token out of the reset link in the mail body.
func resetTokenFrom(t *testing.T, msg notifications.Message) string {
	t.Helper()
	const marker = "reset-password?token="
	i := strings.Index(msg.Text, marker)
	require.True(t, i >= 0, "no reset link in %q", msg.Text)
	rest := msg.Text[i+len(marker):]
	if j := strings.IndexAny(rest, " \n"); j >= 0 {
		rest = rest[:j]
	}
	return rest
}

func TestPasswordReset_FullFlowAndReplay(t *testing.T) {
	f := newFixture(t)
	f.register(t, "jane@example.com", "secret1")
	ctx := context.Background()

	require.NoError(t, f.svc.RequestPasswordReset(ctx, "jane@example.com"))
	require.Len(t, f.mailer.sent, 1)
	token := resetTokenFrom(t, f.mailer.sent[0])

	require.NoError(t, f.svc.ConfirmPasswordReset(ctx, token, "newsecret"))

	_, err := f.svc.Login(ctx, "jane@example.com", "secret1")
	assert.Equal(t, apperr.KindInvalidCredentials, kindOf(t, err))

	_, err = f.svc.Login(ctx, "jane@example.com", "newsecret")
	require.NoError(t, err)

	err = f.svc.ConfirmPasswordReset(ctx, token, "another1")
	assert.Equal(t, apperr.KindInvalidToken, kindOf(t, err))
}

func TestConfirmPasswordReset_OverlongPasswordKeepsTokenUsable(t *testing.T) {
	f := newFixture(t)
	f.register(t, "jane@example.com", "secret1")
	ctx := context.Background()

	require.NoError(t, f.svc.RequestPasswordReset(ctx, "jane@example.com"))
	require.Len(t, f.mailer.sent, 1)
	token := resetTokenFrom(t, f.mailer.sent[0])

	// 40 runes pass the binding's max=72 but are 80 bytes for bcrypt
	err := f.svc.ConfirmPasswordReset(ctx, token, strings.Repeat("é", 40))
	assert.Equal(t, apperr.KindValidation, kindOf(t, err))

	require.NoError(t, f.svc.ConfirmPasswordReset(ctx, token, "newsecret"))

	_, err = f.svc.Login(ctx, "jane@example.com", "newsecret")
	require.NoError(t, err)
}

func TestConfirmPasswordReset_RejectsSessionToken(t *testing.T) {
	f := newFixture(t)
	reg := f.register(t, "jane@example.com", "secret1")

	err := f.svc.ConfirmPasswordReset(context.Background(), reg.Token, "newsecret")
	assert.Equal(t, apperr.KindInvalidToken, kindOf(t, err))

	err = f.svc.ConfirmPasswordReset(context.Background(), "garbage", "newsecret")
	assert.Equal(t, apperr.KindInvalidToken, kindOf(t, err))
}

func TestConfirmPasswordReset_UnrecordedToken(t *testing.T) {
	f := newFixture(t)
	reg := f.register(t, "jane@example.com", "secret1")

	// validly signed but never written to the ledger
	rt, err := f.tokens.IssueReset(auth.Payload{UserID: reg.User.ID, Email: reg.User.Email, Role: reg.User.Role})
	require.NoError(t, err)

	err = f.svc.ConfirmPasswordReset(context.Background(), rt.Raw, "newsecret")
	assert.Equal(t, apperr.KindInvalidToken, kindOf(t, err))
}

func TestProfile_ReadUpdateAndNotFound(t *testing.T) {
	f := newFixture(t)
	reg := f.register(t, "jane@example.com", "secret1")
	ctx := context.Background()

	u, err := f.svc.Profile(ctx, reg.User.ID)
	require.NoError(t, err)
	assert.Equal(t, "Jane Farmer", u.Name)

	updated, err := f.svc.UpdateProfile(ctx, reg.User.ID, "Jane Dairy")
	require.NoError(t, err)
	assert.Equal(t, "Jane Dairy", updated.Name)
	assert.Equal(t, reg.User.Email, updated.Email)
	assert.Equal(t, reg.User.Role, updated.Role)

	// cached copy reflects the update
	u, err = f.svc.Profile(ctx, reg.User.ID)
	require.NoError(t, err)
	assert.Equal(t, "Jane Dairy", u.Name)

	_, err = f.svc.Profile(ctx, "missing")
	assert.Equal(t, apperr.KindNotFound, kindOf(t, err))

	_, err = f.svc.UpdateProfile(ctx, "missing", "x")
	assert.Equal(t, apperr.KindNotFound, kindOf(t, err))

	_, err = f.svc.GetUser(ctx, "missing")
	assert.Equal(t, apperr.KindNotFound, kindOf(t, err))
}

type brokenStore struct {
	user.Store
}

func (brokenStore) GetByEmail(context.Context, string) (user.User, error) {
	return user.User{}, errors.New("connection refused")
}

func TestLogin_StoreFailureIsInternal(t *testing.T) {
	f := newFixture(t, func(d *Deps) { d.Users = brokenStore{} })

	_, err := f.svc.Login(context.Background(), "jane@example.com", "secret1")
	assert.Equal(t, apperr.KindInternal, kindOf(t, err))
}
