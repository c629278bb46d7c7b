package auth

import (
	"errors"
	"time"

	"github.com/dairyops/dairyhub/internal/domain/user"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	// ErrInvalidToken covers every verification failure: bad signature,
	// malformed payload, wrong token type and expiry all look the same.
	ErrInvalidToken  = errors.New("invalid or expired token")
	ErrMissingSecret = errors.New("token signing secret is not configured")
)

const (
	issuer        = "dairyhub"
	typeSession   = "session"
	typeReset     = "reset"
	resetAudience = "password-reset"
)

// Payload is the identity carried by a session token.
type Payload struct {
	UserID string    `json:"userId"`
	Email  string    `json:"email"`
	Role   user.Role `json:"role"`
}

type Claims struct {
	Email     string    `json:"email"`
	Role      user.Role `json:"role"`
	TokenType string    `json:"typ"`
	jwt.RegisteredClaims
}

// ResetToken is a freshly signed password-reset token plus the id the
// single-use ledger tracks it by.
type ResetToken struct {
	Raw       string
	JTI       string
	ExpiresAt time.Time
}

type ResetClaims struct {
	Payload
	JTI       string
	ExpiresAt time.Time
}

type Manager struct {
	secret     []byte
	sessionTTL time.Duration
	resetTTL   time.Duration
	now        func() time.Time
}

type Option func(*Manager)

// WithClock overrides the time source used for both issuing and verifying.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

func NewManager(secret string, sessionTTL, resetTTL time.Duration, opts ...Option) *Manager {
	if sessionTTL <= 0 {
		sessionTTL = 7 * 24 * time.Hour
	}
	if resetTTL <= 0 {
		resetTTL = time.Hour
	}

	m := &Manager{
		secret:     []byte(secret),
		sessionTTL: sessionTTL,
		resetTTL:   resetTTL,
		now:        time.Now,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

func (m *Manager) SessionTTL() time.Duration { return m.sessionTTL }

func (m *Manager) ResetTTL() time.Duration { return m.resetTTL }

func (m *Manager) IssueSession(p Payload) (string, error) {
	now := m.now().UTC()

	claims := Claims{
		Email:     p.Email,
		Role:      p.Role,
		TokenType: typeSession,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   p.UserID,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.sessionTTL)),
		},
	}

	return m.sign(claims)
}

func (m *Manager) IssueReset(p Payload) (ResetToken, error) {
	now := m.now().UTC()
	jti := uuid.NewString()
	expiresAt := now.Add(m.resetTTL)

	claims := Claims{
		Email:     p.Email,
		Role:      p.Role,
		TokenType: typeReset,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   p.UserID,
			Audience:  jwt.ClaimStrings{resetAudience},
			ID:        jti,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	raw, err := m.sign(claims)
	if err != nil {
		return ResetToken{}, err
	}

	return ResetToken{Raw: raw, JTI: jti, ExpiresAt: expiresAt}, nil
}

func (m *Manager) VerifySession(tokenStr string) (Payload, error) {
	claims, err := m.parse(tokenStr)
	if err != nil {
		return Payload{}, err
	}

	// a reset token carries an audience; sessions never do
	if claims.TokenType != typeSession || len(claims.Audience) != 0 {
		return Payload{}, ErrInvalidToken
	}

	return claims.payload(), nil
}

func (m *Manager) VerifyReset(tokenStr string) (ResetClaims, error) {
	claims, err := m.parse(tokenStr, jwt.WithAudience(resetAudience))
	if err != nil {
		return ResetClaims{}, err
	}

	if claims.TokenType != typeReset || claims.ID == "" {
		return ResetClaims{}, ErrInvalidToken
	}

	return ResetClaims{
		Payload:   claims.payload(),
		JTI:       claims.ID,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

func (m *Manager) sign(claims Claims) (string, error) {
	if len(m.secret) == 0 {
		return "", ErrMissingSecret
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secret)
}

func (m *Manager) parse(tokenStr string, extra ...jwt.ParserOption) (*Claims, error) {
	if len(m.secret) == 0 || tokenStr == "" {
		return nil, ErrInvalidToken
	}

	opts := append([]jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	}, extra...)

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		// Enforce HMAC
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return m.secret, nil
	}, opts...)

	if err != nil || !token.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}

	return claims, nil
}

func (c *Claims) payload() Payload {
	return Payload{
		UserID: c.Subject,
		Email:  c.Email,
		Role:   c.Role,
	}
}
