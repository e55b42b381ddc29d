package jwt

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"

	"clinical-access-control/internal/ports/auth"
)

var (
	ErrMissingSecret = errors.New("jwt: secret is required")
	ErrInvalidToken  = errors.New("jwt: invalid token")
)

type Config struct {
	Secret []byte
	// Si está vacío no se valida iss.
	Issuer string
	Leeway time.Duration
}

// TokenClaims es el payload esperado: sub es la identidad de la entidad.
type TokenClaims struct {
	Email    string `json:"email,omitempty"`
	TenantID string `json:"tenant_id,omitempty"`
	gojwt.RegisteredClaims
}

// Verifier valida tokens HS256 firmados con un secreto compartido.
type Verifier struct {
	secret []byte
	parser *gojwt.Parser
}

var _ auth.AuthVerifier = (*Verifier)(nil)

func NewVerifier(cfg Config) (*Verifier, error) {
	if len(cfg.Secret) == 0 {
		return nil, ErrMissingSecret
	}

	opts := []gojwt.ParserOption{
		gojwt.WithValidMethods([]string{gojwt.SigningMethodHS256.Alg()}),
		gojwt.WithExpirationRequired(),
		gojwt.WithLeeway(cfg.Leeway),
	}
	if iss := strings.TrimSpace(cfg.Issuer); iss != "" {
		opts = append(opts, gojwt.WithIssuer(iss))
	}

	return &Verifier{
		secret: cfg.Secret,
		parser: gojwt.NewParser(opts...),
	}, nil
}

func (v *Verifier) Verify(_ context.Context, token string) (auth.Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return auth.Claims{}, ErrInvalidToken
	}

	var tc TokenClaims
	parsed, err := v.parser.ParseWithClaims(token, &tc, func(*gojwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil {
		return auth.Claims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return auth.Claims{}, ErrInvalidToken
	}

	sub := strings.TrimSpace(tc.Subject)
	if sub == "" {
		return auth.Claims{}, fmt.Errorf("%w: subject missing", ErrInvalidToken)
	}

	return auth.Claims{
		UserID:   sub,
		Email:    strings.TrimSpace(tc.Email),
		TenantID: strings.TrimSpace(tc.TenantID),
	}, nil
}

// Sign emite un token para subject. Se usa en tooling local y tests.
func Sign(secret []byte, issuer, subject string, ttl time.Duration, now time.Time) (string, error) {
	if len(secret) == 0 {
		return "", ErrMissingSecret
	}
	if strings.TrimSpace(subject) == "" {
		return "", errors.New("jwt: subject is required")
	}
	if ttl <= 0 {
		return "", errors.New("jwt: ttl must be greater than zero")
	}

	claims := TokenClaims{
		RegisteredClaims: gojwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subject,
			IssuedAt:  gojwt.NewNumericDate(now),
			ExpiresAt: gojwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := gojwt.NewWithClaims(gojwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("jwt: sign: %w", err)
	}
	return signed, nil
}
