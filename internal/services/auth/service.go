package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/mcoot/partyrelay/internal/dependencies/clock"
	"github.com/mcoot/partyrelay/internal/dependencies/random"
	"github.com/mcoot/partyrelay/internal/model"
)

// Errors
var (
	ErrMissingToken = errors.New("missing access token")
	ErrInvalidToken = errors.New("invalid or expired access token")
)

const tokenTypeAccess = "access"

// Identity is the authenticated caller behind an access token
type Identity struct {
	UserID    model.UserID
	Role      string
	ExpiresAt time.Time
}

// Claims are the JWT claims of an access token
type Claims struct {
	jwt.RegisteredClaims
	Role      string `json:"role,omitempty"`
	TokenType string `json:"token_type"`
}

// Config holds configuration for the auth service
type Config struct {
	Secret    string
	Issuer    string
	AccessTTL time.Duration
}

// DefaultConfig returns default auth configuration
func DefaultConfig() Config {
	return Config{
		Issuer:    "partyrelay",
		AccessTTL: time.Hour,
	}
}

// Service issues and verifies HS256 access tokens
type Service struct {
	secret    []byte
	issuer    string
	accessTTL time.Duration
	clock     clock.Clock
	random    random.Random
}

// New creates a new auth Service
func New(cfg Config, clock clock.Clock, random random.Random) (*Service, error) {
	if cfg.Secret == "" {
		return nil, errors.New("auth: secret is required")
	}
	if cfg.AccessTTL == 0 {
		cfg.AccessTTL = DefaultConfig().AccessTTL
	}
	return &Service{
		secret:    []byte(cfg.Secret),
		issuer:    cfg.Issuer,
		accessTTL: cfg.AccessTTL,
		clock:     clock,
		random:    random,
	}, nil
}

// IssueAccessToken signs an access token for the user
func (s *Service) IssueAccessToken(userID model.UserID, role string) (string, time.Time, error) {
	now := s.clock.Now()
	expiresAt := now.Add(s.accessTTL)

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   string(userID),
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        s.random.ID(),
		},
		Role:      role,
		TokenType: tokenTypeAccess,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign access token: %w", err)
	}
	return signed, expiresAt, nil
}

// Verify checks an access token and returns the identity it carries
func (s *Service) Verify(token string) (*Identity, error) {
	if token == "" {
		return nil, ErrMissingToken
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.clock.Now),
		jwt.WithExpirationRequired(),
	}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}

	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	if claims.TokenType != tokenTypeAccess || claims.Subject == "" {
		return nil, ErrInvalidToken
	}

	return &Identity{
		UserID:    model.UserID(claims.Subject),
		Role:      claims.Role,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}
