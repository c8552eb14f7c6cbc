package identity

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const tokenIssuer = "foreman"

// ErrInvalidToken indicates the bearer token failed validation.
var ErrInvalidToken = errors.New("identity: invalid token")

// Claims are the JWT claims carried by bearer tokens.
type Claims struct {
	Email    string `json:"email"`
	Type     Type   `json:"type"`
	Approved bool   `json:"approved"`
	jwt.RegisteredClaims
}

// TokenIssuer signs and verifies HS256 bearer tokens.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenIssuer constructs a TokenIssuer.
func NewTokenIssuer(secret string, ttl time.Duration) *TokenIssuer {
	return &TokenIssuer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Issue signs a token for ident and returns it with its expiry.
func (t *TokenIssuer) Issue(ident Identity) (string, time.Time, error) {
	if strings.TrimSpace(ident.ID) == "" {
		return "", time.Time{}, errors.New("identity: id required")
	}
	if len(t.secret) == 0 {
		return "", time.Time{}, errors.New("identity: token secret not configured")
	}
	now := t.now().UTC()
	expires := now.Add(t.ttl)
	claims := Claims{
		Email:    ident.Email,
		Type:     ident.Type,
		Approved: ident.Approved,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   ident.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("identity: sign token: %w", err)
	}
	return signed, expires, nil
}

// Parse verifies token and returns the identity it was issued for.
func (t *TokenIssuer) Parse(token string) (Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" || len(t.secret) == 0 {
		return Identity{}, ErrInvalidToken
	}
	var claims Claims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil || !parsed.Valid || strings.TrimSpace(claims.Subject) == "" {
		return Identity{}, ErrInvalidToken
	}
	return Identity{
		ID:       claims.Subject,
		Email:    claims.Email,
		Type:     claims.Type,
		Approved: claims.Approved,
	}, nil
}
