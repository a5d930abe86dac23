package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"pyrus-portal/portal-backend/pkg/workflows"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token has expired")
)

// Claims is the bearer token payload identifying an actor.
type Claims struct {
	jwt.RegisteredClaims
	Name     string `json:"name"`
	Role     string `json:"role"`
	ClientID string `json:"client_id,omitempty"`
}

// Actor converts verified claims into an Actor.
func (c *Claims) Actor() (Actor, error) {
	role, err := workflows.ParseRole(c.Role)
	if err != nil {
		return Actor{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if c.Subject == "" {
		return Actor{}, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}

	actor := Actor{ID: c.Subject, Name: c.Name, Role: role}
	if role == workflows.RoleClient {
		clientID, err := uuid.Parse(c.ClientID)
		if err != nil {
			return Actor{}, fmt.Errorf("%w: client token without client_id", ErrInvalidToken)
		}
		actor.ClientID = &clientID
	}
	return actor, nil
}

// TokenManager issues and verifies HMAC-signed actor tokens.
type TokenManager struct {
	secretKey []byte
	issuer    string
	ttl       time.Duration
}

func NewTokenManager(secret, issuer string, ttl time.Duration) *TokenManager {
	return &TokenManager{secretKey: []byte(secret), issuer: issuer, ttl: ttl}
}

// Issue signs a token for the actor.
func (m *TokenManager) Issue(actor Actor) (string, error) {
	now := time.Now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor.ID,
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
		Name: actor.Name,
		Role: actor.Role.String(),
	}
	if actor.ClientID != nil {
		claims.ClientID = actor.ClientID.String()
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secretKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Verify parses a token and returns the actor it names.
func (m *TokenManager) Verify(tokenString string) (Actor, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return m.secretKey, nil
	}, jwt.WithIssuer(m.issuer))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Actor{}, ErrExpiredToken
		}
		return Actor{}, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return Actor{}, ErrInvalidToken
	}
	return claims.Actor()
}
