// Package services contains the token and identity logic shared by handlers.
package services

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Role represents a caller's permission level.
type Role string

const (
	RoleAdmin     Role = "admin"     // Publish anywhere and read registry diagnostics
	RolePublisher Role = "publisher" // Publish to the channel named in the token
)

// AnyChannel in a token's channel claim grants access to every channel.
const AnyChannel = "*"

// Claims represents the JWT payload for authenticated requests.
// It embeds the channel scope and role used to authorize publishes.
type Claims struct {
	Channel string `json:"ch"`
	Role    Role   `json:"role"`
	jwt.RegisteredClaims
}

// CanPublish reports whether the claims allow publishing to channel.
func (c *Claims) CanPublish(channel string) bool {
	if c == nil {
		return false
	}
	if c.Role == RoleAdmin {
		return true
	}
	return c.Role == RolePublisher && (c.Channel == AnyChannel || c.Channel == channel)
}

// AuthService handles JWT token generation and validation.
type AuthService struct {
	secret                 []byte
	adminTokenDuration     time.Duration
	publisherTokenDuration time.Duration
}

// NewAuthService creates an AuthService with the given signing secret and token durations.
func NewAuthService(secret string, adminDuration, publisherDuration time.Duration) *AuthService {
	return &AuthService{
		secret:                 []byte(secret),
		adminTokenDuration:     adminDuration,
		publisherTokenDuration: publisherDuration,
	}
}

// GenerateToken creates a signed JWT for the given channel scope and role.
// Admin tokens have a longer expiry than publisher tokens.
func (s *AuthService) GenerateToken(channel string, role Role) (string, error) {
	var duration time.Duration
	if role == RoleAdmin {
		duration = s.adminTokenDuration
	} else {
		duration = s.publisherTokenDuration
	}

	claims := Claims{
		Channel: channel,
		Role:    role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "statecast",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(duration)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// ValidateToken verifies the JWT signature and expiry, returning the claims if valid.
func (s *AuthService) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.secret, nil
	})

	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}

	return nil, errors.New("invalid token")
}
