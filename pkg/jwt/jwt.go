package jwt

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken token is malformed or has a bad signature
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken token is past its expiry
	ErrExpiredToken = errors.New("expired token")
)

// Claims carried by editor tokens
type Claims struct {
	jwt.RegisteredClaims
	UserID   string `json:"user_id"`
	Nickname string `json:"nickname,omitempty"`
}

// Manager verifies and issues editor tokens
type Manager struct {
	secret []byte
}

// NewManager creates a Manager with the given HMAC secret
func NewManager(secret string) *Manager {
	return &Manager{secret: []byte(secret)}
}

// GenerateToken issues a token for an actor
func (m *Manager) GenerateToken(userID, nickname string, ttl time.Duration) (string, error) {
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
		UserID:   userID,
		Nickname: nickname,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secret)
}

// VerifyToken parses and validates a token
func (m *Manager) VerifyToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return m.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
