package auth

import (
	"errors"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/inkwell-app/realtime/pkg/model"
)

func secret() []byte {
	if s := os.Getenv("JWT_SECRET"); s != "" {
		return []byte(s)
	}
	return []byte("dev_secret")
}

// Claims carry the full resolved identity so the gateway never needs a
// profile lookup on connect.
type Claims struct {
	UserID   string `json:"user_id"`
	Name     string `json:"name"`
	Username string `json:"username,omitempty"`
	Avatar   string `json:"avatar,omitempty"`
	jwt.RegisteredClaims
}

// User converts the claims into the wire identity.
func (c *Claims) User() model.ChatUser {
	return model.ChatUser{
		ID:       c.UserID,
		Name:     c.Name,
		Username: c.Username,
		Avatar:   c.Avatar,
	}
}

type contextKey string

// UserKey is the request-context key the api middleware stores claims under.
const UserKey contextKey = "user"

// GenerateToken issues a session token for a resolved user profile.
func GenerateToken(user model.ChatUser) (string, error) {
	claims := &Claims{
		UserID:   user.ID,
		Name:     user.Name,
		Username: user.Username,
		Avatar:   user.Avatar,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(24 * time.Hour)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret())
}

// ValidateToken parses and validates a session token.
func ValidateToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return secret(), nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}
