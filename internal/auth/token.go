package auth

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type Claims struct {
	Sub   string `json:"sub"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role"`
	JTI   string `json:"jti"`
	Exp   int64  `json:"exp"`
}

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("expired token")
)

type accessClaims struct {
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// IssueToken signs claims as an HS256 JWT.
func IssueToken(secret []byte, claims Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, accessClaims{
		Name:  claims.Name,
		Email: claims.Email,
		Role:  claims.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   claims.Sub,
			ID:        claims.JTI,
			ExpiresAt: jwt.NewNumericDate(time.Unix(claims.Exp, 0)),
		},
	})
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

func ParseToken(secret []byte, token string) (Claims, error) {
	var parsed accessClaims
	_, err := jwt.ParseWithClaims(token, &parsed, func(*jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, ErrExpiredToken
		}
		return Claims{}, ErrInvalidToken
	}
	if parsed.Subject == "" || parsed.ID == "" || parsed.Name == "" {
		return Claims{}, ErrInvalidToken
	}
	return Claims{
		Sub:   parsed.Subject,
		Name:  parsed.Name,
		Email: parsed.Email,
		Role:  parsed.Role,
		JTI:   parsed.ID,
		Exp:   parsed.ExpiresAt.Unix(),
	}, nil
}

func HashToken(value string) string {
	sum := sha256.Sum256([]byte(value))
	return fmt.Sprintf("%x", sum)
}
