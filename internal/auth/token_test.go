package auth

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestIssueAndParseToken(t *testing.T) {
	secret := []byte("secret")
	issued, err := IssueToken(secret, Claims{
		Sub:   "user-1",
		Name:  "Avery",
		Email: "avery@example.com",
		Role:  "collaborator",
		JTI:   "jti-1",
		Exp:   time.Now().Add(time.Hour).Unix(),
	})
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	if strings.Count(issued, ".") != 2 {
		t.Fatalf("expected a three-part JWT, got %q", issued)
	}
	claims, err := ParseToken(secret, issued)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	if claims.Sub != "user-1" || claims.Name != "Avery" || claims.Role != "collaborator" || claims.Email != "avery@example.com" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestParseTokenRejectsExpired(t *testing.T) {
	secret := []byte("secret")
	issued, err := IssueToken(secret, Claims{
		Sub:  "user-1",
		Name: "Avery",
		Role: "client",
		JTI:  "jti-1",
		Exp:  time.Now().Add(-time.Minute).Unix(),
	})
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	if _, err := ParseToken(secret, issued); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("ParseToken() error = %v, want ErrExpiredToken", err)
	}
}

func TestParseTokenRejectsForgeries(t *testing.T) {
	exp := time.Now().Add(time.Hour).Unix()
	issued, _ := IssueToken([]byte("secret"), Claims{Sub: "user-1", Name: "Avery", Role: "admin", JTI: "jti-1", Exp: exp})
	if _, err := ParseToken([]byte("other"), issued); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("wrong secret: error = %v", err)
	}

	none := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "user-1", "name": "A", "jti": "x", "exp": exp})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none: %v", err)
	}
	if _, err := ParseToken([]byte("secret"), unsigned); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("alg none: error = %v", err)
	}

	if _, err := ParseToken([]byte("secret"), "garbage"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("garbage: error = %v", err)
	}
}
