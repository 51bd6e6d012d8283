package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret-key-for-jwt-signing-0123456789"

func TestGenerateAndParseToken(t *testing.T) {
	token, err := GenerateToken("u1", "admin", testSecret, "", time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}
	if token == "" {
		t.Fatal("GenerateToken() returned empty token")
	}

	claims, err := ParseToken(token, testSecret, "")
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	if claims.Subject != "u1" {
		t.Errorf("Subject = %q, want %q", claims.Subject, "u1")
	}
	if claims.Role != "admin" {
		t.Errorf("Role = %v, want admin", claims.Role)
	}
	if claims.ID == "" {
		t.Error("JTI (ID) should not be empty")
	}
}

func TestParseToken_RoleArray(t *testing.T) {
	token, err := GenerateToken("u2", []string{"user", "admin"}, testSecret, "", time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}
	claims, err := ParseToken(token, testSecret, "")
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	// JSON arrays decode as []any.
	if !IsAdmin(claims.Role) {
		t.Errorf("IsAdmin(%v) = false, want true", claims.Role)
	}
}

func TestParseToken_Failures(t *testing.T) {
	valid, err := GenerateToken("u1", "user", testSecret, "fleetlink", time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}
	expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "u1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
		Role: "user",
	}).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("signing expired token: %v", err)
	}
	noSubject, err := GenerateToken("", "user", testSecret, "", time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}

	tests := []struct {
		name   string
		token  string
		secret string
		issuer string
	}{
		{"empty", "", testSecret, ""},
		{"garbage", "not-a-valid-jwt", testSecret, ""},
		{"malformed", "abc.def", testSecret, ""},
		{"wrong secret", valid, "wrong-secret", ""},
		{"wrong issuer", valid, testSecret, "someone-else"},
		{"expired", expired, testSecret, ""},
		{"missing subject", noSubject, testSecret, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseToken(tt.token, tt.secret, tt.issuer)
			if !errors.Is(err, ErrTokenInvalid) {
				t.Errorf("ParseToken() error = %v, want ErrTokenInvalid", err)
			}
		})
	}
}

func TestGenerateToken_DefaultTTL(t *testing.T) {
	token, err := GenerateToken("u1", "user", testSecret, "", 0)
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}
	claims, err := ParseToken(token, testSecret, "")
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}

	diff := claims.ExpiresAt.Time.Sub(time.Now().Add(time.Hour))
	if diff < -time.Minute || diff > time.Minute {
		t.Errorf("default TTL should be ~1 hour, got expiry diff of %v", diff)
	}
}
