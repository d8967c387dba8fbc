package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret-key-for-jwt-signing-000"

func TestGenerateAndParseToken(t *testing.T) {
	token, err := GenerateToken("ops", testSecret, time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}
	if token == "" {
		t.Fatal("GenerateToken() returned empty token")
	}

	claims, err := ParseToken(token, testSecret)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	if claims.Subject != "ops" {
		t.Errorf("Subject = %q, want %q", claims.Subject, "ops")
	}
	if claims.ID == "" {
		t.Error("JTI (ID) should not be empty")
	}
	if ttl := time.Until(claims.ExpiresAt.Time); ttl < 59*time.Minute || ttl > time.Hour {
		t.Errorf("expiry in %v, want about 1h", ttl)
	}
}

func TestGenerateToken_Errors(t *testing.T) {
	tests := []struct {
		name    string
		subject string
		secret  string
		wantErr error
	}{
		{"missing subject", "", testSecret, ErrSubjectMissing},
		{"missing secret", "ops", "", ErrSecretMissing},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := GenerateToken(tt.subject, tt.secret, time.Hour)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("GenerateToken() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestGenerateToken_DefaultTTL(t *testing.T) {
	token, err := GenerateToken("ops", testSecret, 0)
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}
	claims, err := ParseToken(token, testSecret)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	if ttl := time.Until(claims.ExpiresAt.Time); ttl < DefaultTokenTTL-time.Minute {
		t.Errorf("expiry in %v, want about %v", ttl, DefaultTokenTTL)
	}
}

func sign(t *testing.T, method jwt.SigningMethod, subject string, expires time.Time) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(expires),
	}
	signed, err := jwt.NewWithClaims(method, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("signing: %v", err)
	}
	return signed
}

func TestParseToken_Rejects(t *testing.T) {
	valid, err := GenerateToken("ops", "another-secret-that-is-long-enough", time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}

	tests := []struct {
		name  string
		token string
	}{
		{"garbage", "not-a-valid-jwt"},
		{"wrong secret", valid},
		{"expired", sign(t, jwt.SigningMethodHS256, "ops", time.Now().Add(-time.Minute))},
		{"no subject", sign(t, jwt.SigningMethodHS256, "", time.Now().Add(time.Hour))},
		{"wrong algorithm", sign(t, jwt.SigningMethodHS512, "ops", time.Now().Add(time.Hour))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseToken(tt.token, testSecret)
			if !errors.Is(err, ErrTokenInvalid) {
				t.Errorf("ParseToken() error = %v, want ErrTokenInvalid", err)
			}
		})
	}
}
