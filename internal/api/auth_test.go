package api

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

func newTestAuth(t *testing.T) *Auth {
	t.Helper()
	t.Setenv(envAuthTestMode, "1")
	t.Setenv(envTestJWTSecret, "shh")
	return NewAuth(nil, "taskpulse", "https://issuer.test/")
}

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("shh"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func TestUserIDFromAuthHeader(t *testing.T) {
	auth := newTestAuth(t)
	token := signToken(t, jwt.MapClaims{
		"sub": "user-1",
		"exp": time.Now().Add(time.Hour).Unix(),
		"aud": "taskpulse",
		"iss": "https://issuer.test/",
	})

	userID, err := auth.UserIDFromAuthHeader("Bearer " + token)
	if err != nil {
		t.Fatalf("auth failed: %v", err)
	}
	if userID != "user-1" {
		t.Fatalf("userID = %q, want user-1", userID)
	}
}

func TestAuthRejections(t *testing.T) {
	auth := newTestAuth(t)

	cases := []struct {
		name   string
		header string
	}{
		{"empty header", ""},
		{"not bearer", "Basic abc"},
		{"garbage token", "Bearer not-a-jwt"},
		{"expired", "Bearer " + signToken(t, jwt.MapClaims{
			"sub": "user-1",
			"exp": time.Now().Add(-2 * time.Hour).Unix(),
			"aud": "taskpulse",
			"iss": "https://issuer.test/",
		})},
		{"wrong audience", "Bearer " + signToken(t, jwt.MapClaims{
			"sub": "user-1",
			"exp": time.Now().Add(time.Hour).Unix(),
			"aud": "someone-else",
			"iss": "https://issuer.test/",
		})},
		{"missing sub", "Bearer " + signToken(t, jwt.MapClaims{
			"exp": time.Now().Add(time.Hour).Unix(),
			"aud": "taskpulse",
			"iss": "https://issuer.test/",
		})},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := auth.UserIDFromAuthHeader(tc.header); err == nil {
				t.Fatal("expected an error")
			}
		})
	}
}
