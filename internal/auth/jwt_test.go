package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func mustKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generating RSA key: %v", err)
	}
	return key
}

func sign(t *testing.T, key *rsa.PrivateKey, claims idClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signed, err := tok.SignedString(key)
	if err != nil {
		t.Fatalf("signing token: %v", err)
	}
	return signed
}

func verifierWithKey(key *rsa.PrivateKey) *Verifier {
	kf := func(*jwt.Token) (any, error) { return &key.PublicKey, nil }
	return &Verifier{keyfunc: kf}
}

func TestVerifier_Authenticate(t *testing.T) {
	t.Parallel()

	key := mustKey(t)
	now := time.Now()

	tests := []struct {
		name      string
		claims    idClaims
		wantErr   error
		wantID    string
		wantEmail string
		wantName  string
	}{
		{
			name: "valid token with preferred_username",
			claims: idClaims{
				RegisteredClaims: jwt.RegisteredClaims{
					Subject:   "user-1",
					ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
				},
				Email:             "alice@example.com",
				PreferredUsername: "alice",
			},
			wantID:    "user-1",
			wantEmail: "alice@example.com",
			wantName:  "alice",
		},
		{
			name: "falls back to name when preferred_username absent",
			claims: idClaims{
				RegisteredClaims: jwt.RegisteredClaims{
					Subject:   "user-2",
					ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
				},
				Email: "bob@example.com",
				Name:  "Bob Jones",
			},
			wantID:    "user-2",
			wantEmail: "bob@example.com",
			wantName:  "Bob Jones",
		},
		{
			name: "expired token",
			claims: idClaims{
				RegisteredClaims: jwt.RegisteredClaims{
					Subject:   "user-3",
					ExpiresAt: jwt.NewNumericDate(now.Add(-2 * time.Hour)),
				},
			},
			wantErr: ErrTokenExpired,
		},
		{
			name: "within clock skew leeway",
			claims: idClaims{
				RegisteredClaims: jwt.RegisteredClaims{
					Subject:   "user-4",
					ExpiresAt: jwt.NewNumericDate(now.Add(-30 * time.Second)),
				},
			},
			wantID: "user-4",
		},
		{
			name: "missing subject",
			claims: idClaims{
				RegisteredClaims: jwt.RegisteredClaims{
					ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
				},
			},
			wantErr: ErrTokenInvalid,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			v := verifierWithKey(key)
			signed := sign(t, key, tt.claims)

			principal, err := v.Authenticate(signed)

			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if principal.UserID != tt.wantID {
				t.Errorf("UserID = %q, want %q", principal.UserID, tt.wantID)
			}
			if tt.wantEmail != "" && principal.Email != tt.wantEmail {
				t.Errorf("Email = %q, want %q", principal.Email, tt.wantEmail)
			}
			if tt.wantName != "" && principal.DisplayName != tt.wantName {
				t.Errorf("DisplayName = %q, want %q", principal.DisplayName, tt.wantName)
			}
		})
	}
}

func TestVerifier_Authenticate_emptyToken(t *testing.T) {
	t.Parallel()

	v := verifierWithKey(mustKey(t))
	_, err := v.Authenticate("")
	if !errors.Is(err, ErrUnauthenticated) {
		t.Errorf("error = %v, want ErrUnauthenticated", err)
	}
}

func TestVerifier_Authenticate_wrongKey(t *testing.T) {
	t.Parallel()

	signingKey := mustKey(t)
	verifyingKey := mustKey(t)

	signed := sign(t, signingKey, idClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})

	v := verifierWithKey(verifyingKey)
	_, err := v.Authenticate(signed)
	if !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("error = %v, want ErrTokenInvalid", err)
	}
}
