package auth

import (
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

func TestJWTRoundTrip(t *testing.T) {
	userID := uuid.New()
	token, err := GenerateJWT("secret", userID, time.Hour)
	if err != nil {
		t.Fatalf("GenerateJWT: %v", err)
	}

	claims, err := ParseJWT("secret", token)
	if err != nil {
		t.Fatalf("ParseJWT: %v", err)
	}
	if claims.UserID != userID {
		t.Errorf("user id = %s, want %s", claims.UserID, userID)
	}
}

func TestParseJWT_WrongSecret(t *testing.T) {
	token, _ := GenerateJWT("secret", uuid.New(), time.Hour)
	if _, err := ParseJWT("other", token); err == nil {
		t.Fatal("expected error for wrong secret")
	}
}

func TestParseJWT_Expired(t *testing.T) {
	claims := Claims{
		UserID: uuid.New(),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
			Issuer:    issuer,
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ParseJWT("secret", token); err == nil {
		t.Fatal("expected error for expired token")
	}
}

func TestParseJWT_MissingUserID(t *testing.T) {
	token, _ := GenerateJWT("secret", uuid.Nil, time.Hour)
	if _, err := ParseJWT("secret", token); err == nil {
		t.Fatal("expected error for token without user id")
	}
}

func TestVerifyPayload_Valid(t *testing.T) {
	body := []byte(`{"type":"agreement.locked"}`)
	header := SignPayload(body, "whsec", time.Now().Add(-10*time.Second))
	if err := VerifyPayload(body, header, "whsec", time.Minute); err != nil {
		t.Fatalf("expected valid signature, got %v", err)
	}
}

func TestVerifyPayload_Rejects(t *testing.T) {
	body := []byte(`{"type":"agreement.locked"}`)
	now := time.Now()

	tests := []struct {
		name   string
		header string
		body   []byte
		secret string
	}{
		{"tampered body", SignPayload(body, "whsec", now), []byte(`{"type":"agreement.completed"}`), "whsec"},
		{"wrong secret", SignPayload(body, "whsec", now), body, "other"},
		{"expired", SignPayload(body, "whsec", now.Add(-10*time.Minute)), body, "whsec"},
		{"future", SignPayload(body, "whsec", now.Add(5*time.Minute)), body, "whsec"},
		{"malformed", "garbage", body, "whsec"},
		{"bad timestamp", "t=abc,v1=00", body, "whsec"},
		{"non-hex signature", "t=" + strconv.FormatInt(now.Unix(), 10) + ",v1=zz", body, "whsec"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := VerifyPayload(tt.body, tt.header, tt.secret, 0); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestSignPayloadFormat(t *testing.T) {
	h := SignPayload([]byte("x"), "s", time.Unix(1700000000, 0))
	if !strings.HasPrefix(h, "t=1700000000,v1=") {
		t.Errorf("unexpected header %q", h)
	}
}
