package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SignatureHeader carries the HMAC of outbound notification webhooks.
const SignatureHeader = "X-Sublease-Signature"

// DefaultSignatureTolerance is the maximum accepted age of a signed payload.
const DefaultSignatureTolerance = 5 * time.Minute

// SignPayload returns a header value "t=<unix>,v1=<hex>" where v1 is
// HMAC-SHA256(secret, "<unix>.<payload>").
func SignPayload(payload []byte, secret string, at time.Time) string {
	ts := strconv.FormatInt(at.Unix(), 10)
	mac := hmacSHA256([]byte(secret), []byte(ts+"."+string(payload)))
	return "t=" + ts + ",v1=" + hex.EncodeToString(mac)
}

// VerifyPayload checks a header produced by SignPayload. If tolerance <= 0,
// DefaultSignatureTolerance is used.
func VerifyPayload(payload []byte, header, secret string, tolerance time.Duration) error {
	if tolerance <= 0 {
		tolerance = DefaultSignatureTolerance
	}

	var ts, sig string
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			ts = v
		case "v1":
			sig = v
		}
	}
	if ts == "" || sig == "" {
		return fmt.Errorf("signature header is malformed")
	}

	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return fmt.Errorf("signature timestamp is not a valid unix timestamp")
	}
	signedAt := time.Unix(unix, 0)
	if time.Since(signedAt) > tolerance {
		return fmt.Errorf("signature expired: signed %s ago (max %s)", time.Since(signedAt).Round(time.Second), tolerance)
	}
	// Allow 1 minute of clock skew.
	if signedAt.After(time.Now().Add(1 * time.Minute)) {
		return fmt.Errorf("signature timestamp is in the future")
	}

	got, err := hex.DecodeString(sig)
	if err != nil {
		return fmt.Errorf("signature is not hex")
	}
	want := hmacSHA256([]byte(secret), []byte(ts+"."+string(payload)))
	if !hmac.Equal(got, want) {
		return fmt.Errorf("invalid signature: payload integrity check failed")
	}
	return nil
}

func hmacSHA256(key, data []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(data)
	return h.Sum(nil)
}
