package auth

import (
	"encoding/hex"
	"fmt"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const (
	testKey    = "collector-1"
	testSecret = "super-secret"
)

func newTestAuthenticator(now time.Time) *Authenticator {
	return NewAuthenticator(map[string]string{testKey: testSecret}, time.Minute, 5*time.Minute, func() time.Time {
		return now
	})
}

func TestAuthenticateAcceptsValidSignature(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	auth := newTestAuthenticator(now)

	body := []byte(`{"orderId":42}`)
	req := httptest.NewRequest("POST", "/v1/orders", nil)
	timestamp := fmt.Sprintf("%d", now.Unix())
	sig := ComputeSignature(testSecret, timestamp, "nonce-1", "POST", "/v1/orders", body)
	req.Header.Set(HeaderAPIKey, testKey)
	req.Header.Set(HeaderTimestamp, timestamp)
	req.Header.Set(HeaderNonce, "nonce-1")
	req.Header.Set(HeaderSignature, hex.EncodeToString(sig))

	principal, err := auth.Authenticate(req, body)
	require.NoError(t, err)
	require.Equal(t, testKey, principal.APIKey)
}

func TestAuthenticateRejectsBadSignature(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	auth := newTestAuthenticator(now)

	body := []byte(`{}`)
	req := httptest.NewRequest("POST", "/v1/orders", nil)
	timestamp := fmt.Sprintf("%d", now.Unix())
	sig := ComputeSignature("wrong-secret", timestamp, "nonce-1", "POST", "/v1/orders", body)
	req.Header.Set(HeaderAPIKey, testKey)
	req.Header.Set(HeaderTimestamp, timestamp)
	req.Header.Set(HeaderNonce, "nonce-1")
	req.Header.Set(HeaderSignature, hex.EncodeToString(sig))

	_, err := auth.Authenticate(req, body)
	require.ErrorIs(t, err, ErrUnauthorized)
}

func TestAuthenticateRejectsStaleTimestamp(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	auth := newTestAuthenticator(now)

	stale := now.Add(-10 * time.Minute)
	body := []byte(`{}`)
	req := httptest.NewRequest("POST", "/v1/orders", nil)
	timestamp := fmt.Sprintf("%d", stale.Unix())
	sig := ComputeSignature(testSecret, timestamp, "nonce-1", "POST", "/v1/orders", body)
	req.Header.Set(HeaderAPIKey, testKey)
	req.Header.Set(HeaderTimestamp, timestamp)
	req.Header.Set(HeaderNonce, "nonce-1")
	req.Header.Set(HeaderSignature, hex.EncodeToString(sig))

	_, err := auth.Authenticate(req, body)
	require.ErrorIs(t, err, ErrUnauthorized)
}

func TestAuthenticateRejectsReplayedNonce(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	auth := newTestAuthenticator(now)

	body := []byte(`{}`)
	timestamp := fmt.Sprintf("%d", now.Unix())
	sig := ComputeSignature(testSecret, timestamp, "nonce-1", "POST", "/v1/orders", body)

	first := httptest.NewRequest("POST", "/v1/orders", nil)
	first.Header.Set(HeaderAPIKey, testKey)
	first.Header.Set(HeaderTimestamp, timestamp)
	first.Header.Set(HeaderNonce, "nonce-1")
	first.Header.Set(HeaderSignature, hex.EncodeToString(sig))

	_, err := auth.Authenticate(first, body)
	require.NoError(t, err)

	second := httptest.NewRequest("POST", "/v1/orders", nil)
	second.Header = first.Header.Clone()
	_, err = auth.Authenticate(second, body)
	require.ErrorIs(t, err, ErrReplay)
}

func TestAuthenticateUnknownKey(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	auth := newTestAuthenticator(now)

	req := httptest.NewRequest("GET", "/v1/orders/42", nil)
	timestamp := fmt.Sprintf("%d", now.Unix())
	sig := ComputeSignature(testSecret, timestamp, "nonce-1", "GET", "/v1/orders/42", nil)
	req.Header.Set(HeaderAPIKey, "someone-else")
	req.Header.Set(HeaderTimestamp, timestamp)
	req.Header.Set(HeaderNonce, "nonce-1")
	req.Header.Set(HeaderSignature, hex.EncodeToString(sig))

	_, err := auth.Authenticate(req, nil)
	require.ErrorIs(t, err, ErrUnauthorized)
}

func TestCanonicalQuerySortsParameters(t *testing.T) {
	require.Equal(t, "a=1&b=2", CanonicalQuery("b=2&a=1"))
	require.Equal(t, "", CanonicalQuery(""))
}
