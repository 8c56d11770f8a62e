package auth

import (
	"container/list"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	// HeaderAPIKey is the header containing the caller's API key identifier.
	HeaderAPIKey = "X-Api-Key"
	// HeaderTimestamp is the unix timestamp (seconds) used when signing the request.
	HeaderTimestamp = "X-Timestamp"
	// HeaderNonce provides replay protection when combined with the timestamp.
	HeaderNonce = "X-Nonce"
	// HeaderSignature carries the hex-encoded HMAC-SHA256 signature for the request.
	HeaderSignature = "X-Signature"
	// MaxBodyForSignature is the maximum body size we will hash when authenticating.
	MaxBodyForSignature int = 1 << 20 // 1 MiB

	maxAllowedTimestampSkew = 2 * time.Minute
	defaultNonceWindow      = 10 * time.Minute
	defaultNonceCapacity    = 4096
)

var (
	// ErrUnauthorized covers any authentication failure. Handlers should not
	// leak the specific cause to callers.
	ErrUnauthorized = errors.New("auth: unauthorized")
	// ErrReplay indicates a nonce was reused inside its window.
	ErrReplay = errors.New("auth: nonce replayed")
)

// Principal represents an authenticated API client.
type Principal struct {
	APIKey string
}

// Authenticator verifies API key + HMAC signatures on incoming requests.
type Authenticator struct {
	secrets map[string]string
	skew    time.Duration
	ttl     time.Duration
	cap     int
	nowFn   func() time.Time

	mu     sync.Mutex
	nonces map[string]*nonceStore
}

type nonceStore struct {
	order *list.List
	seen  map[string]time.Time
}

// NewAuthenticator builds an Authenticator keyed by the provided secrets. The
// map contains API key identifiers mapped to their shared secret.
func NewAuthenticator(secrets map[string]string, skew, nonceTTL time.Duration, nowFn func() time.Time) *Authenticator {
	cloned := make(map[string]string, len(secrets))
	for k, v := range secrets {
		cloned[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	if nowFn == nil {
		nowFn = time.Now
	}
	if skew <= 0 || skew > maxAllowedTimestampSkew {
		skew = maxAllowedTimestampSkew
	}
	if nonceTTL <= 0 || nonceTTL > defaultNonceWindow {
		nonceTTL = defaultNonceWindow
	}
	return &Authenticator{
		secrets: cloned,
		skew:    skew,
		ttl:     nonceTTL,
		cap:     defaultNonceCapacity,
		nowFn:   nowFn,
		nonces:  make(map[string]*nonceStore),
	}
}

// Authenticate validates headers and signature, returning the caller principal.
func (a *Authenticator) Authenticate(r *http.Request, body []byte) (*Principal, error) {
	if a == nil {
		return nil, ErrUnauthorized
	}
	if len(body) > MaxBodyForSignature {
		return nil, fmt.Errorf("%w: body too large for signature", ErrUnauthorized)
	}
	apiKey := strings.TrimSpace(r.Header.Get(HeaderAPIKey))
	timestamp := strings.TrimSpace(r.Header.Get(HeaderTimestamp))
	nonce := strings.TrimSpace(r.Header.Get(HeaderNonce))
	signature := strings.TrimSpace(r.Header.Get(HeaderSignature))
	if apiKey == "" || timestamp == "" || nonce == "" || signature == "" {
		return nil, ErrUnauthorized
	}
	secret, ok := a.secrets[apiKey]
	if !ok || secret == "" {
		return nil, ErrUnauthorized
	}
	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return nil, ErrUnauthorized
	}
	now := a.nowFn()
	drift := now.Sub(time.Unix(ts, 0))
	if drift < 0 {
		drift = -drift
	}
	if drift > a.skew {
		return nil, fmt.Errorf("%w: timestamp outside window", ErrUnauthorized)
	}
	expected := ComputeSignature(secret, timestamp, nonce, r.Method, CanonicalRequestPath(r), body)
	provided, err := hex.DecodeString(signature)
	if err != nil || !hmac.Equal(expected, provided) {
		return nil, ErrUnauthorized
	}
	if err := a.rememberNonce(apiKey, timestamp+":"+nonce, now); err != nil {
		return nil, err
	}
	return &Principal{APIKey: apiKey}, nil
}

func (a *Authenticator) rememberNonce(apiKey, nonce string, now time.Time) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	store, ok := a.nonces[apiKey]
	if !ok {
		store = &nonceStore{order: list.New(), seen: make(map[string]time.Time)}
		a.nonces[apiKey] = store
	}
	cutoff := now.Add(-a.ttl)
	for front := store.order.Front(); front != nil; {
		key := front.Value.(string)
		seenAt, ok := store.seen[key]
		if ok && seenAt.After(cutoff) && store.order.Len() <= a.cap {
			break
		}
		next := front.Next()
		store.order.Remove(front)
		delete(store.seen, key)
		front = next
	}
	if _, exists := store.seen[nonce]; exists {
		return ErrReplay
	}
	store.seen[nonce] = now
	store.order.PushBack(nonce)
	return nil
}

// CanonicalRequestPath returns the signed request path.
func CanonicalRequestPath(r *http.Request) string {
	path := r.URL.EscapedPath()
	if path == "" {
		path = "/"
	}
	if query := CanonicalQuery(r.URL.RawQuery); query != "" {
		return path + "?" + query
	}
	return path
}

// CanonicalQuery sorts query parameters so signatures do not depend on the
// client's parameter ordering.
func CanonicalQuery(raw string) string {
	if raw == "" {
		return ""
	}
	parts := strings.Split(raw, "&")
	sort.Strings(parts)
	return strings.Join(parts, "&")
}

// ComputeSignature derives the HMAC-SHA256 signature over the canonical
// request representation.
func ComputeSignature(secret, timestamp, nonce, method, path string, body []byte) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte{'\n'})
	mac.Write([]byte(nonce))
	mac.Write([]byte{'\n'})
	mac.Write([]byte(strings.ToUpper(method)))
	mac.Write([]byte{'\n'})
	mac.Write([]byte(path))
	mac.Write([]byte{'\n'})
	sum := sha256.Sum256(body)
	mac.Write(sum[:])
	return mac.Sum(nil)
}
