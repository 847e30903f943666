package broker

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"golang.org/x/crypto/pbkdf2"
	"golang.org/x/crypto/sha3"

	"github.com/tgparkk/stockbot/internal/apperr"
)

// TokenCache persists the OAuth bearer token issued by the brokerage
// between process restarts, grounded on original_source's token_info.json
// (SPEC_FULL.md §12): the Python predecessor caches {token, issue_time,
// expire_time} across restarts to avoid re-authenticating on every start.
// The cache file is encrypted at rest with AES-256-GCM, keyed by PBKDF2
// over a passphrase — the one place this repository reaches for
// golang.org/x/crypto (SPEC_FULL.md §11), since the wire-level auth
// exchange itself is out of scope per spec.md §1.
type TokenCache struct {
	mu         sync.Mutex
	path       string
	passphrase string

	token      string
	issuedAt   time.Time
	expiresAt  time.Time

	// Refresh is called to obtain a new token when the cached one is
	// missing or expired. Left nil in tests that seed the cache directly.
	Refresh func() (token string, ttl time.Duration, err error)
}

type tokenFile struct {
	Token     string    `json:"token"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// NewTokenCache builds a cache backed by path, encrypted with passphrase.
func NewTokenCache(path, passphrase string) *TokenCache {
	tc := &TokenCache{path: path, passphrase: passphrase}
	tc.load()
	return tc
}

// Get returns a valid token, refreshing it if expired or absent.
func (t *TokenCache) Get() (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.token != "" && time.Now().Before(t.expiresAt) {
		return t.token, nil
	}

	if t.Refresh == nil {
		return "", apperr.New(apperr.Transport, "no cached token and no refresh function configured")
	}

	token, ttl, err := t.Refresh()
	if err != nil {
		return "", apperr.Wrap(apperr.Transport, "token refresh failed", err)
	}

	t.token = token
	t.issuedAt = time.Now()
	t.expiresAt = t.issuedAt.Add(ttl)
	t.persist()
	return t.token, nil
}

func (t *TokenCache) deriveKey() []byte {
	return pbkdf2.Key([]byte(t.passphrase), []byte("stockbot-token-cache"), 100_000, 32, sha3.New256)
}

func (t *TokenCache) load() {
	if t.path == "" {
		return
	}
	raw, err := os.ReadFile(t.path)
	if err != nil {
		return
	}
	plain, err := t.decrypt(raw)
	if err != nil {
		return
	}
	var tf tokenFile
	if err := json.Unmarshal(plain, &tf); err != nil {
		return
	}
	t.token = tf.Token
	t.issuedAt = tf.IssuedAt
	t.expiresAt = tf.ExpiresAt
}

func (t *TokenCache) persist() {
	if t.path == "" {
		return
	}
	tf := tokenFile{Token: t.token, IssuedAt: t.issuedAt, ExpiresAt: t.expiresAt}
	plain, err := json.Marshal(tf)
	if err != nil {
		return
	}
	cipherText, err := t.encrypt(plain)
	if err != nil {
		return
	}
	_ = os.WriteFile(t.path, cipherText, 0600)
}

func (t *TokenCache) encrypt(plain []byte) ([]byte, error) {
	block, err := aes.NewCipher(t.deriveKey())
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, plain, nil), nil
}

func (t *TokenCache) decrypt(data []byte) ([]byte, error) {
	block, err := aes.NewCipher(t.deriveKey())
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if len(data) < gcm.NonceSize() {
		return nil, fmt.Errorf("ciphertext too short")
	}
	nonce, cipherText := data[:gcm.NonceSize()], data[gcm.NonceSize():]
	return gcm.Open(nil, nonce, cipherText, nil)
}
