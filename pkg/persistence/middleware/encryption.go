package middleware

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/aretw0/canopy/pkg/domain"
	"github.com/aretw0/canopy/pkg/ports"
)

// ErrNotSealed is returned when an encrypted store reads a plain fixture.
var ErrNotSealed = errors.New("fixture is missing its encrypted envelope")

// EncryptionConfig holds the keys for encryption and decryption.
type EncryptionConfig struct {
	// ActiveKey encrypts new fixtures. Must be 32 bytes for AES-256.
	ActiveKey []byte

	// FallbackKeys are tried in order when the active key cannot decrypt.
	FallbackKeys [][]byte
}

// ParseKeys decodes a hex active key and optional hex fallback keys.
func ParseKeys(active string, fallbacks ...string) (EncryptionConfig, error) {
	var cfg EncryptionConfig
	key, err := decodeKey(active)
	if err != nil {
		return cfg, err
	}
	cfg.ActiveKey = key
	for _, f := range fallbacks {
		if f == "" {
			continue
		}
		k, err := decodeKey(f)
		if err != nil {
			return cfg, err
		}
		cfg.FallbackKeys = append(cfg.FallbackKeys, k)
	}
	return cfg, nil
}

func decodeKey(s string) ([]byte, error) {
	k, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("encryption key is not hex: %w", err)
	}
	if len(k) != 32 {
		return nil, fmt.Errorf("encryption key must be 32 bytes, got %d", len(k))
	}
	return k, nil
}

type encryptionMiddleware struct {
	next   ports.FixtureStore
	config EncryptionConfig
}

// NewEncryptionMiddleware seals fixtures with AES-GCM before they reach the
// wrapped store. Only the run ID, principal and state stay readable.
func NewEncryptionMiddleware(config EncryptionConfig) Middleware {
	if len(config.ActiveKey) != 32 {
		panic("active key must be 32 bytes (AES-256)")
	}
	return func(next ports.FixtureStore) ports.FixtureStore {
		return &encryptionMiddleware{
			next:   next,
			config: config,
		}
	}
}

func (m *encryptionMiddleware) Save(ctx context.Context, runID string, fixture *domain.SessionFixture) error {
	plain, err := json.Marshal(fixture)
	if err != nil {
		return fmt.Errorf("failed to marshal fixture: %w", err)
	}

	sealed, err := encrypt(plain, m.config.ActiveKey)
	if err != nil {
		return fmt.Errorf("failed to encrypt fixture: %w", err)
	}

	envelope := &domain.SessionFixture{
		RunID:     fixture.RunID,
		Principal: fixture.Principal,
		State:     fixture.State,
		Sealed:    base64.StdEncoding.EncodeToString(sealed),
	}
	return m.next.Save(ctx, runID, envelope)
}

func (m *encryptionMiddleware) Load(ctx context.Context, runID string) (*domain.SessionFixture, error) {
	envelope, err := m.next.Load(ctx, runID)
	if err != nil {
		return nil, err
	}
	if envelope.Sealed == "" {
		return nil, fmt.Errorf("run %s: %w", runID, ErrNotSealed)
	}

	ciphertext, err := base64.StdEncoding.DecodeString(envelope.Sealed)
	if err != nil {
		return nil, fmt.Errorf("failed to decode ciphertext base64: %w", err)
	}

	plain, err := decryptWithRotation(ciphertext, m.config.ActiveKey, m.config.FallbackKeys)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt fixture: %w", err)
	}

	var f domain.SessionFixture
	if err := json.Unmarshal(plain, &f); err != nil {
		return nil, fmt.Errorf("failed to unmarshal decrypted fixture: %w", err)
	}
	return &f, nil
}

func (m *encryptionMiddleware) Delete(ctx context.Context, runID string) error {
	return m.next.Delete(ctx, runID)
}

func (m *encryptionMiddleware) List(ctx context.Context) ([]string, error) {
	return m.next.List(ctx)
}

func encrypt(plaintext, key []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func decryptWithRotation(ciphertext, activeKey []byte, fallbackKeys [][]byte) ([]byte, error) {
	for _, key := range append([][]byte{activeKey}, fallbackKeys...) {
		if plain, err := decrypt(ciphertext, key); err == nil {
			return plain, nil
		}
	}
	return nil, errors.New("decryption failed with all available keys")
}

func decrypt(ciphertext, key []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < gcm.NonceSize() {
		return nil, errors.New("ciphertext too short")
	}
	nonce, body := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	return gcm.Open(nil, nonce, body, nil)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
