package encryption

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"

	"archie-core-connections-layer/internal/domain"
	"archie-core-connections-layer/internal/ports"
)

const (
	keySize = 32
	ivSize  = 12
	tagSize = 16
)

// Codec seals connection credentials with AES-256-GCM. The IV and the GCM
// authentication tag are stored next to the ciphertext, each base64 encoded.
//
// A Codec built without a key runs in plaintext mode: credentials are stored
// as JSON with empty IV and tag. Enabled reports which mode is active.
//
// Decrypt(Encrypt(c)) equals c field for field, nil maps included. Raw
// payloads travel as JSON, so their numbers come back as float64.
type Codec struct {
	aead cipher.AEAD
}

var _ ports.CredentialCodec = (*Codec)(nil)

// NewCodec creates a codec from a base64-encoded 32 byte key.
// An empty key yields a plaintext-mode codec.
func NewCodec(encodedKey string) (*Codec, error) {
	if encodedKey == "" {
		return &Codec{}, nil
	}

	key, err := base64.StdEncoding.DecodeString(encodedKey)
	if err != nil {
		return nil, fmt.Errorf("failed to decode encryption key: %w", err)
	}
	if len(key) != keySize {
		return nil, fmt.Errorf("encryption key must be %d bytes, got %d", keySize, len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCMWithTagSize(block, tagSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create gcm: %w", err)
	}
	return &Codec{aead: aead}, nil
}

// Enabled reports whether credentials are encrypted at rest
func (c *Codec) Enabled() bool {
	return c != nil && c.aead != nil
}

// Encrypt converts a connection into its stored form
func (c *Codec) Encrypt(conn *domain.Connection) (*domain.StoredConnection, error) {
	payload, err := domain.MarshalCredentials(conn.Credentials)
	if err != nil {
		return nil, err
	}

	stored := &domain.StoredConnection{
		ID:                conn.ID,
		ConnectionID:      conn.ConnectionID,
		ProviderConfigKey: conn.ProviderConfigKey,
		EnvironmentID:     conn.EnvironmentID,
		ConnectionConfig:  copyStrings(conn.ConnectionConfig),
		Metadata:          copyStrings(conn.Metadata),
		CreatedAt:         conn.CreatedAt,
		UpdatedAt:         conn.UpdatedAt,
	}

	stored.Credentials, stored.CredentialsIV, stored.CredentialsTag, err = c.seal(payload)
	if err != nil {
		return nil, err
	}
	return stored, nil
}

// Decrypt converts a stored connection back into its in-memory form.
// Rows without an IV are read as plaintext JSON regardless of mode.
func (c *Codec) Decrypt(stored *domain.StoredConnection) (*domain.Connection, error) {
	payload, err := c.open(stored.Credentials, stored.CredentialsIV, stored.CredentialsTag)
	if err != nil {
		return nil, err
	}

	creds, err := domain.UnmarshalCredentials(payload)
	if err != nil {
		return nil, err
	}

	return &domain.Connection{
		ID:                stored.ID,
		ConnectionID:      stored.ConnectionID,
		ProviderConfigKey: stored.ProviderConfigKey,
		EnvironmentID:     stored.EnvironmentID,
		Credentials:       creds,
		ConnectionConfig:  copyStrings(stored.ConnectionConfig),
		Metadata:          copyStrings(stored.Metadata),
		CreatedAt:         stored.CreatedAt,
		UpdatedAt:         stored.UpdatedAt,
	}, nil
}

// SealSecret encrypts one secret string
func (c *Codec) SealSecret(plaintext string) (string, string, string, error) {
	return c.seal([]byte(plaintext))
}

// OpenSecret decrypts a value produced by SealSecret
func (c *Codec) OpenSecret(ciphertext, iv, tag string) (string, error) {
	plain, err := c.open(ciphertext, iv, tag)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

func (c *Codec) seal(plaintext []byte) (string, string, string, error) {
	if !c.Enabled() {
		return string(plaintext), "", "", nil
	}

	// GCM requires a unique nonce per encryption under the same key
	iv := make([]byte, ivSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", "", "", fmt.Errorf("failed to read iv: %w", err)
	}

	sealed := c.aead.Seal(nil, iv, plaintext, nil)
	ciphertext, tag := sealed[:len(sealed)-tagSize], sealed[len(sealed)-tagSize:]

	return base64.StdEncoding.EncodeToString(ciphertext),
		base64.StdEncoding.EncodeToString(iv),
		base64.StdEncoding.EncodeToString(tag),
		nil
}

func (c *Codec) open(ciphertext, iv, tag string) ([]byte, error) {
	if iv == "" {
		return []byte(ciphertext), nil
	}
	if !c.Enabled() {
		return nil, fmt.Errorf("credentials are encrypted but no encryption key is configured")
	}

	rawIV, err := base64.StdEncoding.DecodeString(iv)
	if err != nil {
		return nil, fmt.Errorf("failed to decode iv: %w", err)
	}
	if len(rawIV) != ivSize {
		return nil, fmt.Errorf("iv must be %d bytes, got %d", ivSize, len(rawIV))
	}
	rawTag, err := base64.StdEncoding.DecodeString(tag)
	if err != nil {
		return nil, fmt.Errorf("failed to decode tag: %w", err)
	}
	rawCiphertext, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return nil, fmt.Errorf("failed to decode ciphertext: %w", err)
	}

	plain, err := c.aead.Open(nil, rawIV, append(rawCiphertext, rawTag...), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt credentials: %w", err)
	}
	return plain, nil
}

func copyStrings(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
