package ports

import "archie-core-connections-layer/internal/domain"

// CredentialCodec is the single encryption boundary for credentials at rest
type CredentialCodec interface {
	// Encrypt converts a connection into its stored form
	Encrypt(conn *domain.Connection) (*domain.StoredConnection, error)

	// Decrypt converts a stored connection back into its in-memory form
	Decrypt(stored *domain.StoredConnection) (*domain.Connection, error)

	// SealSecret encrypts one secret string, returning ciphertext, iv and tag
	SealSecret(plaintext string) (ciphertext, iv, tag string, err error)

	// OpenSecret reverses SealSecret; an empty iv means plaintext
	OpenSecret(ciphertext, iv, tag string) (string, error)

	// Enabled reports whether an encryption key is configured
	Enabled() bool
}
