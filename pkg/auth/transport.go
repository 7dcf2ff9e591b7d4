package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

// Keypair is the process-wide RSA-2048 keypair generated at startup.
// Browsers fetch the public key from /api/public-key and send passwords
// as base64(OAEP-SHA256(password)); the keypair never leaves memory and
// rotates on restart.
type Keypair struct {
	private *rsa.PrivateKey
}

// NewKeypair generates a fresh RSA-2048 keypair.
func NewKeypair() (*Keypair, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("failed to generate RSA keypair: %w", err)
	}
	return &Keypair{private: key}, nil
}

// PublicKey returns the modulus and exponent as lowercase hex, the wire
// form /api/public-key serves.
func (k *Keypair) PublicKey() (modulusHex, exponentHex string) {
	pub := k.private.Public().(*rsa.PublicKey)
	return fmt.Sprintf("%x", pub.N), fmt.Sprintf("%x", pub.E)
}

// DecryptPassword reverses the browser-side encryption: base64 decode,
// then RSA-OAEP with SHA-256. Any failure means the client encrypted
// against a stale key or not at all.
func (k *Keypair) DecryptPassword(encoded string) (string, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("invalid base64: %w", err)
	}
	plaintext, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, k.private, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("RSA decryption failed: %w", err)
	}
	return string(plaintext), nil
}

// EncryptPassword applies the browser-side transformation. Used by
// tests and client tooling.
func (k *Keypair) EncryptPassword(password string) (string, error) {
	pub := k.private.Public().(*rsa.PublicKey)
	ciphertext, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, []byte(password), nil)
	if err != nil {
		return "", fmt.Errorf("RSA encryption failed: %w", err)
	}
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}
