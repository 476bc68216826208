// Package crypto seals small secrets at rest with AES-GCM. Sealed payloads
// carry a format version byte so the layout can evolve without breaking
// stored channel configs.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"io"
)

// payloadV1 layout: [version byte][nonce][ciphertext+tag]. The version byte
// is bound into the GCM additional data so it cannot be swapped.
const payloadV1 byte = 0x01

// ErrMalformedPayload reports a sealed payload too short or of an unknown
// format version.
var ErrMalformedPayload = errors.New("malformed sealed payload")

// EncryptString seals plaintext under the secret.
func EncryptString(secret string, plaintext string) ([]byte, error) {
	gcm, err := newGCM(secret)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	payload := make([]byte, 1, 1+len(nonce)+len(plaintext)+gcm.Overhead())
	payload[0] = payloadV1
	payload = append(payload, nonce...)
	return gcm.Seal(payload, nonce, []byte(plaintext), []byte{payloadV1}), nil
}

// DecryptToString opens a sealed payload back to plaintext.
func DecryptToString(secret string, payload []byte) (string, error) {
	gcm, err := newGCM(secret)
	if err != nil {
		return "", err
	}
	if len(payload) < 1+gcm.NonceSize() || payload[0] != payloadV1 {
		return "", ErrMalformedPayload
	}
	nonce := payload[1 : 1+gcm.NonceSize()]
	ciphertext := payload[1+gcm.NonceSize():]
	plain, err := gcm.Open(nil, nonce, ciphertext, []byte{payloadV1})
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

// newGCM derives a 32 byte key from the secret with SHA-256 so operators can
// configure keys of any length.
func newGCM(secret string) (cipher.AEAD, error) {
	key := sha256.Sum256([]byte(secret))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
