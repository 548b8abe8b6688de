// Package crypto seals and opens the relay's payload buffers under a named
// AEAD cipher suite. It is a small cipher-suite registry, not a
// general-purpose crypto library: callers name a method and a key, and get
// back an opaque sealed/opened buffer.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
)

// Method names accepted by EncryptPayload/DecryptPayload.
const (
	MethodChaCha20IETFPoly1305 = "chacha20-ietf-poly1305"
	MethodAES256GCM            = "aes-256-gcm"
)

func newAEAD(method, key string) (cipher.AEAD, error) {
	k := []byte(key)
	switch method {
	case MethodChaCha20IETFPoly1305:
		if len(k) != chacha20poly1305.KeySize {
			return nil, fmt.Errorf("crypto: chacha20-ietf-poly1305 requires a %d-byte key", chacha20poly1305.KeySize)
		}
		return chacha20poly1305.NewX(k)
	case MethodAES256GCM:
		block, err := aes.NewCipher(k)
		if err != nil {
			return nil, fmt.Errorf("crypto: aes-256-gcm key: %w", err)
		}
		return cipher.NewGCM(block)
	default:
		return nil, fmt.Errorf("crypto: unknown method %q", method)
	}
}

// EncryptPayload seals plaintext under method+key, prefixing the random
// nonce to the returned ciphertext.
func EncryptPayload(method, key string, plaintext []byte) ([]byte, error) {
	aead, err := newAEAD(method, key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("crypto: generating nonce: %w", err)
	}

	out := make([]byte, 0, len(nonce)+len(plaintext)+aead.Overhead())
	out = append(out, nonce...)
	return aead.Seal(out, nonce, plaintext, nil), nil
}

// DecryptPayload opens a buffer produced by EncryptPayload. The second
// return value is false (with a nil error) when the ciphertext is shorter
// than the method's minimum frame size, distinguished from an
// authentication failure so callers can classify it as PacketTooShort
// rather than a generic decrypt error.
func DecryptPayload(method, key string, ciphertext []byte) ([]byte, bool, error) {
	aead, err := newAEAD(method, key)
	if err != nil {
		return nil, false, err
	}

	minLen := aead.NonceSize() + aead.Overhead()
	if len(ciphertext) < minLen {
		return nil, false, nil
	}

	nonce, sealed := ciphertext[:aead.NonceSize()], ciphertext[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, true, fmt.Errorf("crypto: decrypt failed: %w", err)
	}
	return plaintext, true, nil
}
