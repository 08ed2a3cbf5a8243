package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/nacl/secretbox"
	"golang.org/x/crypto/pbkdf2"
)

var errVaultSecretRequired = errors.New("token vault secret required")

const (
	cipherIterations = 4096
	nonceLength      = 24
)

// vaultSalt binds derived keys to this store; rotating the secret rotates
// every sealed token.
var vaultSalt = []byte("multicam-token-vault")

// tokenCipher seals refresh tokens with a secretbox key derived from the
// process-wide vault secret.
type tokenCipher struct {
	key [32]byte
}

func newTokenCipher(secret string) (*tokenCipher, error) {
	if secret == "" {
		return nil, errVaultSecretRequired
	}
	cipher := &tokenCipher{}
	derived := pbkdf2.Key([]byte(secret), vaultSalt, cipherIterations, len(cipher.key), sha256.New)
	copy(cipher.key[:], derived)
	return cipher, nil
}

func (c *tokenCipher) Seal(plaintext string) ([]byte, error) {
	var nonce [nonceLength]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return secretbox.Seal(nonce[:], []byte(plaintext), &nonce, &c.key), nil
}

func (c *tokenCipher) Open(sealed []byte) (string, error) {
	if len(sealed) < nonceLength {
		return "", errors.New("sealed token too short")
	}
	var nonce [nonceLength]byte
	copy(nonce[:], sealed[:nonceLength])
	plaintext, ok := secretbox.Open(nil, sealed[nonceLength:], &nonce, &c.key)
	if !ok {
		return "", errors.New("sealed token failed authentication")
	}
	return string(plaintext), nil
}
