// SPDX-FileCopyrightText: 2024 The ofdgate authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package cipher provides the session payload protection: the negotiable
// cipher suites, the AEAD implementations behind them and the key agreement
// performed during the handshake.
package cipher

import (
	"crypto/aes"
	stdcipher "crypto/cipher"
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// Suite identifies a cipher suite. Suites form a bitmask during the
// handshake; the device offers a set and the gateway picks one member.
type Suite uint8

const (
	// SuiteNone leaves payloads in plaintext.
	SuiteNone Suite = 0x01

	// SuiteAESGCM protects payloads with AES-256-GCM.
	SuiteAESGCM Suite = 0x02

	// SuiteChaCha20 protects payloads with ChaCha20-Poly1305.
	SuiteChaCha20 Suite = 0x04
)

func (s Suite) String() string {
	switch s {
	case SuiteNone:
		return "none"
	case SuiteAESGCM:
		return "aes-256-gcm"
	case SuiteChaCha20:
		return "chacha20-poly1305"
	default:
		return fmt.Sprintf("unknown suite %#02x", uint8(s))
	}
}

// DecryptionError reports an undecipherable payload: damaged ciphertext, a
// wrong key or a truncated nonce.
type DecryptionError struct {
	Suite  Suite
	Reason string
}

func (e *DecryptionError) Error() string {
	return fmt.Sprintf("decryption with %v failed: %s", e.Suite, e.Reason)
}

// Cipher transforms frame payloads of one session.
type Cipher interface {
	// Suite identifies this cipher.
	Suite() Suite

	// Encrypt seals a plaintext payload.
	Encrypt(plaintext []byte) ([]byte, error)

	// Decrypt opens a sealed payload.
	Decrypt(ciphertext []byte) ([]byte, error)
}

// Negotiate picks the strongest suite out of the device's offer that the
// gateway allows. SuiteNone is picked last and only when allowed.
func Negotiate(offered, allowed uint8) (Suite, error) {
	mutual := offered & allowed
	for _, s := range []Suite{SuiteChaCha20, SuiteAESGCM, SuiteNone} {
		if mutual&uint8(s) != 0 {
			return s, nil
		}
	}
	return 0, fmt.Errorf("no common cipher suite in offer %#02x against %#02x", offered, allowed)
}

// New creates a Cipher for the suite with the given 32 byte session key.
// SuiteNone ignores the key.
func New(suite Suite, key []byte) (Cipher, error) {
	switch suite {
	case SuiteNone:
		return &noneCipher{}, nil

	case SuiteAESGCM:
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, err
		}
		aead, err := stdcipher.NewGCM(block)
		if err != nil {
			return nil, err
		}
		return &aeadCipher{suite: SuiteAESGCM, aead: aead}, nil

	case SuiteChaCha20:
		aead, err := chacha20poly1305.New(key)
		if err != nil {
			return nil, err
		}
		return &aeadCipher{suite: SuiteChaCha20, aead: aead}, nil

	default:
		return nil, fmt.Errorf("cannot instantiate unknown suite %#02x", uint8(suite))
	}
}

// noneCipher passes payloads through unmodified.
type noneCipher struct{}

func (nc *noneCipher) Suite() Suite {
	return SuiteNone
}

func (nc *noneCipher) Encrypt(plaintext []byte) ([]byte, error) {
	return plaintext, nil
}

func (nc *noneCipher) Decrypt(ciphertext []byte) ([]byte, error) {
	return ciphertext, nil
}

// aeadCipher seals payloads with an AEAD, prefixing each ciphertext with a
// fresh random nonce.
type aeadCipher struct {
	suite Suite
	aead  stdcipher.AEAD
}

func (ac *aeadCipher) Suite() Suite {
	return ac.suite
}

func (ac *aeadCipher) Encrypt(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, ac.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}

	return ac.aead.Seal(nonce, nonce, plaintext, nil), nil
}

func (ac *aeadCipher) Decrypt(ciphertext []byte) ([]byte, error) {
	nonceSize := ac.aead.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, &DecryptionError{Suite: ac.suite, Reason: "ciphertext shorter than the nonce"}
	}

	plaintext, err := ac.aead.Open(nil, ciphertext[:nonceSize], ciphertext[nonceSize:], nil)
	if err != nil {
		return nil, &DecryptionError{Suite: ac.suite, Reason: err.Error()}
	}
	return plaintext, nil
}
