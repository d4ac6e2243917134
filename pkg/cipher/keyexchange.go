// SPDX-FileCopyrightText: 2024 The ofdgate authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package cipher

import (
	"crypto/rand"
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

// hkdfInfo binds derived keys to their purpose.
const hkdfInfo = "ofdgate-session-key"

// KeyPair holds one side's ephemeral X25519 key material for a single
// handshake.
type KeyPair struct {
	private [32]byte
	Public  [32]byte
}

// NewKeyPair generates an ephemeral key pair.
func NewKeyPair() (*KeyPair, error) {
	kp := &KeyPair{}
	if _, err := rand.Read(kp.private[:]); err != nil {
		return nil, err
	}

	public, err := curve25519.X25519(kp.private[:], curve25519.Basepoint)
	if err != nil {
		return nil, err
	}
	copy(kp.Public[:], public)

	return kp, nil
}

// SessionKey derives the 32 byte session key from this side's private key
// and the peer's public key. Both nonces from the handshake salt the
// derivation; the device's nonce always comes first, so both sides derive
// the same key.
func (kp *KeyPair) SessionKey(peerPublic [32]byte, deviceNonce, gatewayNonce [16]byte) ([]byte, error) {
	shared, err := curve25519.X25519(kp.private[:], peerPublic[:])
	if err != nil {
		return nil, err
	}

	salt := make([]byte, 0, 32)
	salt = append(salt, deviceNonce[:]...)
	salt = append(salt, gatewayNonce[:]...)

	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, shared, salt, []byte(hkdfInfo)), key); err != nil {
		return nil, err
	}
	return key, nil
}

// NewNonce draws 16 random bytes for the handshake salt.
func NewNonce() (nonce [16]byte, err error) {
	_, err = rand.Read(nonce[:])
	return
}
