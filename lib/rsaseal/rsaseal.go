// Copyright 2026 The Parley Authors
// SPDX-License-Identifier: Apache-2.0

// Package rsaseal implements the asymmetric primitive behind peer
// verification: 2048-bit RSA-OAEP with SHA-256.
//
// The verification engine treats encryption as an opaque collaborator
// (see [verify.Cipher]); this package is the production implementation.
// It deliberately exposes nothing about key trust or key exchange —
// callers obtain and distribute keys out of band.
package rsaseal

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"fmt"
)

// KeyBits is the RSA modulus size used by GenerateKey.
const KeyBits = 2048

// Sealer encrypts and decrypts short payloads with RSA-OAEP. The zero
// value is ready to use.
type Sealer struct{}

// Encrypt seals plaintext to the holder of the private key paired with
// pub. pub must be an *rsa.PublicKey.
func (Sealer) Encrypt(pub crypto.PublicKey, plaintext []byte) ([]byte, error) {
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("rsaseal: public key is %T, want *rsa.PublicKey", pub)
	}
	ciphertext, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, rsaPub, plaintext, nil)
	if err != nil {
		return nil, fmt.Errorf("rsaseal: encrypting %d bytes: %w", len(plaintext), err)
	}
	return ciphertext, nil
}

// Decrypt opens ciphertext with priv. priv must be an *rsa.PrivateKey.
// Fails for ciphertext sealed to a different key or tampered with in
// transit; OAEP gives no more detail than "decryption error", and none
// is propagated.
func (Sealer) Decrypt(priv crypto.PrivateKey, ciphertext []byte) ([]byte, error) {
	rsaPriv, ok := priv.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("rsaseal: private key is %T, want *rsa.PrivateKey", priv)
	}
	plaintext, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, rsaPriv, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("rsaseal: decrypting %d bytes: %w", len(ciphertext), err)
	}
	return plaintext, nil
}

// GenerateKey returns a fresh 2048-bit RSA keypair.
func GenerateKey() (*rsa.PrivateKey, error) {
	key, err := rsa.GenerateKey(rand.Reader, KeyBits)
	if err != nil {
		return nil, fmt.Errorf("rsaseal: generating %d-bit key: %w", KeyBits, err)
	}
	return key, nil
}
