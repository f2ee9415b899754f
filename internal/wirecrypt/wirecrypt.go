// Package wirecrypt implements the optional post-framing wire cipher
// (off by default). A symmetric stream cipher applied to a frame's
// body after the length prefix is stripped, so framing itself stays in
// cleartext and only the payload is obscured.
package wirecrypt

import (
	"crypto/cipher"
	"fmt"

	"golang.org/x/crypto/blowfish"
)

// Cipher encrypts/decrypts frame bodies in place using Blowfish-CFB. A
// zero Cipher (no key configured) is a no-op passthrough, matching
// frame_cipher: false in config.
type Cipher struct {
	block cipher.Block
	iv    []byte
}

// New builds a Cipher from a key. An empty key yields a no-op Cipher.
func New(key []byte) (*Cipher, error) {
	if len(key) == 0 {
		return &Cipher{}, nil
	}
	block, err := blowfish.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("wirecrypt: new blowfish cipher: %w", err)
	}
	iv := make([]byte, blowfish.BlockSize)
	copy(iv, key) // deterministic IV derived from the key, reused for
	// every frame in both directions — this is not a general-purpose
	// transport cipher, just obfuscation against casual packet
	// inspection on the client session link.
	return &Cipher{block: block, iv: iv}, nil
}

// Enabled reports whether this Cipher actually transforms bytes.
func (c *Cipher) Enabled() bool { return c != nil && c.block != nil }

// Encrypt transforms plaintext in place, returning the same slice.
func (c *Cipher) Encrypt(data []byte) []byte {
	if !c.Enabled() {
		return data
	}
	stream := cipher.NewCFBEncrypter(c.block, c.iv)
	stream.XORKeyStream(data, data)
	return data
}

// Decrypt transforms ciphertext in place, returning the same slice.
// Like Encrypt, every call starts a fresh Blowfish-CFB stream at the
// key-derived IV, so each frame decrypts on its own, independent of
// the order of other frames.
func (c *Cipher) Decrypt(data []byte) []byte {
	if !c.Enabled() {
		return data
	}
	stream := cipher.NewCFBDecrypter(c.block, c.iv)
	stream.XORKeyStream(data, data)
	return data
}
