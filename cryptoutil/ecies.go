// BSD 3-Clause License
//
// Copyright (c) 2020, Sperax
// All rights reserved.
//
// Redistribution and use in source and binary forms, with or without
// modification, are permitted provided that the following conditions are met:
//
// 1. Redistributions of source code must retain the above copyright notice, this
//    list of conditions and the following disclaimer.
//
// 2. Redistributions in binary form must reproduce the above copyright notice,
//    this list of conditions and the following disclaimer in the documentation
//    and/or other materials provided with the distribution.
//
// 3. Neither the name of the copyright holder nor the names of its
//    contributors may be used to endorse or promote products derived from
//    this software without specific prior written permission.
//
// THIS SOFTWARE IS PROVIDED BY THE COPYRIGHT HOLDERS AND CONTRIBUTORS "AS IS"
// AND ANY EXPRESS OR IMPLIED WARRANTIES, INCLUDING, BUT NOT LIMITED TO, THE
// IMPLIED WARRANTIES OF MERCHANTABILITY AND FITNESS FOR A PARTICULAR PURPOSE ARE
// DISCLAIMED. IN NO EVENT SHALL THE COPYRIGHT HOLDER OR CONTRIBUTORS BE LIABLE
// FOR ANY DIRECT, INDIRECT, INCIDENTAL, SPECIAL, EXEMPLARY, OR CONSEQUENTIAL
// DAMAGES (INCLUDING, BUT NOT LIMITED TO, PROCUREMENT OF SUBSTITUTE GOODS OR
// SERVICES; LOSS OF USE, DATA, OR PROFITS; OR BUSINESS INTERRUPTION) HOWEVER
// CAUSED AND ON ANY THEORY OF LIABILITY, WHETHER IN CONTRACT, STRICT LIABILITY,
// OR TORT (INCLUDING NEGLIGENCE OR OTHERWISE) ARISING IN ANY WAY OUT OF THE USE
// OF THIS SOFTWARE, EVEN IF ADVISED OF THE POSSIBILITY OF SUCH DAMAGE.

package cryptoutil

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"io"
)

// ECIES wraps a single message for a single recipient: an ephemeral
// keypair's public point, an AES-CTR ciphertext under a key derived from
// the ECDH shared secret, and an HMAC-SHA256 tag — SEC 1 5.1, the same
// construction go-ethereum's in-tree crypto/ecies package uses. This is
// what binds every post-handshake frame (§4.1) and every document-key
// ciphertext returned to a requestor (§4.7).
const (
	aesKeyLen = 32
	macKeyLen = 32
)

var (
	// ErrMessageTooShort is returned when a ciphertext is too short to
	// contain an ephemeral public key, IV and MAC tag.
	ErrMessageTooShort = errors.New("cryptoutil: ecies ciphertext too short")
	// ErrMessageTag is returned when the HMAC tag does not verify.
	ErrMessageTag = errors.New("cryptoutil: ecies mac check failed")
)

// Encrypt encrypts m so that only the holder of pub's private key can
// decrypt it.
func Encrypt(pub PublicKey, m []byte) ([]byte, error) {
	ephemeral, err := GenerateKey()
	if err != nil {
		return nil, err
	}
	shared := pub.ScalarMult(ephemeral.D)
	if shared.IsZero() {
		return nil, ErrZeroScalar
	}

	ke, km := deriveKeys(shared.X.Bytes())

	iv := make([]byte, aes.BlockSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(ke)
	if err != nil {
		return nil, err
	}
	ciphertext := make([]byte, len(m))
	cipher.NewCTR(block, iv).XORKeyStream(ciphertext, m)

	tag := messageTag(km, iv, ciphertext)

	rb := ephemeral.Public.Bytes()
	out := make([]byte, 0, len(rb)+len(iv)+len(ciphertext)+len(tag))
	out = append(out, rb...)
	out = append(out, iv...)
	out = append(out, ciphertext...)
	out = append(out, tag...)
	return out, nil
}

// Decrypt reverses Encrypt using priv.
func Decrypt(priv *PrivateKey, c []byte) ([]byte, error) {
	const rbLen = 64 // PublicKey.Bytes() length
	if len(c) < rbLen+aes.BlockSize+sha256.Size {
		return nil, ErrMessageTooShort
	}

	rb := c[:rbLen]
	iv := c[rbLen : rbLen+aes.BlockSize]
	ciphertext := c[rbLen+aes.BlockSize : len(c)-sha256.Size]
	tag := c[len(c)-sha256.Size:]

	ephemeralPub, err := ParsePublicKey(rb)
	if err != nil {
		return nil, err
	}
	shared := ephemeralPub.ScalarMult(priv.D)
	if shared.IsZero() {
		return nil, ErrZeroScalar
	}

	ke, km := deriveKeys(shared.X.Bytes())

	if subtle.ConstantTimeCompare(messageTag(km, iv, ciphertext), tag) != 1 {
		return nil, ErrMessageTag
	}

	block, err := aes.NewCipher(ke)
	if err != nil {
		return nil, err
	}
	plaintext := make([]byte, len(ciphertext))
	cipher.NewCTR(block, iv).XORKeyStream(plaintext, ciphertext)
	return plaintext, nil
}

// deriveKeys runs a NIST SP 800-56A concatenation KDF over the ECDH shared
// secret to produce independent encryption and MAC keys.
func deriveKeys(z []byte) (ke, km []byte) {
	k := concatKDF(z, aesKeyLen+macKeyLen)
	return k[:aesKeyLen], k[aesKeyLen:]
}

func concatKDF(z []byte, kdLen int) []byte {
	var (
		counter = uint32(1)
		out     []byte
		ctrBuf  [4]byte
	)
	for len(out) < kdLen {
		binary.BigEndian.PutUint32(ctrBuf[:], counter)
		h := sha256.New()
		h.Write(ctrBuf[:])
		h.Write(z)
		out = append(out, h.Sum(nil)...)
		counter++
	}
	return out[:kdLen]
}

func messageTag(km, iv, ciphertext []byte) []byte {
	mac := hmac.New(sha256.New, km)
	mac.Write(iv)
	mac.Write(ciphertext)
	return mac.Sum(nil)
}
