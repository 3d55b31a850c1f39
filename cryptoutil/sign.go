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
	"errors"

	"github.com/btcsuite/btcd/btcec"
	"golang.org/x/crypto/blake2b"
)

// SignatureSize is the length of a recoverable compact signature: 1 byte
// recovery id followed by 32-byte r and 32-byte s.
const SignatureSize = 65

// ErrBadSignature is returned when a signature fails to verify or recover.
var ErrBadSignature = errors.New("cryptoutil: bad signature")

// Hash256 is the digest function used to bind a signature to a message:
// document ids and nonces are signed over their blake2b-256 digest.
func Hash256(msg []byte) [32]byte {
	return blake2b.Sum256(msg)
}

// Sign produces a 65-byte recoverable signature over the blake2b-256 hash
// of msg. Used both for the requestor's document-id signature (§2 "Callers
// authenticate requests by producing an EC signature over the document
// identifier") and for the handshake's nonce signature (§4.2).
func Sign(priv *PrivateKey, msg []byte) ([]byte, error) {
	digest := Hash256(msg)
	sig, err := btcec.SignCompact(btcec.S256(), priv.btcecPrivateKey(), digest[:], false)
	if err != nil {
		return nil, err
	}
	return sig, nil
}

// RecoverPublic recovers the signer's public key from a signature produced
// by Sign over msg.
func RecoverPublic(sig, msg []byte) (PublicKey, error) {
	if len(sig) != SignatureSize {
		return PublicKey{}, ErrBadSignature
	}
	digest := Hash256(msg)
	pub, _, err := btcec.RecoverCompact(btcec.S256(), sig, digest[:])
	if err != nil {
		return PublicKey{}, ErrBadSignature
	}
	return PublicKey{X: pub.X, Y: pub.Y}, nil
}

// Verify checks that sig recovers to exactly the expected public key.
func Verify(sig, msg []byte, expected PublicKey) bool {
	recovered, err := RecoverPublic(sig, msg)
	if err != nil {
		return false
	}
	return recovered.Equal(expected)
}
