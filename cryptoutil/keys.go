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

// Package cryptoutil wraps the elliptic-curve primitives the cluster and
// its sessions are built on: keypair generation, recoverable signatures,
// ECDH-derived link keys reduced modulo the curve order, and single-message
// ECIES encryption.
package cryptoutil

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"errors"
	"math/big"

	"github.com/btcsuite/btcd/btcec"
)

// Curve is the curve used throughout the cluster: secp256k1, the same
// curve the teacher's consensus engine signs with (btcec.S256()).
var Curve elliptic.Curve = btcec.S256()

// N is the curve order, used for all scalar-field arithmetic in this
// package and in package shamir.
var N = Curve.Params().N

var (
	// ErrInvalidPublicKey is returned when a byte string does not decode
	// to a point on Curve.
	ErrInvalidPublicKey = errors.New("cryptoutil: invalid public key")
	// ErrZeroScalar is returned when an operation that requires a nonzero
	// scalar mod N receives zero.
	ErrZeroScalar = errors.New("cryptoutil: scalar reduces to zero mod curve order")
)

// PrivateKey is this node's or this session's long-term or ephemeral secret.
type PrivateKey struct {
	D      *big.Int
	Public PublicKey
}

// PublicKey is an EC public key: a point on Curve. NodeId in the data
// model (§3) is exactly a serialized PublicKey.
type PublicKey struct {
	X, Y *big.Int
}

// GenerateKey creates a fresh random keypair on Curve.
func GenerateKey() (*PrivateKey, error) {
	priv, x, y, err := elliptic.GenerateKey(Curve, rand.Reader)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{
		D:      new(big.Int).SetBytes(priv),
		Public: PublicKey{X: x, Y: y},
	}, nil
}

// RandomScalar returns a fresh scalar in [1, N).
func RandomScalar() (*big.Int, error) {
	for {
		b := make([]byte, (N.BitLen()+7)/8)
		if _, err := rand.Read(b); err != nil {
			return nil, err
		}
		s := new(big.Int).SetBytes(b)
		s.Mod(s, N)
		if s.Sign() != 0 {
			return s, nil
		}
	}
}

// ReduceScalar reduces an arbitrary byte string's integer value modulo N.
// Used to turn a raw ECDH x-coordinate into a usable scalar (§4.1): "raw
// ECDH output may fall outside the valid scalar range and must be reduced".
func ReduceScalar(b []byte) *big.Int {
	s := new(big.Int).SetBytes(b)
	return s.Mod(s, N)
}

// Bytes returns the 32-byte big-endian encoding of the public key's X
// coordinate concatenated with Y — the canonical NodeId encoding.
func (p PublicKey) Bytes() []byte {
	out := make([]byte, 64)
	p.X.FillBytes(out[:32])
	p.Y.FillBytes(out[32:])
	return out
}

// ParsePublicKey decodes the 64-byte X||Y encoding produced by Bytes.
func ParsePublicKey(b []byte) (PublicKey, error) {
	if len(b) != 64 {
		return PublicKey{}, ErrInvalidPublicKey
	}
	x := new(big.Int).SetBytes(b[:32])
	y := new(big.Int).SetBytes(b[32:])
	if !Curve.IsOnCurve(x, y) {
		return PublicKey{}, ErrInvalidPublicKey
	}
	return PublicKey{X: x, Y: y}, nil
}

// Equal reports whether two public keys are the same curve point.
func (p PublicKey) Equal(o PublicKey) bool {
	return p.X.Cmp(o.X) == 0 && p.Y.Cmp(o.Y) == 0
}

// Less provides the canonical NodeId byte-order comparison used to order
// participants for Lagrange interpolation (§4.5 "canonicalized by NodeId
// byte order").
func (p PublicKey) Less(o PublicKey) bool {
	return bytesCompare(p.Bytes(), o.Bytes()) < 0
}

func bytesCompare(a, b []byte) int {
	for i := range a {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

// ECDSA converts to/from the stdlib representation for interop with
// signing helpers that expect *ecdsa.PrivateKey/*ecdsa.PublicKey.
func (p *PrivateKey) ECDSA() *ecdsa.PrivateKey {
	return &ecdsa.PrivateKey{
		PublicKey: ecdsa.PublicKey{Curve: Curve, X: p.Public.X, Y: p.Public.Y},
		D:         p.D,
	}
}

// ECDSA converts a PublicKey to the stdlib representation.
func (p PublicKey) ECDSA() *ecdsa.PublicKey {
	return &ecdsa.PublicKey{Curve: Curve, X: p.X, Y: p.Y}
}

// FromECDSAPrivate imports a stdlib secp256k1 private key.
func FromECDSAPrivate(priv *ecdsa.PrivateKey) *PrivateKey {
	return &PrivateKey{D: priv.D, Public: PublicKey{X: priv.PublicKey.X, Y: priv.PublicKey.Y}}
}

// FromECDSAPublic imports a stdlib secp256k1 public key.
func FromECDSAPublic(pub *ecdsa.PublicKey) PublicKey {
	return PublicKey{X: pub.X, Y: pub.Y}
}

// ScalarMult multiplies the public key by a scalar: used for Lagrange
// combination of public shares and for ECIES ephemeral key agreement.
func (p PublicKey) ScalarMult(k *big.Int) PublicKey {
	x, y := Curve.ScalarMult(p.X, p.Y, k.Bytes())
	return PublicKey{X: x, Y: y}
}

// Add adds two points on Curve: used to sum partial decryptions (§4.6) and
// to combine public share commitments into the joint public key (§4.5).
func (p PublicKey) Add(o PublicKey) PublicKey {
	x, y := Curve.Add(p.X, p.Y, o.X, o.Y)
	return PublicKey{X: x, Y: y}
}

// Negate returns -p: the point with the same X coordinate and Y negated
// modulo the field prime. Used to subtract points (§4.6: document key is
// encrypted_point minus the combined partial-decryption point).
func (p PublicKey) Negate() PublicKey {
	y := new(big.Int).Neg(p.Y)
	y.Mod(y, Curve.Params().P)
	return PublicKey{X: p.X, Y: y}
}

// BasePointMult returns scalar·G.
func BasePointMult(k *big.Int) PublicKey {
	x, y := Curve.ScalarBaseMult(k.Bytes())
	return PublicKey{X: x, Y: y}
}

// IsZero reports whether p is the point at infinity (nil coordinates, as
// produced by a failed ScalarMult of an invalid point).
func (p PublicKey) IsZero() bool {
	return p.X == nil || p.Y == nil || (p.X.Sign() == 0 && p.Y.Sign() == 0)
}

// btcecPrivateKey adapts a PrivateKey to *btcec.PrivateKey for use with
// btcec's compact-signature routines.
func (p *PrivateKey) btcecPrivateKey() *btcec.PrivateKey {
	priv, _ := btcec.PrivKeyFromBytes(btcec.S256(), p.D.Bytes())
	return priv
}
