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

import "math/big"

// LinkKeyPair is the short-lived keypair two peers derive by ECDH between
// their long-term keys, reduced modulo the curve order (§4.1, §8: "ECDH-
// derived link key lies in [1, curve_order) after reduction"). It is used
// only to ECIES-wrap post-handshake traffic between exactly these two
// peers; it is never persisted.
type LinkKeyPair struct {
	Scalar *big.Int
	Point  PublicKey
}

// DeriveLinkKey computes ECDH(selfSecret, peerPublic) and reduces the
// resulting x-coordinate modulo the curve order to obtain a usable scalar,
// then derives the corresponding public point. Both peers of a connection
// compute the same LinkKeyPair from opposite ends of the same ECDH
// relation: reduce(x(d_a * Q_b)) == reduce(x(d_b * Q_a)).
func DeriveLinkKey(self *PrivateKey, peer PublicKey) (*LinkKeyPair, error) {
	shared := peer.ScalarMult(self.D)
	if shared.IsZero() {
		return nil, ErrZeroScalar
	}
	scalar := ReduceScalar(shared.X.Bytes())
	if scalar.Sign() == 0 {
		return nil, ErrZeroScalar
	}
	return &LinkKeyPair{Scalar: scalar, Point: BasePointMult(scalar)}, nil
}

// PrivateKey exposes the link keypair as a PrivateKey for use with the
// ECIES routines below.
func (l *LinkKeyPair) PrivateKey() *PrivateKey {
	return &PrivateKey{D: l.Scalar, Public: l.Point}
}
