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

package shamir

import (
	"math/big"

	"github.com/sperax/keyserver/cryptoutil"
)

// CoefficientAtZero computes the Lagrange basis coefficient for the i-th
// point (by id-number xs[i]) evaluated at x=0, i.e.
//
//	L_i(0) = prod_{j != i} (0 - x_j) / (x_i - x_j)  (mod N)
//
// xs must be in the canonical NodeId byte-order the caller established
// (§4.5 "node ordering for Lagrange is canonicalized by NodeId byte
// order") before calling this, so that every participant computes the
// same coefficients for the same point set.
func CoefficientAtZero(xs []*big.Int, i int) *big.Int {
	num := big.NewInt(1)
	den := big.NewInt(1)
	xi := xs[i]
	for j, xj := range xs {
		if j == i {
			continue
		}
		num.Mul(num, new(big.Int).Mod(new(big.Int).Neg(xj), cryptoutil.N))
		num.Mod(num, cryptoutil.N)

		diff := new(big.Int).Sub(xi, xj)
		diff.Mod(diff, cryptoutil.N)
		den.Mul(den, diff)
		den.Mod(den, cryptoutil.N)
	}
	denInv := new(big.Int).ModInverse(den, cryptoutil.N)
	return num.Mul(num, denInv).Mod(num, cryptoutil.N)
}

// CombineScalarShares reconstructs the secret shared at x=0 from t+1
// (x_i, share_i) pairs of raw scalars: sum_i(L_i(0) * share_i) mod N. Used
// only in tests/auditing — no single node ever holds enough shares to call
// this in production, since §3 states no node stores another node's share.
func CombineScalarShares(xs []*big.Int, shares []*big.Int) *big.Int {
	sum := new(big.Int)
	for i := range xs {
		coeff := CoefficientAtZero(xs, i)
		term := new(big.Int).Mul(coeff, shares[i])
		sum.Add(sum, term)
		sum.Mod(sum, cryptoutil.N)
	}
	return sum
}

// CombinePublicPoints reconstructs the point shared at x=0 from t+1
// (x_i, point_i) pairs via EC-point Lagrange interpolation:
// sum_i(L_i(0) * point_i). Used to derive the joint public key from
// public shares (§4.5 step 7). Decryption does not call it: each partial
// decryption already carries its node's coefficient, so the initiator
// only adds the partial points.
func CombinePublicPoints(xs []*big.Int, points []cryptoutil.PublicKey) cryptoutil.PublicKey {
	var sum cryptoutil.PublicKey
	for i := range xs {
		coeff := CoefficientAtZero(xs, i)
		term := points[i].ScalarMult(coeff)
		if sum.X == nil {
			sum = term
			continue
		}
		sum = sum.Add(term)
	}
	return sum
}
