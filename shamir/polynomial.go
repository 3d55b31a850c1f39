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

// Package shamir implements the polynomial sampling, evaluation, public
// commitment and Lagrange-interpolation math shared by the encryption
// (distributed key generation) and decryption (threshold reconstruction)
// sessions — component 3 of the design, §4.5-§4.6 of the spec. All scalar
// arithmetic is modulo the curve order cryptoutil.N, grounded on the
// secret-polynomial/commitment/combine shape of the retrieved DKG
// implementations (keep-core's gjkr, DeDiS's share/vss).
package shamir

import (
	"math/big"

	"github.com/sperax/keyserver/cryptoutil"
)

// Polynomial is a_0 + a_1*x + ... + a_t*x^t, coefficients mod N. a_0 is the
// secret the polynomial shares.
type Polynomial []*big.Int

// Generate samples a fresh random polynomial of the given degree with
// secret as its constant term. degree == threshold, so degree+1
// coefficients are produced (§4.5: "degree t").
func Generate(secret *big.Int, degree int) (Polynomial, error) {
	p := make(Polynomial, degree+1)
	p[0] = new(big.Int).Mod(secret, cryptoutil.N)
	for i := 1; i <= degree; i++ {
		s, err := cryptoutil.RandomScalar()
		if err != nil {
			return nil, err
		}
		p[i] = s
	}
	return p, nil
}

// GenerateRandom samples a polynomial of the given degree with a fresh
// random secret (used for the verification-blind polynomial in step 4 of
// §4.5, which has no meaningful constant term of its own).
func GenerateRandom(degree int) (Polynomial, error) {
	secret, err := cryptoutil.RandomScalar()
	if err != nil {
		return nil, err
	}
	return Generate(secret, degree)
}

// Eval evaluates the polynomial at x mod N using Horner's method.
func (p Polynomial) Eval(x *big.Int) *big.Int {
	result := new(big.Int).Set(p[len(p)-1])
	for i := len(p) - 2; i >= 0; i-- {
		result.Mul(result, x)
		result.Add(result, p[i])
		result.Mod(result, cryptoutil.N)
	}
	return result
}

// Secret returns the polynomial's constant term, i.e. p.Eval(0).
func (p Polynomial) Secret() *big.Int {
	return new(big.Int).Set(p[0])
}

// PublicCoeffs returns g^a_j for every coefficient a_j, the values a
// recipient uses to verify a dissemination share against (§4.5 step 5).
func (p Polynomial) PublicCoeffs() []cryptoutil.PublicKey {
	out := make([]cryptoutil.PublicKey, len(p))
	for i, a := range p {
		out[i] = cryptoutil.BasePointMult(a)
	}
	return out
}

// VerifyShare checks that g^share equals sum_j(x^j * publicCoeffs[j]),
// i.e. that `share` is genuinely p(x) for the polynomial committed to by
// publicCoeffs, without learning p itself. A failed check corresponds to
// the Complaint branch of §4.5 step 5.
func VerifyShare(share *big.Int, x *big.Int, publicCoeffs []cryptoutil.PublicKey) bool {
	lhs := cryptoutil.BasePointMult(share)

	rhs := publicCoeffs[0]
	xPow := new(big.Int).Set(x)
	for j := 1; j < len(publicCoeffs); j++ {
		term := publicCoeffs[j].ScalarMult(xPow)
		rhs = rhs.Add(term)
		xPow = new(big.Int).Mod(new(big.Int).Mul(xPow, x), cryptoutil.N)
	}
	return lhs.Equal(rhs)
}

// SumShares adds a set of received scalar shares mod N: this is how a node
// computes "its own secret share as the sum of received evaluations"
// (§4.5 step 6).
func SumShares(shares []*big.Int) *big.Int {
	sum := new(big.Int)
	for _, s := range shares {
		sum.Add(sum, s)
	}
	return sum.Mod(sum, cryptoutil.N)
}
