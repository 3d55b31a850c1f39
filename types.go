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

// Package keyserver holds the data model shared by every other package in
// this module: node and session identity, the persisted document key
// share, and the cluster-wide error taxonomy (§3 of the design).
package keyserver

import (
	"encoding/hex"
	"math/big"

	"github.com/sperax/keyserver/cryptoutil"
)

// NodeId identifies a cluster member by its long-term EC public key.
// Cluster membership is a fixed NodeId -> (address, port) map known at
// startup (§3).
type NodeId = cryptoutil.PublicKey

// SessionId is the 32-byte document address: the session id equals the
// document address (§3).
type SessionId [32]byte

// String renders a SessionId as hex for logging.
func (s SessionId) String() string { return hex.EncodeToString(s[:]) }

// SessionKind distinguishes the two session state machines that may run
// concurrently under the same SessionId (§3: "at most one live session
// per (SessionId, session kind)").
type SessionKind int

const (
	// KindEncryption is a distributed key generation session (§4.5).
	KindEncryption SessionKind = iota
	// KindDecryption is a threshold reconstruction session (§4.6).
	KindDecryption
)

func (k SessionKind) String() string {
	switch k {
	case KindEncryption:
		return "encryption"
	case KindDecryption:
		return "decryption"
	default:
		return "unknown"
	}
}

// ClusterMember is one entry of the fixed membership map: a node's public
// key together with the address it can be dialed on.
type ClusterMember struct {
	Id   NodeId
	Addr string
}

// DocumentKeyShare is the durable, per-document record a node persists at
// the end of a successful encryption session (§3). own_secret_share is
// this node's share only; no other node's share is ever stored here.
type DocumentKeyShare struct {
	Threshold      int
	Author         NodeId
	CommonPoint    cryptoutil.PublicKey
	EncryptedPoint cryptoutil.PublicKey
	// PublicCoeffs are this node's own polynomial's public coefficients,
	// as published during dissemination (§4.5 step 4). They are persisted
	// with the share; the session code does not read them back.
	PublicCoeffs []cryptoutil.PublicKey
	OwnShare     *big.Int
	// IdNumbers maps every participating node to the scalar x-coordinate
	// it was assigned for this session (§3: "domain equals the set of
	// participating nodes").
	IdNumbers map[string]*big.Int
	// Participants preserves NodeId values in the same canonical order as
	// IdNumbers' keys, so Lagrange combination can be replayed without
	// re-deriving node identities from their string keys.
	Participants []NodeId
}

// IdNumberOf returns the scalar id-number assigned to node, and whether it
// participated in the session that produced this share.
func (d *DocumentKeyShare) IdNumberOf(node NodeId) (*big.Int, bool) {
	x, ok := d.IdNumbers[NodeKey(node)]
	return x, ok
}

// NodeKey returns the canonical map key for a NodeId: the hex encoding of
// its 64-byte point encoding, so NodeId values (which embed *big.Int
// pointers and so aren't comparable/hashable themselves) can key maps.
func NodeKey(n NodeId) string {
	return hex.EncodeToString(n.Bytes())
}
