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

package wire

import (
	"math/big"

	keyserver "github.com/sperax/keyserver"
)

// Big is a JSON-friendly wrapper around *big.Int: the stdlib encoding
// renders *big.Int as a bare JSON number, which loses precision for
// values near the curve order, so payloads always go through this
// decimal-string form instead.
type Big struct{ *big.Int }

// MarshalJSON renders the integer as a quoted base-10 string.
func (b Big) MarshalJSON() ([]byte, error) {
	if b.Int == nil {
		return []byte(`"0"`), nil
	}
	return []byte(`"` + b.String() + `"`), nil
}

// UnmarshalJSON parses a quoted base-10 string back into *big.Int.
func (b *Big) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return keyserver.NewError(keyserver.ErrSerde, "invalid integer literal %q", s)
	}
	b.Int = n
	return nil
}

// BigOf wraps a *big.Int for marshaling; nil is encoded as "0".
func BigOf(n *big.Int) Big { return Big{n} }

// Point is the JSON wire representation of an EC point: X and Y as
// decimal strings.
type Point struct {
	X Big `json:"x"`
	Y Big `json:"y"`
}

// NodePublicKey is sent by both dialer and accepter to open a handshake
// (§4.2). NodeKey is the node's 64-byte X||Y public key encoding.
type NodePublicKey struct {
	NodeKey []byte   `json:"node_key"`
	Nonce   [32]byte `json:"nonce"`
}

// NodePrivateKeySignature answers a NodePublicKey's nonce with a
// recoverable signature over it (§4.2).
type NodePrivateKeySignature struct {
	Signature []byte `json:"signature"`
}

// KeepAlive and KeepAliveResponse implement the idle-connection probe of
// §4.2.
type KeepAlive struct {
	Nonce [16]byte `json:"nonce"`
}

// KeepAliveResponse echoes a KeepAlive's nonce.
type KeepAliveResponse struct {
	Nonce [16]byte `json:"nonce"`
}

// InitializeSession starts an encryption (DKG) session (§4.5 step 1).
type InitializeSession struct {
	SessionId      keyserver.SessionId `json:"session_id"`
	AuthorKey      []byte              `json:"author_key"`
	Nodes          map[string]Big      `json:"nodes"` // NodeKey -> id_number
	Threshold      int                 `json:"threshold"`
	CommonPoint    Point               `json:"common_point"`
	EncryptedPoint Point               `json:"encrypted_point"`
}

// ConfirmInitialization answers InitializeSession (§4.5 step 2).
type ConfirmInitialization struct {
	SessionId keyserver.SessionId `json:"session_id"`
	Ok        bool                `json:"ok"`
}

// CompleteInitialization is broadcast once all confirmations are in
// (§4.5 step 3).
type CompleteInitialization struct {
	SessionId    keyserver.SessionId `json:"session_id"`
	DerivedPoint Point               `json:"derived_point"`
}

// KeysDissemination carries one node's two polynomial evaluations for the
// recipient, plus the sender's public coefficients (§4.5 step 4).
type KeysDissemination struct {
	SessionId    keyserver.SessionId `json:"session_id"`
	Secret1      Big                 `json:"secret1"`
	Secret2      Big                 `json:"secret2"`
	PublicCoeffs []Point             `json:"public_coeffs"`
}

// Complaint is raised when a KeysDissemination share fails verification
// (§4.5 step 5). Against is the 64-byte key of the accused sender.
type Complaint struct {
	SessionId keyserver.SessionId `json:"session_id"`
	Against   []byte              `json:"against"`
}

// ComplaintResponse answers a Complaint by revealing the disputed share.
type ComplaintResponse struct {
	SessionId keyserver.SessionId `json:"session_id"`
	Share     Big                 `json:"share"`
}

// PublicKeyShare publishes a node's own public share once its secret
// share is computed (§4.5 step 6).
type PublicKeyShare struct {
	SessionId keyserver.SessionId `json:"session_id"`
	Share     Point               `json:"share"`
}

// SessionError is broadcast by any node that aborts an encryption session
// (§4.5, §7).
type SessionError struct {
	SessionId keyserver.SessionId `json:"session_id"`
	Kind      keyserver.ErrorKind `json:"kind"`
	Message   string              `json:"message"`
}

// SessionCompleted is the final all-ok acknowledgement of an encryption
// session (§4.5 step 7).
type SessionCompleted struct {
	SessionId keyserver.SessionId `json:"session_id"`
}

// InitializeDecryptionSession starts a decryption session (§4.6 step 3).
type InitializeDecryptionSession struct {
	SessionId    keyserver.SessionId `json:"session_id"`
	Signature    []byte              `json:"signature"`
	IsShadow     bool                `json:"is_shadow"`
	Requestor    []byte              `json:"requestor"`
	Participants [][]byte            `json:"participants"`
}

// ConfirmDecryptionInitialization answers InitializeDecryptionSession
// (§4.6 step 4).
type ConfirmDecryptionInitialization struct {
	SessionId keyserver.SessionId `json:"session_id"`
	Ok        bool                `json:"ok"`
}

// RequestPartialDecryption asks a confirmed participant to compute its
// partial decryption (§4.6 step 5).
type RequestPartialDecryption struct {
	SessionId    keyserver.SessionId `json:"session_id"`
	Participants [][]byte            `json:"participants"`
}

// PartialDecryption carries one participant's contribution back to the
// initiator, optionally ECIES-wrapped to the requestor in shadow mode
// (§4.6 step 5).
type PartialDecryption struct {
	SessionId         keyserver.SessionId `json:"session_id"`
	Point             Point               `json:"point"`
	ShadowCoefficient []byte              `json:"shadow_coefficient,omitempty"`
}

// DecryptionSessionError is broadcast by any participant that aborts a
// decryption session (§4.6 step 7, §7).
type DecryptionSessionError struct {
	SessionId keyserver.SessionId `json:"session_id"`
	Kind      keyserver.ErrorKind `json:"kind"`
	Message   string              `json:"message"`
}
