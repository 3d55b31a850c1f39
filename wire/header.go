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

// Package wire implements the on-wire framing described in §4.1: a fixed
// 4-byte header (version, kind, little-endian size) followed by a
// JSON-encoded payload, plus the two framing layers (cleartext for the
// handshake, ECIES-encrypted for everything after) and the stable kind
// table.
//
// Frame format:
// |version(1)|kind(1)|size(2, little-endian)|payload(size)...|
package wire

import (
	"encoding/binary"

	keyserver "github.com/sperax/keyserver"
)

// HeaderSize is the fixed length of a MessageHeader on the wire.
const HeaderSize = 4

// Version is the only accepted protocol version (§3, §4.1).
const Version = 1

// MaxPayloadSize is the largest payload a header's 16-bit size field can
// describe (§3: "size <= 65535").
const MaxPayloadSize = 65535

// Kind selects the payload schema carried by a frame. Numbers are stable
// wire constants (§4.1's kind table), never reordered.
type Kind byte

const (
	KindNodePublicKey           Kind = 1
	KindNodePrivateKeySignature Kind = 2
	KindKeepAlive               Kind = 3
	KindKeepAliveResponse       Kind = 4

	KindInitializeSession       Kind = 50
	KindConfirmInitialization   Kind = 51
	KindCompleteInitialization  Kind = 52
	KindKeysDissemination       Kind = 53
	KindComplaint               Kind = 54
	KindComplaintResponse       Kind = 55
	KindPublicKeyShare          Kind = 56
	KindSessionError            Kind = 57
	KindSessionCompleted        Kind = 58

	KindInitializeDecryptionSession     Kind = 100
	KindConfirmDecryptionInitialization Kind = 101
	KindRequestPartialDecryption        Kind = 102
	KindPartialDecryption               Kind = 103
	KindDecryptionSessionError          Kind = 104
)

var kindNames = map[Kind]string{
	KindNodePublicKey:                   "NodePublicKey",
	KindNodePrivateKeySignature:         "NodePrivateKeySignature",
	KindKeepAlive:                       "KeepAlive",
	KindKeepAliveResponse:               "KeepAliveResponse",
	KindInitializeSession:               "InitializeSession",
	KindConfirmInitialization:           "ConfirmInitialization",
	KindCompleteInitialization:          "CompleteInitialization",
	KindKeysDissemination:               "KeysDissemination",
	KindComplaint:                       "Complaint",
	KindComplaintResponse:               "ComplaintResponse",
	KindPublicKeyShare:                  "PublicKeyShare",
	KindSessionError:                    "SessionError",
	KindSessionCompleted:                "SessionCompleted",
	KindInitializeDecryptionSession:     "InitializeDecryptionSession",
	KindConfirmDecryptionInitialization: "ConfirmDecryptionInitialization",
	KindRequestPartialDecryption:        "RequestPartialDecryption",
	KindPartialDecryption:               "PartialDecryption",
	KindDecryptionSessionError:          "DecryptionSessionError",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// IsEncryptionSessionKind reports whether k belongs to an encryption
// (DKG) session's protocol, as opposed to handshake/keepalive or
// decryption-session kinds.
func (k Kind) IsEncryptionSessionKind() bool {
	return k >= KindInitializeSession && k <= KindSessionCompleted
}

// IsDecryptionSessionKind reports whether k belongs to a decryption
// session's protocol.
func (k Kind) IsDecryptionSessionKind() bool {
	return k >= KindInitializeDecryptionSession && k <= KindDecryptionSessionError
}

// Header is the fixed-size frame prefix (§3 "MessageHeader").
type Header struct {
	Version byte
	Kind    Kind
	Size    uint16
}

// Encode writes the header's 4-byte wire representation into buf, which
// must be at least HeaderSize bytes.
func (h Header) Encode(buf []byte) {
	buf[0] = h.Version
	buf[1] = byte(h.Kind)
	binary.LittleEndian.PutUint16(buf[2:4], h.Size)
}

// DecodeHeader parses a 4-byte buffer into a Header, rejecting any version
// other than 1 (§3, §4.1).
func DecodeHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, keyserver.NewError(keyserver.ErrInvalidMessage, "short header: %d bytes", len(buf))
	}
	h := Header{
		Version: buf[0],
		Kind:    Kind(buf[1]),
		Size:    binary.LittleEndian.Uint16(buf[2:4]),
	}
	if h.Version != Version {
		return Header{}, keyserver.NewError(keyserver.ErrInvalidMessage, "unsupported protocol version %d", h.Version)
	}
	return h, nil
}
