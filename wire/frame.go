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
	"encoding/json"
	"io"

	keyserver "github.com/sperax/keyserver"
	"github.com/sperax/keyserver/cryptoutil"
)

// Frame is a decoded message: its kind plus the still-encoded JSON
// payload. Callers unmarshal Payload into the struct matching Kind.
type Frame struct {
	Kind    Kind
	Payload []byte
}

// WriteCleartext serializes msg as kind and writes it to w unencrypted.
// Used only for the handshake messages of §4.2, before a link key exists.
func WriteCleartext(w io.Writer, kind Kind, msg interface{}) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return keyserver.WrapError(keyserver.ErrSerde, err)
	}
	return writeFrame(w, kind, body)
}

// ReadCleartext reads one unencrypted frame from r.
func ReadCleartext(r io.Reader) (Frame, error) {
	return readFrame(r)
}

// WriteEncrypted serializes msg, ECIES-wraps it under link's shared point
// and writes the result to w as a single frame (§4.1: "every frame after
// the handshake is ECIES-encrypted under the connection's link key").
func WriteEncrypted(w io.Writer, link *cryptoutil.LinkKeyPair, kind Kind, msg interface{}) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return keyserver.WrapError(keyserver.ErrSerde, err)
	}
	sealed, err := cryptoutil.Encrypt(link.Point, body)
	if err != nil {
		return keyserver.WrapError(keyserver.ErrEthKey, err)
	}
	return writeFrame(w, kind, sealed)
}

// ReadEncrypted reads one frame from r and ECIES-unwraps its payload under
// link's shared scalar.
func ReadEncrypted(r io.Reader, link *cryptoutil.LinkKeyPair) (Frame, error) {
	f, err := readFrame(r)
	if err != nil {
		return Frame{}, err
	}
	plain, err := cryptoutil.Decrypt(link.PrivateKey(), f.Payload)
	if err != nil {
		return Frame{}, keyserver.WrapError(keyserver.ErrEthKey, err)
	}
	return Frame{Kind: f.Kind, Payload: plain}, nil
}

func writeFrame(w io.Writer, kind Kind, payload []byte) error {
	if len(payload) > MaxPayloadSize {
		return keyserver.NewError(keyserver.ErrInvalidMessage, "payload of %d bytes exceeds maximum of %d", len(payload), MaxPayloadSize)
	}
	h := Header{Version: Version, Kind: kind, Size: uint16(len(payload))}
	buf := make([]byte, HeaderSize+len(payload))
	h.Encode(buf[:HeaderSize])
	copy(buf[HeaderSize:], payload)
	_, err := w.Write(buf)
	if err != nil {
		return keyserver.WrapError(keyserver.ErrIO, err)
	}
	return nil
}

func readFrame(r io.Reader) (Frame, error) {
	hbuf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, hbuf); err != nil {
		return Frame{}, keyserver.WrapError(keyserver.ErrIO, err)
	}
	h, err := DecodeHeader(hbuf)
	if err != nil {
		return Frame{}, err
	}
	payload := make([]byte, h.Size)
	if h.Size > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return Frame{}, keyserver.WrapError(keyserver.ErrIO, err)
		}
	}
	return Frame{Kind: h.Kind, Payload: payload}, nil
}

// Decode unmarshals f's payload into v, the struct matching f.Kind.
func (f Frame) Decode(v interface{}) error {
	if err := json.Unmarshal(f.Payload, v); err != nil {
		return keyserver.WrapError(keyserver.ErrSerde, err)
	}
	return nil
}
