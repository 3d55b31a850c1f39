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
	"bytes"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	keyserver "github.com/sperax/keyserver"
	"github.com/sperax/keyserver/cryptoutil"
)

func TestHeaderRoundTrip(t *testing.T) {
	h := Header{Version: Version, Kind: KindKeepAlive, Size: 1234}
	buf := make([]byte, HeaderSize)
	h.Encode(buf)

	got, err := DecodeHeader(buf)
	require.Nil(t, err)
	assert.Equal(t, h, got)
}

func TestDecodeHeaderRejectsBadVersion(t *testing.T) {
	buf := []byte{7, byte(KindKeepAlive), 0, 0}
	_, err := DecodeHeader(buf)
	assert.Equal(t, keyserver.ErrInvalidMessage, keyserver.KindOf(err))
}

func TestDecodeHeaderRejectsShortBuffer(t *testing.T) {
	_, err := DecodeHeader([]byte{1, 2})
	assert.Equal(t, keyserver.ErrInvalidMessage, keyserver.KindOf(err))
}

func TestCleartextFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	msg := NodePublicKey{NodeKey: bytes.Repeat([]byte{0x42}, 64), Nonce: [32]byte{1, 2, 3}}

	err := WriteCleartext(&buf, KindNodePublicKey, msg)
	require.Nil(t, err)

	f, err := ReadCleartext(&buf)
	require.Nil(t, err)
	assert.Equal(t, KindNodePublicKey, f.Kind)

	var got NodePublicKey
	require.Nil(t, f.Decode(&got))
	assert.Equal(t, msg, got)
}

func TestEncryptedFrameRoundTrip(t *testing.T) {
	a, err := cryptoutil.GenerateKey()
	require.Nil(t, err)
	b, err := cryptoutil.GenerateKey()
	require.Nil(t, err)

	linkA, err := cryptoutil.DeriveLinkKey(a, b.Public)
	require.Nil(t, err)
	linkB, err := cryptoutil.DeriveLinkKey(b, a.Public)
	require.Nil(t, err)
	require.True(t, linkA.Point.Equal(linkB.Point))

	var buf bytes.Buffer
	msg := KeepAlive{Nonce: [16]byte{9, 9, 9}}
	require.Nil(t, WriteEncrypted(&buf, linkA, KindKeepAlive, msg))

	f, err := ReadEncrypted(&buf, linkB)
	require.Nil(t, err)
	assert.Equal(t, KindKeepAlive, f.Kind)

	var got KeepAlive
	require.Nil(t, f.Decode(&got))
	assert.Equal(t, msg, got)
}

func TestEncryptedFrameWrongLinkKeyFails(t *testing.T) {
	a, err := cryptoutil.GenerateKey()
	require.Nil(t, err)
	b, err := cryptoutil.GenerateKey()
	require.Nil(t, err)
	c, err := cryptoutil.GenerateKey()
	require.Nil(t, err)

	linkA, err := cryptoutil.DeriveLinkKey(a, b.Public)
	require.Nil(t, err)
	linkWrong, err := cryptoutil.DeriveLinkKey(c, b.Public)
	require.Nil(t, err)

	var buf bytes.Buffer
	require.Nil(t, WriteEncrypted(&buf, linkA, KindKeepAlive, KeepAlive{}))

	_, err = ReadEncrypted(&buf, linkWrong)
	assert.Equal(t, keyserver.ErrEthKey, keyserver.KindOf(err))
}

func TestWriteFrameRejectsOversizePayload(t *testing.T) {
	var buf bytes.Buffer
	err := writeFrame(&buf, KindKeepAlive, make([]byte, MaxPayloadSize+1))
	assert.Equal(t, keyserver.ErrInvalidMessage, keyserver.KindOf(err))
}

func TestKindStringUnknown(t *testing.T) {
	assert.Equal(t, "unknown", Kind(200).String())
}

func TestBigJSONRoundTrip(t *testing.T) {
	n := new(big.Int).SetUint64(1<<63 - 1)
	n.Mul(n, big.NewInt(7))

	encoded, err := BigOf(n).MarshalJSON()
	require.Nil(t, err)

	var got Big
	require.Nil(t, got.UnmarshalJSON(encoded))
	assert.Equal(t, 0, n.Cmp(got.Int))
}

func TestInitializeSessionRoundTrip(t *testing.T) {
	author, err := cryptoutil.GenerateKey()
	require.Nil(t, err)
	node, err := cryptoutil.GenerateKey()
	require.Nil(t, err)

	msg := InitializeSession{
		SessionId: keyserver.SessionId{1, 2, 3},
		AuthorKey: author.Public.Bytes(),
		Nodes:     map[string]Big{keyserver.NodeKey(node.Public): BigOf(big.NewInt(5))},
		Threshold: 1,
		CommonPoint: Point{
			X: BigOf(author.Public.X),
			Y: BigOf(author.Public.Y),
		},
	}

	var buf bytes.Buffer
	require.Nil(t, WriteCleartext(&buf, KindInitializeSession, msg))

	f, err := ReadCleartext(&buf)
	require.Nil(t, err)

	var got InitializeSession
	require.Nil(t, f.Decode(&got))
	assert.Equal(t, msg.SessionId, got.SessionId)
	assert.Equal(t, msg.AuthorKey, got.AuthorKey)
	assert.Equal(t, msg.Threshold, got.Threshold)
	assert.Equal(t, 0, msg.CommonPoint.X.Cmp(got.CommonPoint.X.Int))
}
