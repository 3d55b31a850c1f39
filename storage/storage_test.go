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

package storage

import (
	"math/big"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	keyserver "github.com/sperax/keyserver"
	"github.com/sperax/keyserver/cryptoutil"
)

func sampleShare(t *testing.T) *keyserver.DocumentKeyShare {
	t.Helper()
	author, err := cryptoutil.GenerateKey()
	require.Nil(t, err)
	peer, err := cryptoutil.GenerateKey()
	require.Nil(t, err)

	return &keyserver.DocumentKeyShare{
		Threshold:      1,
		Author:         author.Public,
		CommonPoint:    cryptoutil.BasePointMult(big.NewInt(7)),
		EncryptedPoint: cryptoutil.BasePointMult(big.NewInt(11)),
		PublicCoeffs:   []cryptoutil.PublicKey{cryptoutil.BasePointMult(big.NewInt(3)), cryptoutil.BasePointMult(big.NewInt(5))},
		OwnShare:       big.NewInt(42),
		IdNumbers: map[string]*big.Int{
			keyserver.NodeKey(author.Public): big.NewInt(1),
			keyserver.NodeKey(peer.Public):   big.NewInt(2),
		},
		Participants: []keyserver.NodeId{author.Public, peer.Public},
	}
}

func TestMemoryKeyStorageRoundTrip(t *testing.T) {
	store := NewMemoryKeyStorage()
	var id keyserver.SessionId
	copy(id[:], []byte("document-one"))

	assert.False(t, store.Contains(id))
	_, err := store.Get(id)
	assert.Equal(t, keyserver.ErrDocumentNotFound, keyserver.KindOf(err))

	share := sampleShare(t)
	require.Nil(t, store.Put(id, share))
	assert.True(t, store.Contains(id))

	got, err := store.Get(id)
	require.Nil(t, err)
	assert.Equal(t, share.Threshold, got.Threshold)
	assert.True(t, share.OwnShare.Cmp(got.OwnShare) == 0)
}

func TestStaticAclStorageEmptyAllowListAuthorizesEveryone(t *testing.T) {
	acl := NewStaticAclStorage()
	key, err := cryptoutil.GenerateKey()
	require.Nil(t, err)

	var id keyserver.SessionId
	ok, err := acl.IsAuthorized(key.Public, id)
	require.Nil(t, err)
	assert.True(t, ok)
}

func TestStaticAclStorageAllowRevoke(t *testing.T) {
	key, err := cryptoutil.GenerateKey()
	require.Nil(t, err)
	other, err := cryptoutil.GenerateKey()
	require.Nil(t, err)

	acl := NewStaticAclStorage(key.Public)
	var id keyserver.SessionId

	ok, _ := acl.IsAuthorized(key.Public, id)
	assert.True(t, ok)
	ok, _ = acl.IsAuthorized(other.Public, id)
	assert.False(t, ok)

	acl.Allow(other.Public)
	ok, _ = acl.IsAuthorized(other.Public, id)
	assert.True(t, ok)

	acl.Revoke(key.Public)
	ok, _ = acl.IsAuthorized(key.Public, id)
	assert.False(t, ok)
}

func TestLevelDBKeyStorageRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store, err := OpenLevelDBKeyStorage(filepath.Join(dir, "shares"))
	require.Nil(t, err)
	defer store.Close()

	var id keyserver.SessionId
	copy(id[:], []byte("leveldb-document"))
	share := sampleShare(t)

	require.Nil(t, store.Put(id, share))
	assert.True(t, store.Contains(id))

	got, err := store.Get(id)
	require.Nil(t, err)
	assert.Equal(t, share.Threshold, got.Threshold)
	assert.True(t, share.Author.Equal(got.Author))
	assert.True(t, share.CommonPoint.Equal(got.CommonPoint))
	assert.True(t, share.EncryptedPoint.Equal(got.EncryptedPoint))
	assert.True(t, share.OwnShare.Cmp(got.OwnShare) == 0)
	require.Len(t, got.PublicCoeffs, len(share.PublicCoeffs))
	for i := range share.PublicCoeffs {
		assert.True(t, share.PublicCoeffs[i].Equal(got.PublicCoeffs[i]))
	}
	require.Len(t, got.Participants, len(share.Participants))

	other, err := OpenLevelDBKeyStorage(filepath.Join(dir, "missing"))
	require.Nil(t, err)
	defer other.Close()
	_, err = other.Get(id)
	assert.Equal(t, keyserver.ErrDocumentNotFound, keyserver.KindOf(err))
}
