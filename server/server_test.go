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

package server

import (
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	keyserver "github.com/sperax/keyserver"
	"github.com/sperax/keyserver/cryptoutil"
	"github.com/sperax/keyserver/storage"
)

// freePort picks a currently-unused localhost TCP port so cluster members
// can be wired up before any listener is bound.
func freePort(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.Nil(t, err)
	defer ln.Close()
	return ln.Addr().String()
}

// buildCluster builds n nodes sharing one fixed membership map and a
// common ACL, wires each through server.New and starts it, returning the
// nodes and their private keys (index-aligned); shutdown is registered
// with t.Cleanup.
func buildCluster(t *testing.T, n int, acl *storage.StaticAclStorage) ([]*KeyServer, []*cryptoutil.PrivateKey) {
	t.Helper()

	privs := make([]*cryptoutil.PrivateKey, n)
	addrs := make([]string, n)
	for i := 0; i < n; i++ {
		priv, err := cryptoutil.GenerateKey()
		require.Nil(t, err)
		privs[i] = priv
		addrs[i] = freePort(t)
	}

	members := make([]keyserver.ClusterMember, n)
	for i := range privs {
		members[i] = keyserver.ClusterMember{Id: privs[i].Public, Addr: addrs[i]}
	}

	nodes := make([]*KeyServer, n)
	for i := range privs {
		config := &keyserver.Config{
			ListenAddr:                   addrs[i],
			PrivateKey:                   privs[i],
			Nodes:                        members,
			Threads:                      2,
			AllowConnectingToHigherNodes: true,
			KeyCheckTimeoutMs:            2000,
		}
		node, err := New(config, storage.NewMemoryKeyStorage(), acl, nil)
		require.Nil(t, err)
		require.Nil(t, node.Start())
		nodes[i] = node
	}

	t.Cleanup(func() {
		for _, n := range nodes {
			n.Close()
		}
	})
	return nodes, privs
}

// waitConnected polls until every node reports the full peer set
// connected, or fails the test after timeout. The cluster's dial ticker
// fires on a fixed interval, so connection establishment is not
// instantaneous.
func waitConnected(t *testing.T, nodes []*KeyServer, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		ready := true
		for _, n := range nodes {
			if len(n.ConnectedNodes()) != len(nodes)-1 {
				ready = false
				break
			}
		}
		if ready {
			return
		}
		time.Sleep(200 * time.Millisecond)
	}
	t.Fatalf("cluster did not fully connect within %s", timeout)
}

func docID(label string) keyserver.SessionId {
	var id keyserver.SessionId
	h := cryptoutil.Hash256([]byte(label))
	copy(id[:], h[:])
	return id
}

func TestGenerateDocumentKeyReturnsCiphertext(t *testing.T) {
	nodes, privs := buildCluster(t, 3, storage.NewStaticAclStorage())
	waitConnected(t, nodes, 20*time.Second)

	requestor := privs[0]
	id := docID(fmt.Sprintf("doc-%d", time.Now().UnixNano()))
	sig, err := cryptoutil.Sign(requestor, id[:])
	require.Nil(t, err)

	ciphertext, err := nodes[0].GenerateDocumentKey(sig, id, 1)
	require.Nil(t, err)
	require.NotEmpty(t, ciphertext)
}

func TestDecryptDocumentKeyAcrossThreshold(t *testing.T) {
	nodes, privs := buildCluster(t, 3, storage.NewStaticAclStorage())
	waitConnected(t, nodes, 20*time.Second)

	requestor := privs[0]
	id := docID(fmt.Sprintf("doc-retrieve-%d", time.Now().UnixNano()))
	sig, err := cryptoutil.Sign(requestor, id[:])
	require.Nil(t, err)

	genCiphertext, err := nodes[0].GenerateDocumentKey(sig, id, 1)
	require.Nil(t, err)
	generatedKey, err := cryptoutil.Decrypt(requestor, genCiphertext)
	require.Nil(t, err)

	getCiphertext, err := nodes[1].DocumentKey(sig, id)
	require.Nil(t, err)
	retrievedKey, err := cryptoutil.Decrypt(requestor, getCiphertext)
	require.Nil(t, err)

	assert.Equal(t, generatedKey, retrievedKey)
}

func TestDocumentKeyShadowReturnsCombinableShares(t *testing.T) {
	nodes, privs := buildCluster(t, 3, storage.NewStaticAclStorage())
	waitConnected(t, nodes, 20*time.Second)

	requestor := privs[0]
	id := docID(fmt.Sprintf("doc-shadow-%d", time.Now().UnixNano()))
	sig, err := cryptoutil.Sign(requestor, id[:])
	require.Nil(t, err)

	_, err = nodes[0].GenerateDocumentKey(sig, id, 1)
	require.Nil(t, err)

	result, err := nodes[2].DocumentKeyShadow(sig, id)
	require.Nil(t, err)
	assert.False(t, result.CommonPoint.IsZero())
	assert.NotEmpty(t, result.DecryptShadows)
}

func TestGenerateDocumentKeyDeniedByAcl(t *testing.T) {
	gatekeeper, err := cryptoutil.GenerateKey()
	require.Nil(t, err)
	acl := storage.NewStaticAclStorage(gatekeeper.Public)

	nodes, privs := buildCluster(t, 3, acl)
	waitConnected(t, nodes, 20*time.Second)

	intruder := privs[1]
	id := docID(fmt.Sprintf("doc-denied-%d", time.Now().UnixNano()))
	sig, err := cryptoutil.Sign(intruder, id[:])
	require.Nil(t, err)

	_, err = nodes[1].GenerateDocumentKey(sig, id, 1)
	require.NotNil(t, err)
}

func TestDocumentKeyRejectsBadSignature(t *testing.T) {
	nodes, _ := buildCluster(t, 2, storage.NewStaticAclStorage())
	waitConnected(t, nodes, 20*time.Second)

	var id keyserver.SessionId
	_, err := nodes[0].DocumentKey(make([]byte, cryptoutil.SignatureSize), id)
	require.NotNil(t, err)
	assert.Equal(t, keyserver.ErrBadSignature, keyserver.KindOf(err))
}
