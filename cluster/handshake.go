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

package cluster

import (
	"crypto/rand"
	"encoding/json"
	"io"
	"time"

	keyserver "github.com/sperax/keyserver"
	"github.com/sperax/keyserver/cryptoutil"
	"github.com/sperax/keyserver/wire"
)

// findMember looks up a claimed node id in the fixed membership map (§4.2:
// "verify the claimed id is in the membership map").
func (c *Cluster) findMember(id keyserver.NodeId) (keyserver.ClusterMember, bool) {
	for _, m := range c.config.Nodes {
		if m.Id.Equal(id) {
			return m, true
		}
	}
	return keyserver.ClusterMember{}, false
}

func (c *Cluster) handleHandshakeFrame(pc *connection, kind wire.Kind, payload []byte) {
	switch kind {
	case wire.KindNodePublicKey:
		c.handleNodePublicKey(pc, payload)
	case wire.KindNodePrivateKeySignature:
		c.handleNodePrivateKeySignature(pc, payload)
	default:
		c.log.Println("cluster: unexpected kind", kind, "before handshake complete")
		c.dropConnection(pc)
	}
}

func (c *Cluster) handleNodePublicKey(pc *connection, payload []byte) {
	if pc.known && pc.remoteNonce != ([32]byte{}) {
		// duplicate NodePublicKey after handshake already progressed.
		c.dropConnection(pc)
		return
	}

	var msg wire.NodePublicKey
	if err := json.Unmarshal(payload, &msg); err != nil {
		c.dropConnection(pc)
		return
	}
	claimed, err := cryptoutil.ParsePublicKey(msg.NodeKey)
	if err != nil {
		c.dropConnection(pc)
		return
	}
	member, ok := c.findMember(claimed)
	if !ok {
		c.log.Println("cluster: unknown node attempted handshake")
		c.dropConnection(pc)
		return
	}
	pc.remoteID = member.Id
	pc.known = true
	pc.remoteNonce = msg.Nonce

	if !pc.outbound {
		// accepter: reply with our own NodePublicKey, then sign the
		// dialer's nonce immediately since we already know it.
		if _, err := io.ReadFull(rand.Reader, pc.localNonce[:]); err != nil {
			c.dropConnection(pc)
			return
		}
		reply := wire.NodePublicKey{NodeKey: c.config.SelfId().Bytes(), Nonce: pc.localNonce}
		c.sendHandshakeFrame(pc, wire.KindNodePublicKey, reply)
	}

	c.sendSignature(pc)
}

func (c *Cluster) sendSignature(pc *connection) {
	sig, err := cryptoutil.Sign(c.config.PrivateKey, pc.remoteNonce[:])
	if err != nil {
		c.dropConnection(pc)
		return
	}
	c.sendHandshakeFrame(pc, wire.KindNodePrivateKeySignature, wire.NodePrivateKeySignature{Signature: sig})
}

func (c *Cluster) sendHandshakeFrame(pc *connection, kind wire.Kind, msg interface{}) {
	body, err := json.Marshal(msg)
	if err != nil {
		c.dropConnection(pc)
		return
	}
	if err := c.watcher.WriteFull(pc, pc.conn, encodeFrame(kind, body), time.Now().Add(writeTimeout)); err != nil {
		c.dropConnection(pc)
	}
}

func (c *Cluster) handleNodePrivateKeySignature(pc *connection, payload []byte) {
	if !pc.known {
		c.dropConnection(pc)
		return
	}
	var msg wire.NodePrivateKeySignature
	if err := json.Unmarshal(payload, &msg); err != nil {
		c.dropConnection(pc)
		return
	}
	if !cryptoutil.Verify(msg.Signature, pc.localNonce[:], pc.remoteID) {
		c.log.Println("cluster: handshake signature verification failed for", keyserver.NodeKey(pc.remoteID))
		c.dropConnection(pc)
		return
	}

	link, err := cryptoutil.DeriveLinkKey(c.config.PrivateKey, pc.remoteID)
	if err != nil {
		c.dropConnection(pc)
		return
	}
	pc.link = link

	c.mu.Lock()
	key := keyserver.NodeKey(pc.remoteID)
	if _, dup := c.conns[key]; dup {
		c.mu.Unlock()
		c.log.Println("cluster: duplicate connection to", key, "closing new socket")
		pc.conn.Close()
		return
	}
	c.conns[key] = pc
	c.mu.Unlock()

	pc.hs = handshakeEstablished
	c.log.Println("cluster: established link with", key)
}

func (c *Cluster) handleKeepAlive(pc *connection, kind wire.Kind, payload []byte) {
	switch kind {
	case wire.KindKeepAlive:
		var msg wire.KeepAlive
		if err := json.Unmarshal(payload, &msg); err != nil {
			return
		}
		c.sendEncrypted(pc, wire.KindKeepAliveResponse, wire.KeepAliveResponse{Nonce: msg.Nonce})
	case wire.KindKeepAliveResponse:
		var msg wire.KeepAliveResponse
		if err := json.Unmarshal(payload, &msg); err != nil {
			return
		}
		if msg.Nonce == pc.lastKeepAliveNonce {
			pc.missedKeepAlives = 0
		}
	}
}

func (c *Cluster) sendEncrypted(pc *connection, kind wire.Kind, msg interface{}) {
	body, err := json.Marshal(msg)
	if err != nil {
		return
	}
	sealed, err := cryptoutil.Encrypt(pc.link.Point, body)
	if err != nil {
		return
	}
	pc.enqueue(encodeFrame(kind, sealed))
}

// keepAliveLoop probes idle connections and closes any that miss too many
// responses in a row (§4.2).
func (c *Cluster) keepAliveLoop() {
	ticker := time.NewTicker(keyserver.DefaultKeepAliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.die:
			return
		case <-ticker.C:
			c.mu.Lock()
			conns := make([]*connection, 0, len(c.conns))
			for _, pc := range c.conns {
				conns = append(conns, pc)
			}
			c.mu.Unlock()

			for _, pc := range conns {
				if time.Since(pc.lastActivity) < keyserver.DefaultKeepAliveInterval {
					continue
				}
				pc.missedKeepAlives++
				if pc.missedKeepAlives > keyserver.MaxMissedKeepAlives {
					c.dropConnection(pc)
					continue
				}
				if _, err := io.ReadFull(rand.Reader, pc.lastKeepAliveNonce[:]); err != nil {
					continue
				}
				c.sendEncrypted(pc, wire.KindKeepAlive, wire.KeepAlive{Nonce: pc.lastKeepAliveNonce})
			}
		}
	}
}
