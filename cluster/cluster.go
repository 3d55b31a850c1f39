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

// Package cluster implements the connection handshake of §4.2 and the
// cluster transport of §4.3 on top of a single gaio.Watcher-driven event
// loop per node, the way the teacher's agent-tcp package drives consensus
// I/O through one *gaio.Watcher.
package cluster

import (
	"crypto/rand"
	"encoding/json"
	"io"
	"log"
	"net"
	"sync"
	"time"

	"github.com/xtaci/gaio"

	keyserver "github.com/sperax/keyserver"
	"github.com/sperax/keyserver/cryptoutil"
	"github.com/sperax/keyserver/wire"
)

const (
	readTimeout  = 30 * time.Second
	writeTimeout = 30 * time.Second
	dialRetry    = 5 * time.Second
)

// Handler receives decoded post-handshake frames and disconnect
// notifications from a Cluster. Implemented by the session manager.
type Handler interface {
	HandleMessage(from keyserver.NodeId, kind wire.Kind, payload []byte)
	HandleDisconnect(peer keyserver.NodeId)
}

// Cluster owns one gaio.Watcher and every socket a node holds to its fixed
// membership (§4.3). All mutation of the connection registry happens on
// the event loop goroutine; Send/Broadcast calls from other goroutines only
// ever touch the mutex-guarded registry and a per-connection outbox.
type Cluster struct {
	config  *keyserver.Config
	handler Handler
	log     *log.Logger

	watcher  *gaio.Watcher
	listener net.Listener

	mu    sync.Mutex
	conns map[string]*connection // keyed by NodeKey(remoteID), established only

	die     chan struct{}
	dieOnce sync.Once
}

// NewCluster constructs a Cluster bound to config.ListenAddr, dispatching
// decoded messages to handler.
func NewCluster(config *keyserver.Config, handler Handler, logger *log.Logger) (*Cluster, error) {
	watcher, err := gaio.NewWatcher()
	if err != nil {
		return nil, keyserver.WrapError(keyserver.ErrIO, err)
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Cluster{
		config:  config,
		handler: handler,
		log:     logger,
		watcher: watcher,
		conns:   make(map[string]*connection),
		die:     make(chan struct{}),
	}, nil
}

// Start binds the listener and launches the acceptor, event loop, dialer
// and keepalive goroutines (§5: one event loop owns all I/O; a handful of
// auxiliary goroutines feed it, exactly as the teacher's agentImpl does).
func (c *Cluster) Start() error {
	ln, err := net.Listen("tcp", c.config.ListenAddr)
	if err != nil {
		return keyserver.WrapError(keyserver.ErrIO, err)
	}
	c.listener = ln

	go c.acceptLoop()
	go c.eventLoop()
	go c.dialLoop()
	go c.keepAliveLoop()
	return nil
}

// Close tears down every connection and background goroutine.
func (c *Cluster) Close() {
	c.dieOnce.Do(func() {
		close(c.die)
		if c.listener != nil {
			c.listener.Close()
		}
		c.watcher.Close()

		c.mu.Lock()
		for _, pc := range c.conns {
			pc.conn.Close()
		}
		c.conns = nil
		c.mu.Unlock()
	})
}

func (c *Cluster) acceptLoop() {
	for {
		conn, err := c.listener.Accept()
		if err != nil {
			select {
			case <-c.die:
				return
			default:
				c.log.Println("cluster: accept:", err)
				return
			}
		}
		pc := newConnection(c, conn, false)
		c.queueHeaderRead(pc)
	}
}

// dialLoop periodically ensures a socket exists to every configured peer
// this node should initiate to, per the tie-break of §4.2.
func (c *Cluster) dialLoop() {
	ticker := time.NewTicker(dialRetry)
	defer ticker.Stop()
	self := c.config.SelfId()
	for {
		select {
		case <-c.die:
			return
		case <-ticker.C:
			for _, m := range c.config.Nodes {
				if m.Id.Equal(self) {
					continue
				}
				if !c.config.AllowConnectingToHigherNodes && !self.Less(m.Id) {
					continue // only the lexicographically-smaller id initiates
				}
				if c.isConnected(m.Id) {
					continue
				}
				c.dial(m)
			}
		}
	}
}

func (c *Cluster) dial(m keyserver.ClusterMember) {
	conn, err := net.DialTimeout("tcp", m.Addr, readTimeout)
	if err != nil {
		return
	}
	pc := newConnection(c, conn, true)
	pc.remoteID = m.Id
	pc.known = true
	c.beginHandshake(pc)
}

func (c *Cluster) isConnected(id keyserver.NodeId) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.conns[keyserver.NodeKey(id)]
	return ok
}

// beginHandshake sends this node's NodePublicKey and queues the header read
// that drives the rest of the handshake through the event loop (§4.2).
func (c *Cluster) beginHandshake(pc *connection) {
	if _, err := io.ReadFull(rand.Reader, pc.localNonce[:]); err != nil {
		pc.conn.Close()
		return
	}
	msg := wire.NodePublicKey{NodeKey: c.config.SelfId().Bytes(), Nonce: pc.localNonce}
	body, err := json.Marshal(msg)
	if err != nil {
		pc.conn.Close()
		return
	}
	frame := encodeFrame(wire.KindNodePublicKey, body)
	pc.hs = handshakeSentPubkey

	if err := c.watcher.WriteFull(pc, pc.conn, frame, time.Now().Add(writeTimeout)); err != nil {
		pc.conn.Close()
		return
	}
	c.queueHeaderRead(pc)
}

func (c *Cluster) queueHeaderRead(pc *connection) {
	pc.state = readHeader
	_ = c.watcher.ReadFull(pc, pc.conn, make([]byte, wire.HeaderSize), time.Now().Add(readTimeout))
}

func encodeFrame(kind wire.Kind, payload []byte) []byte {
	h := wire.Header{Version: wire.Version, Kind: kind, Size: uint16(len(payload))}
	buf := make([]byte, wire.HeaderSize+len(payload))
	h.Encode(buf[:wire.HeaderSize])
	copy(buf[wire.HeaderSize:], payload)
	return buf
}

// submitWrite hands one raw frame to the watcher for async delivery; its
// completion is observed back in eventLoop via gaio.OpWrite.
func (c *Cluster) submitWrite(pc *connection, frame []byte) {
	if err := c.watcher.WriteFull(pc, pc.conn, frame, time.Now().Add(writeTimeout)); err != nil {
		c.dropConnection(pc)
	}
}

// eventLoop is the single goroutine that owns all socket I/O completions,
// modeled directly on the teacher's agentImpl.readLoop.
func (c *Cluster) eventLoop() {
	for {
		results, err := c.watcher.WaitIO()
		if err != nil {
			return
		}
		for _, res := range results {
			switch ctx := res.Context.(type) {
			case *connection:
				if res.Error != nil {
					if res.Error != io.EOF {
						c.log.Println("cluster:", res.Error)
					}
					c.dropConnection(ctx)
					continue
				}
				switch res.Operation {
				case gaio.OpWrite:
					ctx.writeDone()
				case gaio.OpRead:
					c.handleHeader(ctx, res.Buffer[:res.Size])
				}
			case pendingKind:
				if res.Error != nil {
					if res.Error != io.EOF {
						c.log.Println("cluster:", res.Error)
					}
					c.dropConnection(ctx.pc)
					continue
				}
				if res.Operation == gaio.OpRead {
					c.dispatchPayload(ctx, res.Buffer[:res.Size])
				}
			}
		}
	}
}

func (c *Cluster) handleHeader(pc *connection, buf []byte) {
	pc.lastActivity = time.Now()

	h, err := wire.DecodeHeader(buf)
	if err != nil {
		c.dropConnection(pc)
		return
	}
	pc.state = readPayload
	if h.Size == 0 {
		c.dispatchPayload(pendingKind{pc, h.Kind}, nil)
		return
	}
	if err := c.watcher.ReadFull(pendingKind{pc, h.Kind}, pc.conn, make([]byte, h.Size), time.Now().Add(readTimeout)); err != nil {
		c.dropConnection(pc)
	}
}

// pendingKind carries the decoded header's kind across the two-phase read
// (header, then payload) without widening connection's own context type.
type pendingKind struct {
	pc   *connection
	kind wire.Kind
}

func (c *Cluster) dispatchPayload(pk pendingKind, payload []byte) {
	pc := pk.pc
	pc.state = readHeader

	if pc.hs != handshakeEstablished {
		c.handleHandshakeFrame(pc, pk.kind, payload)
	} else {
		plain, err := cryptoutil.Decrypt(pc.link.PrivateKey(), payload)
		if err != nil {
			c.log.Println("cluster: decrypt:", err)
			c.dropConnection(pc)
			return
		}
		if pk.kind == wire.KindKeepAlive || pk.kind == wire.KindKeepAliveResponse {
			c.handleKeepAlive(pc, pk.kind, plain)
		} else {
			c.handler.HandleMessage(pc.remoteID, pk.kind, plain)
		}
	}

	// keep the read pump alive for this connection
	c.queueHeaderRead(pc)
}

func (c *Cluster) dropConnection(pc *connection) {
	pc.markClosed()
	pc.conn.Close()
	if pc.known {
		key := keyserver.NodeKey(pc.remoteID)
		c.mu.Lock()
		registered := c.conns[key] == pc
		if registered {
			delete(c.conns, key)
		}
		c.mu.Unlock()
		if registered {
			c.handler.HandleDisconnect(pc.remoteID)
		}
	}
}

// ConnectedNodes returns every node currently in established, authenticated
// state.
func (c *Cluster) ConnectedNodes() []keyserver.NodeId {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]keyserver.NodeId, 0, len(c.conns))
	for _, pc := range c.conns {
		out = append(out, pc.remoteID)
	}
	return out
}

// Send encrypts and queues msg for node, returning NodeDisconnected
// immediately if no established connection exists (§4.3).
func (c *Cluster) Send(node keyserver.NodeId, kind wire.Kind, msg interface{}) error {
	c.mu.Lock()
	pc, ok := c.conns[keyserver.NodeKey(node)]
	c.mu.Unlock()
	if !ok {
		return keyserver.NewError(keyserver.ErrNodeDisconnected, "node %s is not connected", keyserver.NodeKey(node))
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return keyserver.WrapError(keyserver.ErrSerde, err)
	}
	sealed, err := cryptoutil.Encrypt(pc.link.Point, body)
	if err != nil {
		return keyserver.WrapError(keyserver.ErrEthKey, err)
	}
	pc.enqueue(encodeFrame(kind, sealed))
	return nil
}

// Broadcast sends msg to every connected node except self and those in
// excluding, returning the per-node errors encountered (§4.3).
func (c *Cluster) Broadcast(kind wire.Kind, msg interface{}, excluding ...keyserver.NodeId) []error {
	skip := make(map[string]bool, len(excluding))
	for _, n := range excluding {
		skip[keyserver.NodeKey(n)] = true
	}

	var errs []error
	for _, n := range c.ConnectedNodes() {
		if skip[keyserver.NodeKey(n)] {
			continue
		}
		if err := c.Send(n, kind, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}
