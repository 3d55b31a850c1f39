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
	"net"
	"sync"
	"time"

	keyserver "github.com/sperax/keyserver"
	"github.com/sperax/keyserver/cryptoutil"
	"github.com/sperax/keyserver/wire"
)

type connReadState int

const (
	readHeader connReadState = iota
	readPayload
)

type handshakeState int

const (
	handshakeNew handshakeState = iota
	handshakeSentPubkey
	handshakeSentSignature
	handshakeEstablished
	handshakeFailed
)

// connection is one peer socket, together with the handshake and keepalive
// state machine of §4.2. Every field is only ever touched from the owning
// Cluster's event loop goroutine, except outbox and the fields guarded by
// mu, which the facade's Send/Broadcast goroutines also reach.
type connection struct {
	cluster  *Cluster
	conn     net.Conn
	outbound bool // true if this node dialed

	remoteID   keyserver.NodeId
	remoteAddr string
	known      bool // remoteID has been verified against cluster membership

	state connReadState
	hs    handshakeState

	localNonce  [32]byte
	remoteNonce [32]byte
	link        *cryptoutil.LinkKeyPair

	lastKeepAliveNonce  [16]byte
	missedKeepAlives    int
	lastActivity        time.Time

	mu     sync.Mutex
	outbox [][]byte // raw frames queued for write, FIFO per peer (§4.3)
	writing bool
	closed  bool
}

func newConnection(c *Cluster, conn net.Conn, outbound bool) *connection {
	return &connection{
		cluster:      c,
		conn:         conn,
		outbound:     outbound,
		state:        readHeader,
		lastActivity: time.Now(),
	}
}

// enqueue appends a raw frame to this connection's outbox and kicks off a
// write if none is in flight. Called from any goroutine.
func (pc *connection) enqueue(frame []byte) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	if pc.closed {
		return
	}
	pc.outbox = append(pc.outbox, frame)
	if !pc.writing {
		pc.writing = true
		next := pc.outbox[0]
		pc.outbox = pc.outbox[1:]
		pc.cluster.submitWrite(pc, next)
	}
}

// writeDone is invoked by the event loop when a queued write completes; it
// submits the next queued frame, preserving FIFO-per-peer ordering.
func (pc *connection) writeDone() {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	if pc.closed || len(pc.outbox) == 0 {
		pc.writing = false
		return
	}
	next := pc.outbox[0]
	pc.outbox = pc.outbox[1:]
	pc.cluster.submitWrite(pc, next)
}

func (pc *connection) markClosed() {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.closed = true
	pc.outbox = nil
}
