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

// Package session implements the encryption (distributed key generation)
// and decryption (threshold reconstruction) session state machines of
// §4.5 and §4.6, dispatched by a Manager that also implements the
// session-manager responsibilities of §4.4.
package session

import (
	"math/big"
	"time"

	keyserver "github.com/sperax/keyserver"
	"github.com/sperax/keyserver/wire"
)

// ClusterSender is the subset of cluster.Cluster a session needs to talk to
// its peers. Defined here, in the consumer package, so session never
// imports cluster (cluster already imports wire and keyserver; a session ->
// cluster edge would create a cycle once cluster starts dispatching into
// session).
type ClusterSender interface {
	Send(node keyserver.NodeId, kind wire.Kind, msg interface{}) error
	Broadcast(kind wire.Kind, msg interface{}, excluding ...keyserver.NodeId) []error
	ConnectedNodes() []keyserver.NodeId
}

// KeyStorage persists the per-document share produced by a completed
// encryption session (§3).
type KeyStorage interface {
	Get(id keyserver.SessionId) (*keyserver.DocumentKeyShare, error)
	Put(id keyserver.SessionId, share *keyserver.DocumentKeyShare) error
}

// AclStorage decides whether a requestor may read or write a given
// document (§4.5 step 2, §4.6 step 2).
type AclStorage interface {
	IsAuthorized(requestor keyserver.NodeId, id keyserver.SessionId) (bool, error)
}

// envelope is decoded first, purely to recover the session id any
// session-kind payload carries, before dispatching to the right session
// object (§4.4: "locates the session by id+kind").
type envelope struct {
	SessionId keyserver.SessionId `json:"session_id"`
}

// completion is the one-shot future bridging the synchronous facade (§4.7)
// to the event loop: Resolve is called at most once, from the manager's
// goroutine, and the facade blocks reading Done.
type completion struct {
	done   chan struct{}
	result interface{}
	err    error
}

func newCompletion() *completion {
	return &completion{done: make(chan struct{})}
}

func (c *completion) resolve(result interface{}, err error) {
	select {
	case <-c.done:
		return // already resolved
	default:
	}
	c.result = result
	c.err = err
	close(c.done)
}

// wait blocks the calling goroutine until the completion resolves or the
// given deadline duration elapses.
func (c *completion) wait(deadline time.Duration) (interface{}, error) {
	select {
	case <-c.done:
		return c.result, c.err
	case <-time.After(deadline):
		return nil, keyserver.NewError(keyserver.ErrTooEarlyForRequest, "session did not complete before facade deadline")
	}
}

// sortParticipants canonicalizes a node set by byte order, as required
// for deterministic Lagrange combination (§4.5: "canonicalized by NodeId
// byte order").
func sortParticipants(nodes []keyserver.NodeId) []keyserver.NodeId {
	out := make([]keyserver.NodeId, len(nodes))
	copy(out, nodes)
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].Less(out[j-1]); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

// idNumbersOf extracts the ordered x-coordinates matching participants'
// order from an id-number map, for use with the shamir package's
// index-parallel combine functions.
func idNumbersOf(ids map[string]*big.Int, participants []keyserver.NodeId) []*big.Int {
	out := make([]*big.Int, len(participants))
	for i, p := range participants {
		out[i] = ids[keyserver.NodeKey(p)]
	}
	return out
}
