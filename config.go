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

package keyserver

import (
	"time"

	"github.com/sperax/keyserver/cryptoutil"
)

const (
	// ConfigMinimumParticipants is the minimum cluster size a config may
	// name: an encryption session needs |P| >= t+2 with t >= 0, so at
	// least 2 nodes must exist for any session to ever be possible.
	ConfigMinimumParticipants = 2

	// DefaultKeyCheckTimeoutMs is used when a Config leaves
	// KeyCheckTimeoutMs unset.
	DefaultKeyCheckTimeoutMs = 10_000

	// DefaultKeepAliveInterval is how often an idle connection sends a
	// KeepAlive probe (§4.2).
	DefaultKeepAliveInterval = 30 * time.Second

	// MaxMissedKeepAlives is how many unanswered KeepAlive probes close a
	// connection (§4.2: "Three missed responses close the connection").
	MaxMissedKeepAlives = 3
)

// Config is the process-wide configuration for one cluster node,
// initialized once at bootstrap (§6).
type Config struct {
	// ListenAddr is the address this node accepts peer connections on.
	ListenAddr string
	// DataPath is the directory DocumentKeyShares are persisted under.
	DataPath string
	// PrivateKey is this node's long-term secret; its public key is this
	// node's NodeId.
	PrivateKey *cryptoutil.PrivateKey
	// Nodes is the fixed cluster membership map (§3).
	Nodes []ClusterMember
	// Threads is defaulted to 1 by Validate when unset. No component of
	// this module reads it: there is no worker pool, and polynomial
	// evaluation runs inline in the session code.
	Threads int
	// AllowConnectingToHigherNodes disables the dial tie-break of §4.2;
	// true only in tests.
	AllowConnectingToHigherNodes bool
	// KeyCheckTimeoutMs derives each session's deadline together with the
	// number of participants (§5).
	KeyCheckTimeoutMs int
}

// Validate checks Config's invariants, returning the first violation
// found, the way the teacher's VerifyConfig does.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return NewError(ErrInvalidNodeAddress, "listen address must be set")
	}
	if c.PrivateKey == nil {
		return NewError(ErrInvalidNodeID, "private key must be set")
	}
	if len(c.Nodes) < ConfigMinimumParticipants {
		return NewError(ErrInvalidNodesCount, "at least %d cluster members required, got %d", ConfigMinimumParticipants, len(c.Nodes))
	}

	self := c.PrivateKey.Public
	found := false
	seen := make(map[string]bool, len(c.Nodes))
	for _, m := range c.Nodes {
		key := NodeKey(m.Id)
		if seen[key] {
			return NewError(ErrInvalidNodesConfiguration, "duplicate node id in membership map")
		}
		seen[key] = true
		if m.Addr == "" {
			return NewError(ErrInvalidNodeAddress, "node %s has no address", key)
		}
		if m.Id.Equal(self) {
			found = true
		}
	}
	if !found {
		return NewError(ErrInvalidNodesConfiguration, "local node must be a member of its own cluster")
	}

	if c.Threads <= 0 {
		c.Threads = 1
	}
	if c.KeyCheckTimeoutMs <= 0 {
		c.KeyCheckTimeoutMs = DefaultKeyCheckTimeoutMs
	}
	return nil
}

// SelfId returns this node's NodeId.
func (c *Config) SelfId() NodeId { return c.PrivateKey.Public }

// SessionDeadline derives a session-wide deadline from the configured
// timeout and the number of session participants (§5: "a session-wide
// deadline (derived from key_check_timeout_ms and participant count)").
func (c *Config) SessionDeadline(participants int) time.Duration {
	base := time.Duration(c.KeyCheckTimeoutMs) * time.Millisecond
	return base + time.Duration(participants)*base/4
}
