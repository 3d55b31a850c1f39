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

package session

import (
	"log"
	"sync"
	"time"

	keyserver "github.com/sperax/keyserver"
	"github.com/sperax/keyserver/cryptoutil"
	"github.com/sperax/keyserver/wire"
)

// Manager is the session manager of §4.4: it keeps one map per session
// kind, dispatches inbound frames to the right session, and ticks
// deadlines. It implements cluster.Handler structurally.
type Manager struct {
	config *keyserver.Config
	sender ClusterSender
	keys   KeyStorage
	acl    AclStorage
	log    *log.Logger

	mu          sync.Mutex
	encSessions map[keyserver.SessionId]*EncryptionSession
	decSessions map[keyserver.SessionId]*DecryptionSession

	die     chan struct{}
	dieOnce sync.Once
}

// NewManager builds a session Manager over sender, keys and acl.
func NewManager(config *keyserver.Config, sender ClusterSender, keys KeyStorage, acl AclStorage, logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.Default()
	}
	return &Manager{
		config:      config,
		sender:      sender,
		keys:        keys,
		acl:         acl,
		log:         logger,
		encSessions: make(map[keyserver.SessionId]*EncryptionSession),
		decSessions: make(map[keyserver.SessionId]*DecryptionSession),
		die:         make(chan struct{}),
	}
}

// SetSender binds the transport a Manager posts outbound session traffic
// through. Manager and the transport (cluster.Cluster) are mutually
// dependent at construction — the transport needs a Handler and the
// Manager needs a ClusterSender — so callers build the Manager with a nil
// sender, construct the transport with the Manager as its Handler, then
// call SetSender once both exist (see server.KeyServer).
func (m *Manager) SetSender(sender ClusterSender) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sender = sender
}

// Start launches the deadline ticker (§4.4: "a background tick fires
// timeouts").
func (m *Manager) Start() {
	go m.tickLoop()
}

// Close stops the deadline ticker.
func (m *Manager) Close() {
	m.dieOnce.Do(func() { close(m.die) })
}

func (m *Manager) tickLoop() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.die:
			return
		case now := <-ticker.C:
			m.mu.Lock()
			for id, es := range m.encSessions {
				es.checkDeadline(now)
				if es.state == encCompleted || es.state == encFailed {
					delete(m.encSessions, id)
				}
			}
			for id, ds := range m.decSessions {
				ds.checkDeadline(now)
				if ds.state == decCompleted || ds.state == decFailed {
					delete(m.decSessions, id)
				}
			}
			m.mu.Unlock()
		}
	}
}

// HandleMessage implements cluster.Handler: it decodes the session id
// common to every session-kind payload and dispatches to the session,
// creating one from the network if this is a legal initiate (§4.4).
func (m *Manager) HandleMessage(from keyserver.NodeId, kind wire.Kind, payload []byte) {
	var env envelope
	if err := decodeJSON(payload, &env); err != nil {
		m.log.Println("session: bad envelope from", keyserver.NodeKey(from), err)
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if kind.IsEncryptionSessionKind() {
		es, ok := m.encSessions[env.SessionId]
		if !ok {
			if kind != wire.KindInitializeSession {
				m.sender.Send(from, wire.KindSessionError, wire.SessionError{SessionId: env.SessionId, Kind: keyserver.ErrInvalidSessionID, Message: "no such session"})
				return
			}
			var msg wire.InitializeSession
			if err := decodeJSON(payload, &msg); err != nil {
				return
			}
			newSession, err := newEncryptionSessionFromNetwork(m, msg)
			if newSession != nil {
				newSession.deadline = time.Now().Add(m.config.SessionDeadline(len(newSession.participants)))
				m.encSessions[env.SessionId] = newSession
			}
			if err != nil {
				m.log.Println("session: encryption session", env.SessionId, "rejected:", err)
			}
			return
		}
		es.HandleMessage(from, kind, payload)
		return
	}

	if kind.IsDecryptionSessionKind() {
		ds, ok := m.decSessions[env.SessionId]
		if !ok {
			if kind != wire.KindInitializeDecryptionSession {
				m.sender.Send(from, wire.KindDecryptionSessionError, wire.DecryptionSessionError{SessionId: env.SessionId, Kind: keyserver.ErrInvalidSessionID, Message: "no such session"})
				return
			}
			var msg wire.InitializeDecryptionSession
			if err := decodeJSON(payload, &msg); err != nil {
				return
			}
			newSession, err := newDecryptionSessionFromNetwork(m, from, msg)
			if newSession != nil {
				newSession.deadline = time.Now().Add(m.config.SessionDeadline(len(msg.Participants)))
				m.decSessions[env.SessionId] = newSession
			}
			if err != nil {
				m.log.Println("session: decryption session", env.SessionId, "rejected:", err)
			}
			return
		}
		ds.HandleMessage(from, kind, payload)
	}
}

// HandleDisconnect implements cluster.Handler.
func (m *Manager) HandleDisconnect(peer keyserver.NodeId) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, es := range m.encSessions {
		es.onPeerDisconnected(peer)
	}
	for _, ds := range m.decSessions {
		ds.onPeerDisconnected(peer)
	}
}

// GenerateDocumentKey runs a full encryption session as initiator and
// blocks until the joint public key is derived or the session fails
// (§4.5, §4.7).
func (m *Manager) GenerateDocumentKey(id keyserver.SessionId, threshold int, documentKeyPoint *cryptoutil.PublicKey) (cryptoutil.PublicKey, error) {
	done := newCompletion()

	m.mu.Lock()
	if _, exists := m.encSessions[id]; exists {
		m.mu.Unlock()
		return cryptoutil.PublicKey{}, keyserver.NewError(keyserver.ErrDuplicateSessionID, "encryption session %s already exists", id)
	}
	es, err := newEncryptionSessionInitiator(m, id, threshold, documentKeyPoint)
	if err != nil {
		m.mu.Unlock()
		return cryptoutil.PublicKey{}, err
	}
	es.done = done
	es.deadline = time.Now().Add(m.config.SessionDeadline(len(es.participants)))
	m.encSessions[id] = es
	m.mu.Unlock()

	result, err := done.wait(m.config.SessionDeadline(len(es.participants)) + 5*time.Second)
	if err != nil {
		return cryptoutil.PublicKey{}, err
	}
	return result.(cryptoutil.PublicKey), nil
}

// DecryptDocumentKey runs a full decryption session as initiator and
// blocks until the reconstructed point (or shadow result) is available
// (§4.6, §4.7).
func (m *Manager) DecryptDocumentKey(id keyserver.SessionId, signature []byte, isShadow bool) (*DecryptionResult, error) {
	done := newCompletion()

	m.mu.Lock()
	if _, exists := m.decSessions[id]; exists {
		m.mu.Unlock()
		return nil, keyserver.NewError(keyserver.ErrDuplicateSessionID, "decryption session %s already exists", id)
	}
	share, err := m.keys.Get(id)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	ds, err := newDecryptionSessionInitiator(m, id, signature, isShadow, share)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	ds.done = done
	ds.deadline = time.Now().Add(m.config.SessionDeadline(len(ds.subset)))
	m.decSessions[id] = ds
	m.mu.Unlock()

	result, err := done.wait(m.config.SessionDeadline(len(ds.subset)) + 5*time.Second)
	if err != nil {
		return nil, err
	}
	return result.(*DecryptionResult), nil
}
