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
	"sync"

	keyserver "github.com/sperax/keyserver"
)

// MemoryKeyStorage is a map-backed KeyStorage for tests and single-process
// deployments that don't need durability across restarts.
type MemoryKeyStorage struct {
	mu     sync.RWMutex
	shares map[keyserver.SessionId]*keyserver.DocumentKeyShare
}

// NewMemoryKeyStorage builds an empty in-memory store.
func NewMemoryKeyStorage() *MemoryKeyStorage {
	return &MemoryKeyStorage{shares: make(map[keyserver.SessionId]*keyserver.DocumentKeyShare)}
}

// Put stores share under id, overwriting any previous entry.
func (m *MemoryKeyStorage) Put(id keyserver.SessionId, share *keyserver.DocumentKeyShare) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shares[id] = share
	return nil
}

// Get returns the stored share for id, or ErrDocumentNotFound.
func (m *MemoryKeyStorage) Get(id keyserver.SessionId) (*keyserver.DocumentKeyShare, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	share, ok := m.shares[id]
	if !ok {
		return nil, keyserver.NewError(keyserver.ErrDocumentNotFound, "no key share stored for document %s", id)
	}
	return share, nil
}

// Contains reports whether a share is stored for id.
func (m *MemoryKeyStorage) Contains(id keyserver.SessionId) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.shares[id]
	return ok
}

// StaticAclStorage authorizes a fixed allow-list of requestors for every
// document, or every requestor when the allow-list is empty — the "no ACL
// configured" default used by the seed end-to-end scenarios in §8.
type StaticAclStorage struct {
	mu      sync.RWMutex
	allowed map[string]bool
}

// NewStaticAclStorage builds an AclStorage that authorizes exactly the
// given requestors. An empty allow-list authorizes everyone.
func NewStaticAclStorage(allowed ...keyserver.NodeId) *StaticAclStorage {
	s := &StaticAclStorage{allowed: make(map[string]bool, len(allowed))}
	for _, n := range allowed {
		s.allowed[keyserver.NodeKey(n)] = true
	}
	return s
}

// Allow adds a requestor to the allow-list at runtime.
func (s *StaticAclStorage) Allow(requestor keyserver.NodeId) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.allowed[keyserver.NodeKey(requestor)] = true
}

// Revoke removes a requestor from the allow-list.
func (s *StaticAclStorage) Revoke(requestor keyserver.NodeId) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.allowed, keyserver.NodeKey(requestor))
}

// IsAuthorized implements AclStorage.
func (s *StaticAclStorage) IsAuthorized(requestor keyserver.NodeId, _ keyserver.SessionId) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.allowed) == 0 {
		return true, nil
	}
	return s.allowed[keyserver.NodeKey(requestor)], nil
}
