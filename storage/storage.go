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

// Package storage provides the KeyStorage and AclStorage collaborators
// (§6): durable per-document share storage and access control, kept out of
// the session core's direct control per §1's scope ("specified only by the
// operations the core invokes").
package storage

import (
	keyserver "github.com/sperax/keyserver"
)

// KeyStorage is the full collaborator surface named in §6
// ("insert(doc_id, share)", "get(doc_id) -> share?", "contains(doc_id) ->
// bool"). The session package only depends on the Get/Put subset, declared
// separately as session.KeyStorage, which every implementation here
// satisfies structurally.
type KeyStorage interface {
	Put(id keyserver.SessionId, share *keyserver.DocumentKeyShare) error
	Get(id keyserver.SessionId) (*keyserver.DocumentKeyShare, error)
	Contains(id keyserver.SessionId) bool
}

// AclStorage decides whether a requestor may operate on a document (§6:
// "check(requestor_public, doc_id) -> bool"). IsAuthorized also surfaces a
// collaborator error, since a real backing store (a database, a remote
// permission service) can fail independently of the answer being no.
type AclStorage interface {
	IsAuthorized(requestor keyserver.NodeId, id keyserver.SessionId) (bool, error)
}
