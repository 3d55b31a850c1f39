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

// Package server wires the cluster transport, the session manager and
// storage together behind the synchronous KeyServer facade of §4.7/§6:
// every call recovers the requestor from a signature, runs the
// corresponding session to completion, and ECIES-encrypts the result
// before it leaves the process — mirroring key_server.rs's "compute the
// document key as a point, encrypt at the very last step" shape.
package server

import (
	"log"

	keyserver "github.com/sperax/keyserver"
	"github.com/sperax/keyserver/cluster"
	"github.com/sperax/keyserver/cryptoutil"
	"github.com/sperax/keyserver/session"
)

// ShadowResult is the client-finishing payload §6 returns for
// document_key_shadow: decrypted_secret, common_point and the
// ECIES-wrapped shadow coefficients the client combines offline.
type ShadowResult struct {
	DecryptedSecret cryptoutil.PublicKey
	CommonPoint     cryptoutil.PublicKey
	DecryptShadows  [][]byte
}

// KeyServer is the facade of §4.7: a single-threaded cluster node exposed
// as a synchronous API. It owns the cluster transport's goroutines and
// the session manager's deadline ticker for its whole lifetime.
type KeyServer struct {
	config  *keyserver.Config
	cluster *cluster.Cluster
	mgr     *session.Manager
	keys    session.KeyStorage
	acl     session.AclStorage
	log     *log.Logger
}

// New builds a KeyServer bound to config, backed by keys/acl. The cluster
// transport and session manager are mutually dependent at construction
// (see session.Manager.SetSender), so this resolves that order: a Manager
// is built first with no sender, the transport is built with the Manager
// as its Handler, and the sender is bound back onto the Manager once both
// exist.
func New(config *keyserver.Config, keys session.KeyStorage, acl session.AclStorage, logger *log.Logger) (*KeyServer, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.Default()
	}

	mgr := session.NewManager(config, nil, keys, acl, logger)
	transport, err := cluster.NewCluster(config, mgr, logger)
	if err != nil {
		return nil, err
	}
	mgr.SetSender(transport)

	return &KeyServer{
		config:  config,
		cluster: transport,
		mgr:     mgr,
		keys:    keys,
		acl:     acl,
		log:     logger,
	}, nil
}

// Start brings the node online: opens the listener, begins dialing peers
// and starts the session deadline ticker.
func (s *KeyServer) Start() error {
	if err := s.cluster.Start(); err != nil {
		return err
	}
	s.mgr.Start()
	return nil
}

// Close tears the node down.
func (s *KeyServer) Close() {
	s.mgr.Close()
	s.cluster.Close()
}

// ConnectedNodes reports the peers currently reachable, for CLI status
// reporting.
func (s *KeyServer) ConnectedNodes() []keyserver.NodeId {
	return s.cluster.ConnectedNodes()
}

// GenerateDocumentKey implements §6's generate_document_key: it samples a
// fresh document key locally, runs an encryption session so any future
// t+1 cluster members can reconstruct it without this node's
// involvement, and returns the key ECIES-encrypted to the requestor.
func (s *KeyServer) GenerateDocumentKey(signature []byte, docID keyserver.SessionId, threshold int) ([]byte, error) {
	requestor, err := cryptoutil.RecoverPublic(signature, docID[:])
	if err != nil {
		return nil, keyserver.WrapError(keyserver.ErrBadSignature, err)
	}
	if authorized, err := s.acl.IsAuthorized(requestor, docID); err != nil {
		return nil, err
	} else if !authorized {
		return nil, keyserver.NewError(keyserver.ErrAccessDenied, "requestor not authorized for document %s", docID)
	}

	documentKey, err := cryptoutil.GenerateKey()
	if err != nil {
		return nil, keyserver.WrapError(keyserver.ErrEthKey, err)
	}

	if _, err := s.mgr.GenerateDocumentKey(docID, threshold, &documentKey.Public); err != nil {
		return nil, err
	}

	ciphertext, err := cryptoutil.Encrypt(requestor, documentKey.Public.Bytes())
	if err != nil {
		return nil, keyserver.WrapError(keyserver.ErrEthKey, err)
	}
	return ciphertext, nil
}

// DocumentKey implements §6's document_key: releases a previously
// generated key in plain mode.
func (s *KeyServer) DocumentKey(signature []byte, docID keyserver.SessionId) ([]byte, error) {
	requestor, err := cryptoutil.RecoverPublic(signature, docID[:])
	if err != nil {
		return nil, keyserver.WrapError(keyserver.ErrBadSignature, err)
	}

	result, err := s.mgr.DecryptDocumentKey(docID, signature, false)
	if err != nil {
		return nil, err
	}

	ciphertext, err := cryptoutil.Encrypt(requestor, result.Point.Bytes())
	if err != nil {
		return nil, keyserver.WrapError(keyserver.ErrEthKey, err)
	}
	return ciphertext, nil
}

// DocumentKeyShadow implements §6's document_key_shadow: releases the
// reconstruction inputs instead of the plaintext key, so the servers
// never see the key in the clear.
func (s *KeyServer) DocumentKeyShadow(signature []byte, docID keyserver.SessionId) (*ShadowResult, error) {
	result, err := s.mgr.DecryptDocumentKey(docID, signature, true)
	if err != nil {
		return nil, err
	}
	share, err := s.keys.Get(docID)
	if err != nil {
		return nil, err
	}
	return &ShadowResult{
		DecryptedSecret: result.Point,
		CommonPoint:     share.CommonPoint,
		DecryptShadows:  result.ShadowCoefficients,
	}, nil
}
