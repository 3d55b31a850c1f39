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
	"math/big"
	"time"

	keyserver "github.com/sperax/keyserver"
	"github.com/sperax/keyserver/cryptoutil"
	"github.com/sperax/keyserver/shamir"
	"github.com/sperax/keyserver/wire"
)

type decState int

const (
	decWaitingConfirmations decState = iota // initiator
	decWaitingConfirmInit                   // responder: verifying, about to answer
	decWaitingPartials                      // initiator: collecting PartialDecryption
	decCompleted
	decFailed
)

// DecryptionResult is what DecryptDocumentKey's completion resolves to
// (§4.6 step 6): in plain mode Point is the document secret point; in
// shadow mode ShadowCoefficients holds each contributing node's
// ECIES-wrapped coefficient for the client to finish offline.
type DecryptionResult struct {
	Point              cryptoutil.PublicKey
	IsShadow           bool
	ShadowCoefficients [][]byte
}

// DecryptionSession runs the threshold reconstruction protocol of §4.6.
type DecryptionSession struct {
	mgr         *Manager
	id          keyserver.SessionId
	self        keyserver.NodeId
	isInitiator bool
	// initiator is who to send PartialDecryption back to; only meaningful
	// for a session built from the network (responder side).
	initiator keyserver.NodeId

	share     *keyserver.DocumentKeyShare
	requestor cryptoutil.PublicKey
	isShadow  bool

	subset []keyserver.NodeId // R, canonical order, includes self

	state    decState
	deadline time.Time

	confirmations map[string]bool           // initiator only
	partials      map[string]cryptoutil.PublicKey // initiator only
	shadowCoeffs  map[string][]byte               // initiator only, shadow mode

	done *completion
}

// newDecryptionSessionInitiator loads the stored share, recovers the
// requestor from σ, checks the ACL and picks a reconstructing subset
// (§4.6 steps 1-3).
func newDecryptionSessionInitiator(mgr *Manager, id keyserver.SessionId, signature []byte, isShadow bool, share *keyserver.DocumentKeyShare) (*DecryptionSession, error) {
	requestor, err := cryptoutil.RecoverPublic(signature, id[:])
	if err != nil {
		return nil, keyserver.WrapError(keyserver.ErrBadSignature, err)
	}
	authorized, err := mgr.acl.IsAuthorized(requestor, id)
	if err != nil {
		return nil, keyserver.WrapError(keyserver.ErrAccessDenied, err)
	}
	if !authorized {
		return nil, keyserver.NewError(keyserver.ErrAccessDenied, "requestor not authorized for document %s", id)
	}

	self := mgr.config.SelfId()
	subset, err := pickSubset(self, share, mgr.sender.ConnectedNodes())
	if err != nil {
		return nil, err
	}

	ds := &DecryptionSession{
		mgr:           mgr,
		id:            id,
		self:          self,
		isInitiator:   true,
		share:         share,
		requestor:     requestor,
		isShadow:      isShadow,
		subset:        subset,
		state:         decWaitingConfirmations,
		confirmations: make(map[string]bool, len(subset)),
		partials:      make(map[string]cryptoutil.PublicKey, len(subset)),
		shadowCoeffs:  make(map[string][]byte, len(subset)),
	}

	msg := wire.InitializeDecryptionSession{SessionId: id, Signature: signature, IsShadow: isShadow, Requestor: requestor.Bytes()}
	for _, p := range subset {
		if p.Equal(self) {
			continue
		}
		if err := mgr.sender.Send(p, wire.KindInitializeDecryptionSession, msg); err != nil {
			return nil, err
		}
	}
	ds.confirmations[keyserver.NodeKey(self)] = true
	return ds, nil
}

// pickSubset chooses |t+1| id-number holders from the document's
// participants: self plus connected peers, in participant order (§4.6
// step 3). Unconnected participants are never chosen; if fewer than t+1
// are available it returns ErrNodeDisconnected.
func pickSubset(self keyserver.NodeId, share *keyserver.DocumentKeyShare, connected []keyserver.NodeId) ([]keyserver.NodeId, error) {
	connectedSet := make(map[string]bool, len(connected))
	for _, n := range connected {
		connectedSet[keyserver.NodeKey(n)] = true
	}

	need := share.Threshold + 1
	subset := []keyserver.NodeId{self}
	for _, p := range share.Participants {
		if len(subset) >= need {
			break
		}
		if p.Equal(self) {
			continue
		}
		if connectedSet[keyserver.NodeKey(p)] {
			subset = append(subset, p)
		}
	}
	if len(subset) < need {
		return nil, keyserver.NewError(keyserver.ErrNodeDisconnected, "only %d of %d required participants are connected", len(subset), need)
	}
	return sortParticipants(subset), nil
}

func newDecryptionSessionFromNetwork(mgr *Manager, from keyserver.NodeId, msg wire.InitializeDecryptionSession) (*DecryptionSession, error) {
	self := mgr.config.SelfId()
	share, err := mgr.keys.Get(msg.SessionId)
	if err != nil {
		mgr.sender.Send(from, wire.KindConfirmDecryptionInitialization, wire.ConfirmDecryptionInitialization{SessionId: msg.SessionId, Ok: false})
		return nil, err
	}
	requestor, err := cryptoutil.RecoverPublic(msg.Signature, msg.SessionId[:])
	if err != nil {
		mgr.sender.Send(from, wire.KindConfirmDecryptionInitialization, wire.ConfirmDecryptionInitialization{SessionId: msg.SessionId, Ok: false})
		return nil, keyserver.WrapError(keyserver.ErrBadSignature, err)
	}
	authorized, _ := mgr.acl.IsAuthorized(requestor, msg.SessionId)

	ds := &DecryptionSession{
		mgr:         mgr,
		id:          msg.SessionId,
		self:        self,
		isInitiator: false,
		initiator:   from,
		share:       share,
		requestor:   requestor,
		isShadow:    msg.IsShadow,
		state:       decWaitingConfirmInit,
	}
	if err := mgr.sender.Send(from, wire.KindConfirmDecryptionInitialization, wire.ConfirmDecryptionInitialization{SessionId: msg.SessionId, Ok: authorized}); err != nil {
		return ds, err
	}
	if !authorized {
		ds.state = decFailed
		return ds, keyserver.NewError(keyserver.ErrAccessDenied, "requestor not authorized")
	}
	return ds, nil
}

// HandleMessage processes one decoded payload for this session.
func (ds *DecryptionSession) HandleMessage(from keyserver.NodeId, kind wire.Kind, payload []byte) {
	if ds.state == decCompleted || ds.state == decFailed {
		return
	}
	var err error
	switch kind {
	case wire.KindConfirmDecryptionInitialization:
		err = ds.onConfirm(from, payload)
	case wire.KindRequestPartialDecryption:
		err = ds.onRequestPartial(payload)
	case wire.KindPartialDecryption:
		err = ds.onPartial(from, payload)
	case wire.KindDecryptionSessionError:
		err = keyserver.NewError(keyserver.ErrInvalidStateForRequest, "peer %s aborted decryption session", keyserver.NodeKey(from))
	}
	if err != nil {
		ds.abort(err)
	}
}

func (ds *DecryptionSession) onConfirm(from keyserver.NodeId, payload []byte) error {
	if !ds.isInitiator || ds.state != decWaitingConfirmations {
		return nil
	}
	var msg wire.ConfirmDecryptionInitialization
	if err := decodeJSON(payload, &msg); err != nil {
		return err
	}
	if !msg.Ok {
		return keyserver.NewError(keyserver.ErrAccessDenied, "node %s declined decryption request", keyserver.NodeKey(from))
	}
	ds.confirmations[keyserver.NodeKey(from)] = true
	if len(ds.confirmations) < len(ds.subset) {
		return nil
	}

	xs := make([]*big.Int, len(ds.subset))
	ids := make([][]byte, len(ds.subset))
	for i, p := range ds.subset {
		xs[i] = ds.share.IdNumbers[keyserver.NodeKey(p)]
		ids[i] = p.Bytes()
	}
	ds.state = decWaitingPartials
	for _, p := range ds.subset {
		if p.Equal(ds.self) {
			continue
		}
		if err := ds.mgr.sender.Send(p, wire.KindRequestPartialDecryption, wire.RequestPartialDecryption{SessionId: ds.id, Participants: ids}); err != nil {
			return err
		}
	}
	point, coeff, err := ds.computeOwnPartial(xs)
	if err != nil {
		return err
	}
	ds.partials[keyserver.NodeKey(ds.self)] = point
	if ds.isShadow {
		sealed, err := cryptoutil.Encrypt(ds.requestor, coeff.Bytes())
		if err != nil {
			return keyserver.WrapError(keyserver.ErrEthKey, err)
		}
		ds.shadowCoeffs[keyserver.NodeKey(ds.self)] = sealed
	}
	return ds.maybeFinish()
}

func (ds *DecryptionSession) onRequestPartial(payload []byte) error {
	if ds.isInitiator || ds.state != decWaitingConfirmInit {
		return nil
	}
	var msg wire.RequestPartialDecryption
	if err := decodeJSON(payload, &msg); err != nil {
		return err
	}

	xs := make([]*big.Int, len(msg.Participants))
	var selfIndex = -1
	for i, raw := range msg.Participants {
		id, err := cryptoutil.ParsePublicKey(raw)
		if err != nil {
			return keyserver.WrapError(keyserver.ErrInvalidMessage, err)
		}
		x, ok := ds.share.IdNumberOf(id)
		if !ok {
			return keyserver.NewError(keyserver.ErrInvalidMessage, "participant not part of this document's share")
		}
		xs[i] = x
		if id.Equal(ds.self) {
			selfIndex = i
		}
	}
	if selfIndex < 0 {
		return keyserver.NewError(keyserver.ErrInvalidMessage, "local node missing from requested participant set")
	}

	coeff := shamir.CoefficientAtZero(xs, selfIndex)
	scalar := new(big.Int).Mul(coeff, ds.share.OwnShare)
	scalar.Mod(scalar, cryptoutil.N)
	point := ds.share.CommonPoint.ScalarMult(scalar)

	resp := wire.PartialDecryption{SessionId: ds.id, Point: pointOf(point)}
	if ds.isShadow {
		sealed, err := cryptoutil.Encrypt(ds.requestor, coeff.Bytes())
		if err != nil {
			return keyserver.WrapError(keyserver.ErrEthKey, err)
		}
		resp.ShadowCoefficient = sealed
	}
	return ds.mgr.sender.Send(ds.initiator, wire.KindPartialDecryption, resp)
}

func (ds *DecryptionSession) onPartial(from keyserver.NodeId, payload []byte) error {
	if !ds.isInitiator || ds.state != decWaitingPartials {
		return nil
	}
	var msg wire.PartialDecryption
	if err := decodeJSON(payload, &msg); err != nil {
		return err
	}
	key := keyserver.NodeKey(from)
	ds.partials[key] = cryptoutil.PublicKey{X: msg.Point.X.Int, Y: msg.Point.Y.Int}
	if ds.isShadow {
		ds.shadowCoeffs[key] = msg.ShadowCoefficient
	}
	return ds.maybeFinish()
}

func (ds *DecryptionSession) maybeFinish() error {
	for _, p := range ds.subset {
		if _, ok := ds.partials[keyserver.NodeKey(p)]; !ok {
			return nil
		}
	}

	var combined cryptoutil.PublicKey
	first := true
	for _, p := range ds.subset {
		part := ds.partials[keyserver.NodeKey(p)]
		if first {
			combined = part
			first = false
			continue
		}
		combined = combined.Add(part)
	}

	result := &DecryptionResult{IsShadow: ds.isShadow}
	if ds.isShadow {
		result.Point = combined
		for _, p := range ds.subset {
			result.ShadowCoefficients = append(result.ShadowCoefficients, ds.shadowCoeffs[keyserver.NodeKey(p)])
		}
	} else {
		result.Point = ds.share.EncryptedPoint.Add(combined.Negate())
	}

	ds.state = decCompleted
	if ds.done != nil {
		ds.done.resolve(result, nil)
	}
	return nil
}

func (ds *DecryptionSession) abort(err error) {
	if ds.state == decCompleted || ds.state == decFailed {
		return
	}
	ds.state = decFailed
	kind := keyserver.KindOf(err)
	targets := ds.subset
	if !ds.isInitiator {
		targets = []keyserver.NodeId{ds.initiator}
	}
	for _, p := range targets {
		if !p.Equal(ds.self) {
			ds.mgr.sender.Send(p, wire.KindDecryptionSessionError, wire.DecryptionSessionError{SessionId: ds.id, Kind: kind, Message: err.Error()})
		}
	}
	if ds.done != nil {
		ds.done.resolve(nil, err)
	}
}

func (ds *DecryptionSession) onPeerDisconnected(peer keyserver.NodeId) {
	for _, p := range ds.subset {
		if p.Equal(peer) {
			ds.abort(keyserver.NewError(keyserver.ErrNodeDisconnected, "participant %s disconnected", keyserver.NodeKey(peer)))
			return
		}
	}
}

func (ds *DecryptionSession) checkDeadline(now time.Time) {
	if ds.state != decCompleted && ds.state != decFailed && now.After(ds.deadline) {
		ds.abort(keyserver.NewError(keyserver.ErrTooEarlyForRequest, "decryption session %s timed out", ds.id))
	}
}

// computeOwnPartial is the initiator's own contribution to maybeFinish,
// mirroring onRequestPartial's math for its own index within the subset.
func (ds *DecryptionSession) computeOwnPartial(xs []*big.Int) (cryptoutil.PublicKey, *big.Int, error) {
	selfIndex := -1
	for i, p := range ds.subset {
		if p.Equal(ds.self) {
			selfIndex = i
			break
		}
	}
	if selfIndex < 0 {
		return cryptoutil.PublicKey{}, nil, keyserver.NewError(keyserver.ErrInternal, "initiator missing from its own subset")
	}
	coeff := shamir.CoefficientAtZero(xs, selfIndex)
	scalar := new(big.Int).Mul(coeff, ds.share.OwnShare)
	scalar.Mod(scalar, cryptoutil.N)
	return ds.share.CommonPoint.ScalarMult(scalar), coeff, nil
}
