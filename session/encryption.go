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

type encState int

const (
	encWaitingConfirmations encState = iota // initiator: collecting ConfirmInitialization
	encWaitingComplete                      // non-initiator: collecting CompleteInitialization
	encDisseminating                        // exchanging KeysDissemination / Complaint
	encWaitingPublicShares                  // exchanging PublicKeyShare
	encCompleted
	encFailed
)

// EncryptionSession runs the distributed key generation protocol of §4.5
// for one document id.
type EncryptionSession struct {
	mgr         *Manager
	id          keyserver.SessionId
	self        keyserver.NodeId
	isInitiator bool
	author      keyserver.NodeId
	threshold   int

	participants []keyserver.NodeId // canonical order, NodeId byte order
	idNumbers    map[string]*big.Int

	commonPoint    cryptoutil.PublicKey
	encryptedPoint cryptoutil.PublicKey
	// documentKeySecret is ephemeral.D from newEncryptionSessionInitiator:
	// the scalar commonPoint/encryptedPoint were built from. Only the
	// author knows it; it becomes the author's own poly1 secret in
	// beginDissemination so the joint DKG secret reconstructs to exactly
	// this value instead of an unrelated random one.
	documentKeySecret *big.Int

	state    encState
	deadline time.Time

	confirmations map[string]bool // initiator only

	poly1, poly2 shamir.Polynomial
	publicCoeffs []cryptoutil.PublicKey

	recvSecret1    map[string]*big.Int
	recvSecret2    map[string]*big.Int
	senderCoeffs   map[string][]cryptoutil.PublicKey
	verifiedSender map[string]bool
	cheaters       map[string]bool

	ownSecretShare *big.Int
	publicShares   map[string]cryptoutil.PublicKey

	completedAcks map[string]bool // initiator only

	done *completion
}

// newEncryptionSessionInitiator starts a new DKG as the initiating node,
// picking id numbers and the optional document-key commitment up front
// (§4.5 step 1). Open Question #1: encrypted_point must be fixed before
// the joint DKG secret is known, so the author instead chooses the joint
// secret itself (documentKeySecret below) and shares it out via the DKG,
// rather than letting the DKG produce an independent random secret the
// author could never have blinded encrypted_point with in advance.
func newEncryptionSessionInitiator(mgr *Manager, id keyserver.SessionId, threshold int, documentKeyPoint *cryptoutil.PublicKey) (*EncryptionSession, error) {
	self := mgr.config.SelfId()
	participants := sortParticipants(append(mgr.sender.ConnectedNodes(), self))

	if threshold < 0 || threshold >= len(participants)-1 {
		return nil, keyserver.NewError(keyserver.ErrInvalidThreshold, "threshold %d invalid for %d participants", threshold, len(participants))
	}
	if len(participants) < threshold+2 {
		return nil, keyserver.NewError(keyserver.ErrInvalidNodesCount, "need at least %d participants for threshold %d, have %d", threshold+2, threshold, len(participants))
	}

	idNumbers, err := assignIDNumbers(participants)
	if err != nil {
		return nil, err
	}

	es := &EncryptionSession{
		mgr:           mgr,
		id:            id,
		self:          self,
		isInitiator:   true,
		author:        self,
		threshold:     threshold,
		participants:  participants,
		idNumbers:     idNumbers,
		state:         encWaitingConfirmations,
		confirmations: make(map[string]bool, len(participants)),
		completedAcks: make(map[string]bool, len(participants)),
	}

	if documentKeyPoint != nil {
		ephemeral, err := cryptoutil.GenerateKey()
		if err != nil {
			return nil, keyserver.WrapError(keyserver.ErrEthKey, err)
		}
		es.commonPoint = cryptoutil.BasePointMult(ephemeral.D)
		// The blinding factor is commonPoint scaled by the same scalar the
		// DKG below distributes as its joint secret, so that once the
		// session completes, summing partial decryptions over any
		// threshold+1 subset reconstructs exactly this factor (§4.6).
		es.encryptedPoint = documentKeyPoint.Add(es.commonPoint.ScalarMult(ephemeral.D))
		es.documentKeySecret = ephemeral.D
	}

	msg := wire.InitializeSession{
		SessionId:      id,
		AuthorKey:      self.Bytes(),
		Nodes:          bigMapOf(idNumbers),
		Threshold:      threshold,
		CommonPoint:    pointOf(es.commonPoint),
		EncryptedPoint: pointOf(es.encryptedPoint),
	}
	for _, p := range participants {
		if p.Equal(self) {
			continue
		}
		if err := mgr.sender.Send(p, wire.KindInitializeSession, msg); err != nil {
			return nil, err
		}
	}
	es.confirmations[keyserver.NodeKey(self)] = true
	return es, nil
}

// newEncryptionSessionFromNetwork builds the responder side of a DKG on
// receipt of the first InitializeSession (§4.4: insert_session_from_network).
func newEncryptionSessionFromNetwork(mgr *Manager, msg wire.InitializeSession) (*EncryptionSession, error) {
	self := mgr.config.SelfId()
	author, err := cryptoutil.ParsePublicKey(msg.AuthorKey)
	if err != nil {
		return nil, keyserver.WrapError(keyserver.ErrInvalidMessage, err)
	}

	participants := make([]keyserver.NodeId, 0, len(msg.Nodes))
	idNumbers := make(map[string]*big.Int, len(msg.Nodes))
	selfKnown := false
	seen := make(map[string]bool, len(msg.Nodes))
	for key, n := range msg.Nodes {
		raw, err := hexDecode(key)
		if err != nil {
			return nil, keyserver.NewError(keyserver.ErrInvalidMessage, "bad node key %q", key)
		}
		id, err := cryptoutil.ParsePublicKey(raw)
		if err != nil {
			return nil, keyserver.WrapError(keyserver.ErrInvalidMessage, err)
		}
		if n.Int == nil || n.Sign() == 0 {
			return nil, keyserver.NewError(keyserver.ErrInvalidMessage, "zero id_number for %s", key)
		}
		if seen[n.String()] {
			return nil, keyserver.NewError(keyserver.ErrInvalidMessage, "duplicate id_number")
		}
		seen[n.String()] = true
		participants = append(participants, id)
		idNumbers[keyserver.NodeKey(id)] = n.Int
		if id.Equal(self) {
			selfKnown = true
		}
	}
	if !selfKnown {
		return nil, keyserver.NewError(keyserver.ErrInvalidMessage, "local node missing from session membership")
	}
	if msg.Threshold < 0 || msg.Threshold >= len(participants)-1 {
		return nil, keyserver.NewError(keyserver.ErrInvalidThreshold, "invalid threshold")
	}
	if len(participants) < msg.Threshold+2 {
		return nil, keyserver.NewError(keyserver.ErrInvalidNodesCount, "too few participants for threshold")
	}
	participants = sortParticipants(participants)

	es := &EncryptionSession{
		mgr:          mgr,
		id:           msg.SessionId,
		self:         self,
		isInitiator:  false,
		author:       author,
		threshold:    msg.Threshold,
		participants: participants,
		idNumbers:    idNumbers,
		state:        encWaitingComplete,
	}
	if msg.CommonPoint.X.Int != nil {
		es.commonPoint = cryptoutil.PublicKey{X: msg.CommonPoint.X.Int, Y: msg.CommonPoint.Y.Int}
		es.encryptedPoint = cryptoutil.PublicKey{X: msg.EncryptedPoint.X.Int, Y: msg.EncryptedPoint.Y.Int}
	}

	ok := true
	if authorized, err := mgr.acl.IsAuthorized(author, msg.SessionId); err != nil || !authorized {
		ok = false
	}
	if err := mgr.sender.Send(author, wire.KindConfirmInitialization, wire.ConfirmInitialization{SessionId: msg.SessionId, Ok: ok}); err != nil {
		return nil, err
	}
	if !ok {
		es.state = encFailed
		return es, keyserver.NewError(keyserver.ErrAccessDenied, "author not authorized for this document")
	}
	return es, nil
}

// HandleMessage processes one decoded payload addressed to this session.
func (es *EncryptionSession) HandleMessage(from keyserver.NodeId, kind wire.Kind, payload []byte) {
	if es.state == encCompleted || es.state == encFailed {
		return
	}
	var err error
	switch kind {
	case wire.KindConfirmInitialization:
		err = es.onConfirmInitialization(from, payload)
	case wire.KindCompleteInitialization:
		err = es.onCompleteInitialization(payload)
	case wire.KindKeysDissemination:
		err = es.onKeysDissemination(from, payload)
	case wire.KindComplaint:
		err = es.onComplaint(from, payload)
	case wire.KindComplaintResponse:
		err = es.onComplaintResponse(from, payload)
	case wire.KindPublicKeyShare:
		err = es.onPublicKeyShare(from, payload)
	case wire.KindSessionCompleted:
		es.onSessionCompleted(from)
	case wire.KindSessionError:
		err = keyserver.NewError(keyserver.ErrInvalidStateForRequest, "peer %s aborted session", keyserver.NodeKey(from))
	}
	if err != nil {
		es.abort(err)
	}
}

func (es *EncryptionSession) onConfirmInitialization(from keyserver.NodeId, payload []byte) error {
	if !es.isInitiator || es.state != encWaitingConfirmations {
		return nil
	}
	var msg wire.ConfirmInitialization
	if err := decodeJSON(payload, &msg); err != nil {
		return err
	}
	if !msg.Ok {
		return keyserver.NewError(keyserver.ErrAccessDenied, "node %s denied author", keyserver.NodeKey(from))
	}
	es.confirmations[keyserver.NodeKey(from)] = true
	if len(es.confirmations) < len(es.participants) {
		return nil
	}
	return es.broadcastComplete()
}

func (es *EncryptionSession) broadcastComplete() error {
	es.mgr.sender.Broadcast(wire.KindCompleteInitialization, wire.CompleteInitialization{SessionId: es.id}, es.self)
	return es.beginDissemination()
}

func (es *EncryptionSession) onCompleteInitialization(payload []byte) error {
	if es.isInitiator || es.state != encWaitingComplete {
		return nil
	}
	var msg wire.CompleteInitialization
	if err := decodeJSON(payload, &msg); err != nil {
		return err
	}
	return es.beginDissemination()
}

// beginDissemination samples this node's two degree-t polynomials and
// sends every other participant its evaluation pair (§4.5 step 4).
func (es *EncryptionSession) beginDissemination() error {
	// When this session is bound to a document key (commonPoint set), the
	// joint secret must reconstruct to exactly documentKeySecret: only the
	// author contributes it, every other participant shares a zero secret
	// so the sum of constant terms across all participants still equals
	// documentKeySecret (§4.5 step 4; see Open Question #1).
	poly1Secret := big.NewInt(0)
	boundToDocumentKey := es.commonPoint.X != nil
	if boundToDocumentKey && es.self.Equal(es.author) {
		poly1Secret = es.documentKeySecret
	}
	var poly1 shamir.Polynomial
	var err error
	if boundToDocumentKey {
		poly1, err = shamir.Generate(poly1Secret, es.threshold)
	} else {
		poly1, err = shamir.GenerateRandom(es.threshold)
	}
	if err != nil {
		return keyserver.WrapError(keyserver.ErrEthKey, err)
	}
	poly2, err := shamir.GenerateRandom(es.threshold)
	if err != nil {
		return keyserver.WrapError(keyserver.ErrEthKey, err)
	}
	es.poly1, es.poly2 = poly1, poly2
	es.publicCoeffs = poly1.PublicCoeffs()

	es.recvSecret1 = make(map[string]*big.Int, len(es.participants))
	es.recvSecret2 = make(map[string]*big.Int, len(es.participants))
	es.senderCoeffs = make(map[string][]cryptoutil.PublicKey, len(es.participants))
	es.verifiedSender = make(map[string]bool, len(es.participants))
	es.cheaters = make(map[string]bool)
	es.state = encDisseminating

	coeffPoints := make([]wire.Point, len(es.publicCoeffs))
	for i, c := range es.publicCoeffs {
		coeffPoints[i] = pointOf(c)
	}

	for _, p := range es.participants {
		x := es.idNumbers[keyserver.NodeKey(p)]
		msg := wire.KeysDissemination{
			SessionId:    es.id,
			Secret1:      wire.BigOf(poly1.Eval(x)),
			Secret2:      wire.BigOf(poly2.Eval(x)),
			PublicCoeffs: coeffPoints,
		}
		if p.Equal(es.self) {
			es.recvSecret1[keyserver.NodeKey(p)] = poly1.Eval(x)
			es.recvSecret2[keyserver.NodeKey(p)] = poly2.Eval(x)
			es.senderCoeffs[keyserver.NodeKey(p)] = es.publicCoeffs
			es.verifiedSender[keyserver.NodeKey(p)] = true
			continue
		}
		if err := es.mgr.sender.Send(p, wire.KindKeysDissemination, msg); err != nil {
			return err
		}
	}
	return es.maybeFinishDissemination()
}

func (es *EncryptionSession) onKeysDissemination(from keyserver.NodeId, payload []byte) error {
	if es.state != encDisseminating {
		return nil
	}
	var msg wire.KeysDissemination
	if err := decodeJSON(payload, &msg); err != nil {
		return err
	}
	coeffs := make([]cryptoutil.PublicKey, len(msg.PublicCoeffs))
	for i, p := range msg.PublicCoeffs {
		coeffs[i] = cryptoutil.PublicKey{X: p.X.Int, Y: p.Y.Int}
	}
	key := keyserver.NodeKey(from)
	es.senderCoeffs[key] = coeffs

	x := es.idNumbers[keyserver.NodeKey(es.self)]
	if !shamir.VerifyShare(msg.Secret1.Int, x, coeffs) {
		es.cheaters[key] = true
		return es.mgr.sender.Send(from, wire.KindComplaint, wire.Complaint{SessionId: es.id, Against: from.Bytes()})
	}
	es.recvSecret1[key] = msg.Secret1.Int
	es.recvSecret2[key] = msg.Secret2.Int
	es.verifiedSender[key] = true
	return es.maybeFinishDissemination()
}

func (es *EncryptionSession) onComplaint(from keyserver.NodeId, payload []byte) error {
	var msg wire.Complaint
	if err := decodeJSON(payload, &msg); err != nil {
		return err
	}
	accused, err := cryptoutil.ParsePublicKey(msg.Against)
	if err != nil || !accused.Equal(es.self) {
		return nil // not about us
	}
	x := es.idNumbers[keyserver.NodeKey(from)]
	return es.mgr.sender.Send(from, wire.KindComplaintResponse, wire.ComplaintResponse{SessionId: es.id, Share: wire.BigOf(es.poly1.Eval(x))})
}

func (es *EncryptionSession) onComplaintResponse(from keyserver.NodeId, payload []byte) error {
	var msg wire.ComplaintResponse
	if err := decodeJSON(payload, &msg); err != nil {
		return err
	}
	key := keyserver.NodeKey(from)
	if !es.cheaters[key] {
		return nil
	}
	x := es.idNumbers[keyserver.NodeKey(es.self)]
	if !shamir.VerifyShare(msg.Share.Int, x, es.senderCoeffs[key]) {
		return keyserver.NewError(keyserver.ErrInvalidMessage, "node %s sent an unverifiable share even after complaint", key)
	}
	es.recvSecret1[key] = msg.Share.Int
	delete(es.cheaters, key)
	es.verifiedSender[key] = true
	return es.maybeFinishDissemination()
}

func (es *EncryptionSession) maybeFinishDissemination() error {
	if len(es.cheaters) > 0 {
		return nil
	}
	for _, p := range es.participants {
		if !es.verifiedSender[keyserver.NodeKey(p)] {
			return nil
		}
	}

	shares := make([]*big.Int, 0, len(es.participants))
	for _, p := range es.participants {
		shares = append(shares, es.recvSecret1[keyserver.NodeKey(p)])
	}
	es.ownSecretShare = shamir.SumShares(shares)
	es.publicShares = map[string]cryptoutil.PublicKey{keyserver.NodeKey(es.self): cryptoutil.BasePointMult(es.ownSecretShare)}
	es.state = encWaitingPublicShares

	es.mgr.sender.Broadcast(wire.KindPublicKeyShare, wire.PublicKeyShare{SessionId: es.id, Share: pointOf(es.publicShares[keyserver.NodeKey(es.self)])}, es.self)
	return es.maybeFinishPublicShares()
}

func (es *EncryptionSession) onPublicKeyShare(from keyserver.NodeId, payload []byte) error {
	if es.state != encWaitingPublicShares {
		return nil
	}
	var msg wire.PublicKeyShare
	if err := decodeJSON(payload, &msg); err != nil {
		return err
	}
	es.publicShares[keyserver.NodeKey(from)] = cryptoutil.PublicKey{X: msg.Share.X.Int, Y: msg.Share.Y.Int}
	return es.maybeFinishPublicShares()
}

// maybeFinishPublicShares combines every participant's public share by
// Lagrange interpolation at zero into the session's joint public key
// (§4.5 step 7), persists the share and acknowledges completion.
func (es *EncryptionSession) maybeFinishPublicShares() error {
	for _, p := range es.participants {
		if _, ok := es.publicShares[keyserver.NodeKey(p)]; !ok {
			return nil
		}
	}

	xs := idNumbersOf(es.idNumbers, es.participants)
	points := make([]cryptoutil.PublicKey, len(es.participants))
	for i, p := range es.participants {
		points[i] = es.publicShares[keyserver.NodeKey(p)]
	}
	jointKey := shamir.CombinePublicPoints(xs, points)

	share := &keyserver.DocumentKeyShare{
		Threshold:      es.threshold,
		Author:         es.author,
		CommonPoint:    es.commonPoint,
		EncryptedPoint: es.encryptedPoint,
		PublicCoeffs:   es.publicCoeffs,
		OwnShare:       es.ownSecretShare,
		IdNumbers:      es.idNumbers,
		Participants:   es.participants,
	}
	if err := es.mgr.keys.Put(es.id, share); err != nil {
		return keyserver.WrapError(keyserver.ErrKeyStorage, err)
	}

	es.state = encCompleted
	if es.isInitiator {
		es.completedAcks[keyserver.NodeKey(es.self)] = true
		if es.done != nil {
			es.done.resolve(jointKey, nil)
		}
	} else {
		es.mgr.sender.Send(es.author, wire.KindSessionCompleted, wire.SessionCompleted{SessionId: es.id})
	}
	return nil
}

func (es *EncryptionSession) onSessionCompleted(from keyserver.NodeId) {
	if !es.isInitiator {
		return
	}
	es.completedAcks[keyserver.NodeKey(from)] = true
}

func (es *EncryptionSession) abort(err error) {
	if es.state == encCompleted || es.state == encFailed {
		return
	}
	es.state = encFailed
	kind := keyserver.KindOf(err)
	es.mgr.sender.Broadcast(wire.KindSessionError, wire.SessionError{SessionId: es.id, Kind: kind, Message: err.Error()}, es.self)
	if es.done != nil {
		es.done.resolve(nil, err)
	}
}

// onPeerDisconnected aborts the session per §5: "every live session
// observes NodeDisconnected and transitions to Failed."
func (es *EncryptionSession) onPeerDisconnected(peer keyserver.NodeId) {
	for _, p := range es.participants {
		if p.Equal(peer) {
			es.abort(keyserver.NewError(keyserver.ErrNodeDisconnected, "participant %s disconnected", keyserver.NodeKey(peer)))
			return
		}
	}
}

// checkDeadline aborts the session if it has not progressed past its
// deadline (§4.4, §5).
func (es *EncryptionSession) checkDeadline(now time.Time) {
	if es.state != encCompleted && es.state != encFailed && now.After(es.deadline) {
		es.abort(keyserver.NewError(keyserver.ErrTooEarlyForRequest, "session %s timed out", es.id))
	}
}

// assignIDNumbers gives every participant a distinct non-zero scalar
// (§4.5 step 1), retrying on collision.
func assignIDNumbers(participants []keyserver.NodeId) (map[string]*big.Int, error) {
	out := make(map[string]*big.Int, len(participants))
	seen := make(map[string]bool, len(participants))
	for _, p := range participants {
		for {
			x, err := cryptoutil.RandomScalar()
			if err != nil {
				return nil, keyserver.WrapError(keyserver.ErrEthKey, err)
			}
			if seen[x.String()] {
				continue
			}
			seen[x.String()] = true
			out[keyserver.NodeKey(p)] = x
			break
		}
	}
	return out, nil
}
