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
	"encoding/json"
	"math/big"

	"github.com/syndtr/goleveldb/leveldb"

	keyserver "github.com/sperax/keyserver"
	"github.com/sperax/keyserver/cryptoutil"
)

// LevelDBKeyStorage persists DocumentKeyShare records to a single embedded
// goleveldb database, keyed by the 32-byte SessionId, so a node's shares
// survive a restart (the teacher's consensus engine is itself memory-only
// between runs; this is borrowed from go-ethereum's ethdb use of the same
// library for exactly this "small embedded KV store for one process" role).
type LevelDBKeyStorage struct {
	db *leveldb.DB
}

// OpenLevelDBKeyStorage opens (creating if absent) the database at path.
func OpenLevelDBKeyStorage(path string) (*LevelDBKeyStorage, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, keyserver.WrapError(keyserver.ErrDatabase, err)
	}
	return &LevelDBKeyStorage{db: db}, nil
}

// Close releases the underlying database handle.
func (l *LevelDBKeyStorage) Close() error {
	return l.db.Close()
}

// persistedShare is the JSON encoding of a DocumentKeyShare: big.Int
// fields round-trip through their decimal string form, the same
// convention wire.Big uses for on-the-wire scalars.
type persistedShare struct {
	Threshold      int             `json:"threshold"`
	Author         []byte          `json:"author"`
	CommonPointX   string          `json:"common_point_x"`
	CommonPointY   string          `json:"common_point_y"`
	EncPointX      string          `json:"enc_point_x"`
	EncPointY      string          `json:"enc_point_y"`
	PublicCoeffs   [][2]string     `json:"public_coeffs"`
	OwnShare       string          `json:"own_share"`
	IdNumbers      map[string]string `json:"id_numbers"`
	Participants   [][]byte        `json:"participants"`
}

func marshalShare(share *keyserver.DocumentKeyShare) ([]byte, error) {
	p := persistedShare{
		Threshold:    share.Threshold,
		Author:       share.Author.Bytes(),
		CommonPointX: share.CommonPoint.X.String(),
		CommonPointY: share.CommonPoint.Y.String(),
		EncPointX:    share.EncryptedPoint.X.String(),
		EncPointY:    share.EncryptedPoint.Y.String(),
		OwnShare:     share.OwnShare.String(),
		IdNumbers:    make(map[string]string, len(share.IdNumbers)),
	}
	for k, v := range share.IdNumbers {
		p.IdNumbers[k] = v.String()
	}
	for _, c := range share.PublicCoeffs {
		p.PublicCoeffs = append(p.PublicCoeffs, [2]string{c.X.String(), c.Y.String()})
	}
	for _, n := range share.Participants {
		p.Participants = append(p.Participants, n.Bytes())
	}
	return json.Marshal(p)
}

func unmarshalShare(data []byte) (*keyserver.DocumentKeyShare, error) {
	var p persistedShare
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, keyserver.WrapError(keyserver.ErrSerde, err)
	}
	author, err := cryptoutil.ParsePublicKey(p.Author)
	if err != nil {
		return nil, keyserver.WrapError(keyserver.ErrSerde, err)
	}
	parseBig := func(s string) (*big.Int, error) {
		n, ok := new(big.Int).SetString(s, 10)
		if !ok {
			return nil, keyserver.NewError(keyserver.ErrSerde, "invalid integer literal %q", s)
		}
		return n, nil
	}
	cx, err := parseBig(p.CommonPointX)
	if err != nil {
		return nil, err
	}
	cy, err := parseBig(p.CommonPointY)
	if err != nil {
		return nil, err
	}
	ex, err := parseBig(p.EncPointX)
	if err != nil {
		return nil, err
	}
	ey, err := parseBig(p.EncPointY)
	if err != nil {
		return nil, err
	}
	ownShare, err := parseBig(p.OwnShare)
	if err != nil {
		return nil, err
	}

	share := &keyserver.DocumentKeyShare{
		Threshold:      p.Threshold,
		Author:         author,
		CommonPoint:    cryptoutil.PublicKey{X: cx, Y: cy},
		EncryptedPoint: cryptoutil.PublicKey{X: ex, Y: ey},
		OwnShare:       ownShare,
		IdNumbers:      make(map[string]*big.Int, len(p.IdNumbers)),
	}
	for k, v := range p.IdNumbers {
		n, err := parseBig(v)
		if err != nil {
			return nil, err
		}
		share.IdNumbers[k] = n
	}
	for _, c := range p.PublicCoeffs {
		x, err := parseBig(c[0])
		if err != nil {
			return nil, err
		}
		y, err := parseBig(c[1])
		if err != nil {
			return nil, err
		}
		share.PublicCoeffs = append(share.PublicCoeffs, cryptoutil.PublicKey{X: x, Y: y})
	}
	for _, raw := range p.Participants {
		n, err := cryptoutil.ParsePublicKey(raw)
		if err != nil {
			return nil, keyserver.WrapError(keyserver.ErrSerde, err)
		}
		share.Participants = append(share.Participants, n)
	}
	return share, nil
}

// Put implements KeyStorage.
func (l *LevelDBKeyStorage) Put(id keyserver.SessionId, share *keyserver.DocumentKeyShare) error {
	data, err := marshalShare(share)
	if err != nil {
		return err
	}
	if err := l.db.Put(id[:], data, nil); err != nil {
		return keyserver.WrapError(keyserver.ErrDatabase, err)
	}
	return nil
}

// Get implements KeyStorage.
func (l *LevelDBKeyStorage) Get(id keyserver.SessionId) (*keyserver.DocumentKeyShare, error) {
	data, err := l.db.Get(id[:], nil)
	if err != nil {
		if err == leveldb.ErrNotFound {
			return nil, keyserver.NewError(keyserver.ErrDocumentNotFound, "no key share stored for document %s", id)
		}
		return nil, keyserver.WrapError(keyserver.ErrDatabase, err)
	}
	return unmarshalShare(data)
}

// Contains implements KeyStorage.
func (l *LevelDBKeyStorage) Contains(id keyserver.SessionId) bool {
	ok, err := l.db.Has(id[:], nil)
	return err == nil && ok
}
