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
	"errors"
	"fmt"
)

// ErrorKind classifies the errors that can occur while running an
// encryption or decryption session, or while handling cluster traffic.
type ErrorKind int

const (
	// ErrInvalidNodeAddress: an invalid node address has been passed.
	ErrInvalidNodeAddress ErrorKind = iota + 1
	// ErrInvalidNodeID: an invalid node id has been passed.
	ErrInvalidNodeID
	// ErrDuplicateSessionID: a session with the given id already exists.
	ErrDuplicateSessionID
	// ErrInvalidSessionID: a session with the given id is unknown.
	ErrInvalidSessionID
	// ErrInvalidNodesCount: invalid number of nodes for the requested operation.
	ErrInvalidNodesCount
	// ErrInvalidNodesConfiguration: a node required for the session is not a cluster member.
	ErrInvalidNodesConfiguration
	// ErrInvalidThreshold: threshold value must be in [0, n-2] for n participants.
	ErrInvalidThreshold
	// ErrTooEarlyForRequest: the session is not yet ready to process this request; retryable.
	ErrTooEarlyForRequest
	// ErrInvalidStateForRequest: the session's state does not allow this request; fatal.
	ErrInvalidStateForRequest
	// ErrInvalidMessage: a message or message field was recognized as invalid.
	ErrInvalidMessage
	// ErrNodeDisconnected: the connection to a required node is not established.
	ErrNodeDisconnected
	// ErrEthKey: a cryptographic error occurred.
	ErrEthKey
	// ErrIO: a transport I/O error occurred.
	ErrIO
	// ErrSerde: a (de)serialization error occurred.
	ErrSerde
	// ErrKeyStorage: the key storage collaborator failed.
	ErrKeyStorage
	// ErrDatabase: a generic storage error occurred.
	ErrDatabase
	// ErrAccessDenied: the ACL storage denied the requestor.
	ErrAccessDenied
	// ErrBadSignature: the supplied signature does not recover to a valid public key.
	ErrBadSignature
	// ErrDocumentNotFound: no DocumentKeyShare is stored for the requested document.
	ErrDocumentNotFound
	// ErrInternal: an unclassified internal error occurred.
	ErrInternal
)

var errorKindNames = map[ErrorKind]string{
	ErrInvalidNodeAddress:       "invalid node address has been passed",
	ErrInvalidNodeID:            "invalid node id has been passed",
	ErrDuplicateSessionID:       "session with the same id is already registered",
	ErrInvalidSessionID:         "invalid session id has been passed",
	ErrInvalidNodesCount:        "invalid nodes count",
	ErrInvalidNodesConfiguration: "invalid nodes configuration",
	ErrInvalidThreshold:         "invalid threshold value has been passed",
	ErrTooEarlyForRequest:       "session is not yet ready to process this request",
	ErrInvalidStateForRequest:   "session is in invalid state for processing this request",
	ErrInvalidMessage:           "invalid message is received",
	ErrNodeDisconnected:         "node required for this operation is currently disconnected",
	ErrEthKey:                   "cryptographic error",
	ErrIO:                       "i/o error",
	ErrSerde:                    "serde error",
	ErrKeyStorage:               "key storage error",
	ErrDatabase:                 "database error",
	ErrAccessDenied:             "access denied",
	ErrBadSignature:             "bad signature",
	ErrDocumentNotFound:         "document not found",
	ErrInternal:                 "internal error",
}

func (k ErrorKind) String() string {
	if name, ok := errorKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("unknown error kind (%d)", int(k))
}

// Error is the single error type returned across session, cluster and
// storage boundaries. It carries a classifying Kind plus an optional
// wrapped cause, so callers can type-switch on Kind without losing the
// underlying error via errors.Unwrap.
type Error struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

// NewError builds an Error of the given kind with a formatted message.
func NewError(kind ErrorKind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// WrapError builds an Error of the given kind wrapping an underlying cause.
func WrapError(kind ErrorKind, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: err.Error(), Err: err}
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

// Unwrap exposes the wrapped cause, if any, to errors.Is/errors.As.
func (e *Error) Unwrap() error { return e.Err }

// KindOf extracts the ErrorKind from err if it is (or wraps) an *Error,
// defaulting to ErrInternal otherwise.
func KindOf(err error) ErrorKind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return ErrInternal
}
