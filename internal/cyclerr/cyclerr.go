/*
 * Copyright (c) 2026 Firefly Software Solutions Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package cyclerr provides the structured error taxonomy used across
// cyclone: log/durability errors, Raft routing errors, dispatcher
// protocol errors, and transport errors.
package cyclerr

import "fmt"

// Code uniquely identifies an error condition.
type Code int

const (
	// Log errors (1000-1999)
	CodeLogFull       Code = 1000
	CodePersistFailed Code = 1001

	// Raft errors (2000-2999)
	CodeNotLeader     Code = 2000
	CodeTermMismatch  Code = 2001
	CodeNoSuchPeer    Code = 2002

	// Dispatcher errors (3000-3999)
	CodeInvalidTxid   Code = 3000
	CodeUnknownRPC    Code = 3001

	// Transport errors (4000-4999)
	CodeTransportLoss Code = 4000

	// Bootstrap errors (5000-5999)
	CodeBootstrapFailed Code = 5000
	CodeChecksumMismatch Code = 5001
)

// Category groups related error codes.
type Category string

const (
	CategoryLog        Category = "LOG"
	CategoryRaft       Category = "RAFT"
	CategoryDispatch   Category = "DISPATCH"
	CategoryTransport  Category = "TRANSPORT"
	CategoryBootstrap  Category = "BOOTSTRAP"
)

// CyclError is the structured error type returned across package
// boundaries in cyclone.
type CyclError struct {
	Code     Code
	Category Category
	Message  string
	Detail   string
	Hint     string
	Cause    error
}

func (e *CyclError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("cyclone error %d (%s): %s - %s", e.Code, e.Category, e.Message, e.Detail)
	}
	return fmt.Sprintf("cyclone error %d (%s): %s", e.Code, e.Category, e.Message)
}

func (e *CyclError) Unwrap() error { return e.Cause }

func (e *CyclError) WithDetail(detail string) *CyclError {
	e.Detail = detail
	return e
}

func (e *CyclError) WithHint(hint string) *CyclError {
	e.Hint = hint
	return e
}

func (e *CyclError) WithCause(cause error) *CyclError {
	e.Cause = cause
	return e
}

// ----------------------------------------------------------------------
// Log errors
// ----------------------------------------------------------------------

// LogFull indicates the circular log's ring has no room for an append.
// The enclosing transaction must abort; the leader is expected to retry
// once space frees up (e.g. after a future compaction, which cyclone does
// not implement).
func LogFull(requested, free int) *CyclError {
	return &CyclError{
		Code:     CodeLogFull,
		Category: CategoryLog,
		Message:  fmt.Sprintf("log full: requested %d bytes, %d free", requested, free),
		Hint:     "retry once space is reclaimed by a head poll",
	}
}

// PersistFailed indicates a transaction aborted for a reason other than
// LogFull (I/O error, truncated write, media failure). Per the error
// handling design this is always fatal.
func PersistFailed(cause error) *CyclError {
	return &CyclError{
		Code:     CodePersistFailed,
		Category: CategoryLog,
		Message:  "persistent write failed",
		Cause:    cause,
	}
}

// ----------------------------------------------------------------------
// Raft errors
// ----------------------------------------------------------------------

// NotLeader is returned to a client (or a peer) that addressed a request
// to a node that does not currently believe it is the leader.
func NotLeader(knownLeader uint64) *CyclError {
	return &CyclError{
		Code:     CodeNotLeader,
		Category: CategoryRaft,
		Message:  "not leader",
		Detail:   fmt.Sprintf("known leader: %d", knownLeader),
	}
}

// TermMismatch indicates a message carried a term older than the
// recipient's current term.
func TermMismatch(local, remote uint64) *CyclError {
	return &CyclError{
		Code:     CodeTermMismatch,
		Category: CategoryRaft,
		Message:  "term mismatch",
		Detail:   fmt.Sprintf("local term %d, remote term %d", local, remote),
	}
}

// NoSuchPeer indicates an operation referenced a NodeID not present in
// the configuration.
func NoSuchPeer(node uint64) *CyclError {
	return &CyclError{
		Code:     CodeNoSuchPeer,
		Category: CategoryRaft,
		Message:  fmt.Sprintf("no such peer: %d", node),
	}
}

// ----------------------------------------------------------------------
// Dispatcher errors
// ----------------------------------------------------------------------

// InvalidTxid is returned when a client's submitted client_txid is not
// the expected next value, or the client's previous command has not yet
// committed.
func InvalidTxid(seen uint64) *CyclError {
	return &CyclError{
		Code:     CodeInvalidTxid,
		Category: CategoryDispatch,
		Message:  "invalid client transaction id",
		Detail:   fmt.Sprintf("seen_client_txid=%d", seen),
	}
}

// UnknownRPC reports a wire message with an unrecognized code; IsFatal
// classifies it as fatal. The dispatcher does not raise it: HandleRPC
// answers an unrecognized code with RepInvTxid.
func UnknownRPC(code uint32) *CyclError {
	return &CyclError{
		Code:     CodeUnknownRPC,
		Category: CategoryDispatch,
		Message:  fmt.Sprintf("unknown rpc code: %d", code),
	}
}

// ----------------------------------------------------------------------
// Transport errors
// ----------------------------------------------------------------------

// TransportLoss indicates a datagram/frame could not be delivered. It is
// invisible to Raft's safety properties; throttle and election timeouts
// are the recovery mechanism.
func TransportLoss(peer uint64, cause error) *CyclError {
	return &CyclError{
		Code:     CodeTransportLoss,
		Category: CategoryTransport,
		Message:  fmt.Sprintf("transport loss to peer %d", peer),
		Cause:    cause,
	}
}

// ----------------------------------------------------------------------
// Bootstrap errors
// ----------------------------------------------------------------------

// BootstrapFailed wraps an error encountered during boot or checkpoint
// install.
func BootstrapFailed(reason string, cause error) *CyclError {
	return &CyclError{
		Code:     CodeBootstrapFailed,
		Category: CategoryBootstrap,
		Message:  reason,
		Cause:    cause,
	}
}

// ChecksumMismatch indicates an installed checkpoint's content hash does
// not match what the sender advertised.
func ChecksumMismatch(want, got string) *CyclError {
	return &CyclError{
		Code:     CodeChecksumMismatch,
		Category: CategoryBootstrap,
		Message:  "checkpoint checksum mismatch",
		Detail:   fmt.Sprintf("want %s, got %s", want, got),
	}
}

// IsFatal reports whether an error must terminate the process rather
// than be reported to a client or retried.
func IsFatal(err error) bool {
	ce, ok := err.(*CyclError)
	if !ok {
		return false
	}
	return ce.Code == CodePersistFailed || ce.Code == CodeUnknownRPC
}

// GetCode extracts the Code from err, or 0 if err is not a *CyclError.
func GetCode(err error) Code {
	ce, ok := err.(*CyclError)
	if !ok {
		return 0
	}
	return ce.Code
}
