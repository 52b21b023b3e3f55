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

/*
Package dispatcher gates client RPCs and guarantees each client's
commands are applied exactly once, in order, even across leader
failover and this replica's own crash/restart.

A client's requests are numbered 1, 2, 3, ... (client_txid). The
dispatcher tracks, per client, the highest txid it has accepted into the
Raft log (seen_client_txid, volatile) and the highest txid that has
actually been applied (committed_txid, durable). A new request is only
submitted to Raft if it is exactly the next expected txid AND the
client's previous command has already committed — this is what makes
REQ_FN idempotent and ordered without any client-side locking.

This type intentionally carries its state on a struct rather than
file-scope globals, so a process can run more than one replica (as the
test suite does) without them trampling each other.
*/
package dispatcher

import (
	"sync"

	"github.com/cyclone-consensus/cyclone/internal/cyclerr"
	"github.com/cyclone-consensus/cyclone/internal/logging"
	"github.com/cyclone-consensus/cyclone/internal/raftcore"
)

// Code is an RPC request or reply code.
type Code uint8

const (
	ReqFn Code = iota
	ReqStatus

	RepPending
	RepInvTxid
	RepInvSrv
	RepComplete
)

func (c Code) String() string {
	switch c {
	case ReqFn:
		return "REQ_FN"
	case ReqStatus:
		return "REQ_STATUS"
	case RepPending:
		return "PENDING"
	case RepInvTxid:
		return "INVTXID"
	case RepInvSrv:
		return "INVSRV"
	case RepComplete:
		return "COMPLETE"
	default:
		return "UNKNOWN"
	}
}

// Request is a client RPC.
type Request struct {
	Code       Code
	ClientID   uint64
	ClientTxid uint64
	Payload    []byte
}

// Response is the dispatcher's reply to a Request.
type Response struct {
	Code       Code
	ClientID   uint64
	ClientTxid uint64
	LeaderID   int64  // set on RepInvSrv
	Payload    []byte // set on RepComplete
}

// Execute runs a committed command against the host application and
// returns its reply payload. It runs once per committed entry, inside
// the dispatcher's own apply path; it must not block on anything other
// than the application's own in-memory state.
type Execute func(clientID uint64, payload []byte) []byte

// Dispatcher implements the REQ_FN/REQ_STATUS protocol against a single
// RaftCore node, via the three HostBridge callbacks it's wired to
// (Offer/Pop/Apply — see hostbridge.Callbacks).
type Dispatcher struct {
	log     *logging.Logger
	store   *Store
	propose func(payload []byte, typ raftcore.EntryType) (uint64, error)
	leader  func() (isLeader bool, leaderID int64)
	execute Execute

	mu             sync.Mutex
	seenClientTxid map[uint64]uint64
	lastGlobalTxid uint64
}

// Node is the minimal raftcore.Node surface the dispatcher needs,
// satisfied directly by *raftcore.Node.
type Node interface {
	Propose(payload []byte, typ raftcore.EntryType) (uint64, error)
	IsLeader() bool
	Leader() int64
}

// New constructs a Dispatcher over store, reseeding seen_client_txid
// from the store's durable committed_txid per client — the recovery
// rule that keeps a restarted dispatcher's volatile sequencing in step
// with what actually survived the crash.
func New(store *Store, node Node, execute Execute) *Dispatcher {
	d := &Dispatcher{
		log:            logging.NewLogger("dispatcher"),
		store:          store,
		propose:        node.Propose,
		leader:         func() (bool, int64) { return node.IsLeader(), node.Leader() },
		execute:        execute,
		seenClientTxid: make(map[uint64]uint64),
	}
	for id, txid := range store.Snapshot() {
		d.seenClientTxid[id] = txid
	}
	return d
}

// HandleRPC answers a single client request synchronously, never
// blocking on replication: a REQ_FN that is accepted returns PENDING
// immediately, and the client is expected to poll with REQ_STATUS.
func (d *Dispatcher) HandleRPC(req Request) Response {
	switch req.Code {
	case ReqFn:
		return d.handleReqFn(req)
	case ReqStatus:
		return d.handleReqStatus(req)
	default:
		return Response{Code: RepInvTxid, ClientID: req.ClientID, ClientTxid: req.ClientTxid}
	}
}

func (d *Dispatcher) handleReqFn(req Request) Response {
	d.mu.Lock()
	defer d.mu.Unlock()

	seen := d.seenClientTxid[req.ClientID]
	isCorrectTxid := seen+1 == req.ClientTxid
	lastTxCommitted := d.store.Get(req.ClientID).CommittedTxid == seen

	if !isCorrectTxid || !lastTxCommitted {
		return Response{Code: RepInvTxid, ClientID: req.ClientID, ClientTxid: seen}
	}

	isLeader, leaderID := d.leader()
	if !isLeader {
		return Response{Code: RepInvSrv, ClientID: req.ClientID, ClientTxid: req.ClientTxid, LeaderID: leaderID}
	}

	d.lastGlobalTxid++
	env := envelope{
		clientID:   req.ClientID,
		clientTxid: req.ClientTxid,
		globalTxid: d.lastGlobalTxid,
		payload:    req.Payload,
	}
	if _, err := d.propose(encodeEnvelope(env), raftcore.EntryUser); err != nil {
		d.lastGlobalTxid--
		if err == raftcore.ErrNotLeader {
			return Response{Code: RepInvSrv, ClientID: req.ClientID, ClientTxid: req.ClientTxid, LeaderID: d.leaderIDLocked()}
		}
		d.log.Error("propose failed", "client", req.ClientID, "err", err)
		return Response{Code: RepInvSrv, ClientID: req.ClientID, ClientTxid: req.ClientTxid, LeaderID: -1}
	}

	d.seenClientTxid[req.ClientID] = req.ClientTxid
	return Response{Code: RepPending, ClientID: req.ClientID, ClientTxid: req.ClientTxid}
}

func (d *Dispatcher) leaderIDLocked() int64 {
	_, id := d.leader()
	return id
}

func (d *Dispatcher) handleReqStatus(req Request) Response {
	d.mu.Lock()
	seen := d.seenClientTxid[req.ClientID]
	d.mu.Unlock()

	if seen != req.ClientTxid {
		return Response{Code: RepInvTxid, ClientID: req.ClientID, ClientTxid: seen}
	}
	rec := d.store.Get(req.ClientID)
	if rec.CommittedTxid == req.ClientTxid {
		return Response{Code: RepComplete, ClientID: req.ClientID, ClientTxid: req.ClientTxid, Payload: rec.LastReturnValue}
	}
	return Response{Code: RepPending, ClientID: req.ClientID, ClientTxid: req.ClientTxid}
}

// OnOffer is the replication callback (hostbridge.Callbacks.OnOffer): it
// advances seen_client_txid from an entry as soon as it's durably
// offered, so a follower (or this replica after a restart) ends up with
// the same sequencing view the leader had when it accepted the request.
func (d *Dispatcher) OnOffer(entry raftcore.Entry) {
	if entry.Type != raftcore.EntryUser {
		return
	}
	env := decodeEnvelope(entry.Payload)
	d.mu.Lock()
	defer d.mu.Unlock()
	if env.clientTxid > d.seenClientTxid[env.clientID] {
		d.seenClientTxid[env.clientID] = env.clientTxid
	}
	if env.globalTxid > d.lastGlobalTxid {
		d.lastGlobalTxid = env.globalTxid
	}
}

// OnPop is the pop callback (hostbridge.Callbacks.OnPop): it rolls back
// seen_client_txid and the global allocator when an uncommitted entry is
// discarded by a Log Matching conflict, undoing what OnOffer did for it.
func (d *Dispatcher) OnPop(entry raftcore.Entry) {
	if entry.Type != raftcore.EntryUser {
		return
	}
	env := decodeEnvelope(entry.Payload)
	d.mu.Lock()
	defer d.mu.Unlock()
	if env.clientTxid <= d.seenClientTxid[env.clientID] {
		d.seenClientTxid[env.clientID] = env.clientTxid - 1
	}
	if env.globalTxid <= d.lastGlobalTxid {
		d.lastGlobalTxid = env.globalTxid - 1
	}
}

// OnApply is the commit callback (hostbridge.Callbacks.OnApply): it runs
// the host's Execute function and persists the result alongside the
// client's new committed_txid as one unit — the exactly-once guarantee.
func (d *Dispatcher) OnApply(entry raftcore.Entry) error {
	if entry.Type != raftcore.EntryUser {
		return nil
	}
	env := decodeEnvelope(entry.Payload)
	retValue := d.execute(env.clientID, env.payload)
	if err := d.store.SetCommitted(env.clientID, env.clientTxid, retValue); err != nil {
		return cyclerr.PersistFailed(err).WithDetail("dispatcher apply commit")
	}
	return nil
}
