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
Package hostbridge is the concrete implementation of raftcore.Bridge: it
wires the algorithm to the things that actually make it a replicated,
durable service — the persistent circular log, a vote/term file, the
peer transport, and the host application's callbacks.

RaftCore never imports plog or transport directly; HostBridge is the
only place that translates between raftcore's in-memory Entry/EntryType
and plog's on-disk Entry/EntryType, and the only place a network error
or a durability failure is first observed.
*/
package hostbridge

import (
	"fmt"
	"sync"
	"time"

	"github.com/cyclone-consensus/cyclone/internal/logging"
	"github.com/cyclone-consensus/cyclone/internal/plog"
	"github.com/cyclone-consensus/cyclone/internal/raftcore"
	"github.com/cyclone-consensus/cyclone/internal/throttle"
)

// PeerTransport abstracts the difference between a real TCP transport
// and an in-process loopback network, so HostBridge can be exercised in
// tests without a socket.
type PeerTransport interface {
	SendRequestVote(peer uint64, msg *raftcore.RequestVoteMsg) (*raftcore.RequestVoteResp, error)
	SendAppendEntries(peer uint64, msg *raftcore.AppendEntriesMsg) (*raftcore.AppendEntriesResp, int, error)
}

// Callbacks are the host application's hooks, invoked by HostBridge at
// the points the original design calls the replication/pop/apply
// callbacks. All three run synchronously on the Raft thread.
type Callbacks struct {
	// OnOffer fires after an entry is durably appended (OfferLogEntry),
	// before the majority commits it. The dispatcher uses this to update
	// seen_client_txid so a recovered follower observes the same
	// sequencing as the leader did.
	OnOffer func(entry raftcore.Entry)

	// OnPop fires after a tail-popped entry's records are removed from
	// PLog (PopLogEntry), so the dispatcher can roll back seen_client_txid
	// and the global txid allocator for a conflict-discarded entry.
	OnPop func(entry raftcore.Entry)

	// OnApply fires once per committed entry (ApplyLog), after its
	// payload has been read back from PLog. It must return an error only
	// for conditions that should be treated as fatal. On an error RaftCore
	// logs it, stops applying and leaves lastApplied where it was, so the
	// same entry is handed back on the next apply pass.
	OnApply func(entry raftcore.Entry) error
}

// HostBridge implements raftcore.Bridge.
type HostBridge struct {
	self  raftcore.NodeID
	node  *raftcore.Node
	log   *logging.Logger
	pl    *plog.CircularLog
	vs    *voteState
	peers PeerTransport
	thr   *throttle.Table
	cb    Callbacks

	requestTimeout time.Duration

	mu      sync.Mutex
	term    uint64
	voted   int64
	records map[uint64]plog.EntryRecord // raft index -> plog offsets
}

// Config configures a HostBridge.
type Config struct {
	Self           raftcore.NodeID
	PLog           *plog.CircularLog
	VoteStatePath  string
	Peers          PeerTransport
	RequestTimeout time.Duration
	Callbacks      Callbacks
}

// New constructs a HostBridge and recovers its persisted term/vote. Call
// SetNode once the raftcore.Node constructed with this bridge exists, to
// complete the (necessarily circular) wiring.
func New(cfg Config) (*HostBridge, uint64, int64, error) {
	vs, term, votedFor, err := openVoteState(cfg.VoteStatePath)
	if err != nil {
		return nil, 0, 0, err
	}
	requestTimeout := cfg.RequestTimeout
	if requestTimeout <= 0 {
		requestTimeout = 200 * time.Millisecond
	}
	hb := &HostBridge{
		self:           cfg.Self,
		log:            logging.NewLogger("hostbridge"),
		pl:             cfg.PLog,
		vs:             vs,
		peers:          cfg.Peers,
		thr:            throttle.New(requestTimeout),
		cb:             cfg.Callbacks,
		requestTimeout: requestTimeout,
		term:           term,
		voted:          votedFor,
		records:        make(map[uint64]plog.EntryRecord),
	}
	return hb, term, votedFor, nil
}

// SetNode completes construction by giving the bridge a way to deliver
// asynchronous RPC responses back into the state machine. It must be
// called exactly once, before Start.
func (hb *HostBridge) SetNode(n *raftcore.Node) { hb.node = n }

// SeedRecords primes the bridge's index-to-offset map from a replay of
// the backing PLog, so ApplyLog and PopLogEntry can find entries that
// were appended in a previous process lifetime. Call before Start,
// after plog.ReplayEntries.
func (hb *HostBridge) SeedRecords(entries []raftcore.Entry, records []plog.EntryRecord) {
	hb.mu.Lock()
	defer hb.mu.Unlock()
	for i, e := range entries {
		hb.records[e.Index] = records[i]
	}
}

// Close releases the bridge's own resources (not the PLog or transport,
// which outlive it).
func (hb *HostBridge) Close() error { return hb.vs.close() }

func toPlogType(t raftcore.EntryType) plog.EntryType { return plog.EntryType(t) }
func toRaftType(t plog.EntryType) raftcore.EntryType   { return raftcore.EntryType(t) }

func toPlogEntry(e *raftcore.Entry) plog.Entry {
	return plog.Entry{Term: e.Term, Index: e.Index, Type: toPlogType(e.Type), Payload: e.Payload}
}

func toRaftEntry(e plog.Entry) raftcore.Entry {
	return raftcore.Entry{Term: e.Term, Index: e.Index, Type: toRaftType(e.Type), Payload: e.Payload}
}

// PersistTerm implements raftcore.Bridge.
func (hb *HostBridge) PersistTerm(term uint64) error {
	hb.mu.Lock()
	defer hb.mu.Unlock()
	hb.term = term
	return hb.vs.write(hb.term, hb.voted)
}

// PersistVote implements raftcore.Bridge.
func (hb *HostBridge) PersistVote(votedFor int64) error {
	hb.mu.Lock()
	defer hb.mu.Unlock()
	hb.voted = votedFor
	return hb.vs.write(hb.term, hb.voted)
}

// OfferLogEntry implements raftcore.Bridge: it transactionally appends
// the entry's header-then-payload pair to PLog, remembers the resulting
// offsets for a later ApplyLog/PopLogEntry/PollLogEntry, and invokes the
// replication callback.
func (hb *HostBridge) OfferLogEntry(entry *raftcore.Entry, index uint64) error {
	tx := hb.pl.Begin()
	rec, err := plog.AppendEntry(tx, toPlogEntry(entry))
	if err != nil {
		tx.Abort()
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	hb.mu.Lock()
	hb.records[index] = rec
	hb.mu.Unlock()

	if hb.cb.OnOffer != nil {
		hb.cb.OnOffer(*entry)
	}
	return nil
}

// PollLogEntry implements raftcore.Bridge: head-removal, used by future
// compaction. Not yet driven by any caller in this implementation, but
// wired so a retention policy can call it directly against the bridge.
func (hb *HostBridge) PollLogEntry(entry *raftcore.Entry, index uint64) error {
	tx := hb.pl.Begin()
	if err := plog.PollHeadEntry(tx); err != nil {
		tx.Abort()
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	hb.mu.Lock()
	delete(hb.records, index)
	hb.mu.Unlock()
	return nil
}

// PopLogEntry implements raftcore.Bridge: tail-removal for conflict
// resolution. It undoes the most recently offered record and invokes the
// pop callback so the dispatcher can roll back its own bookkeeping for
// the discarded entry.
func (hb *HostBridge) PopLogEntry(entry *raftcore.Entry, index uint64) error {
	tx := hb.pl.Begin()
	if err := plog.PopTailEntry(tx); err != nil {
		tx.Abort()
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	hb.mu.Lock()
	delete(hb.records, index)
	hb.mu.Unlock()

	if hb.cb.OnPop != nil {
		hb.cb.OnPop(*entry)
	}
	return nil
}

// ApplyLog implements raftcore.Bridge: it reads the committed entry's
// payload back from PLog (rather than trusting whatever is still held
// in RaftCore's in-memory slice) and delivers it to the host's Apply
// callback.
func (hb *HostBridge) ApplyLog(entry *raftcore.Entry) error {
	hb.mu.Lock()
	rec, ok := hb.records[entry.Index]
	hb.mu.Unlock()

	applied := *entry
	if ok {
		e, _, err := plog.ReadEntryAt(hb.pl, rec.HeaderOffset)
		if err != nil {
			return err
		}
		applied = toRaftEntry(e)
	}

	if hb.cb.OnApply == nil {
		return nil
	}
	return hb.cb.OnApply(applied)
}

// SendRequestVote implements raftcore.Bridge: it performs the RPC and,
// on a reply, calls back into the Node. Safe to block here: raftcore
// always calls SendRequestVote from its own per-peer goroutine, holding
// no lock, so the resulting re-entry into the Node is never nested under
// the caller's stack frame.
func (hb *HostBridge) SendRequestVote(node raftcore.NodeID, msg *raftcore.RequestVoteMsg) error {
	if hb.node == nil {
		return fmt.Errorf("hostbridge: SetNode was never called")
	}
	resp, err := hb.peers.SendRequestVote(uint64(node), msg)
	if err != nil {
		hb.log.Debug("send request vote failed", "peer", node, "err", err)
		return err
	}
	hb.node.HandleRequestVoteResp(node, resp)
	return nil
}

// SendAppendEntries implements raftcore.Bridge. It consults the peer
// throttle before sending anything: a suppressed call reports success
// with the full requested count and performs no I/O. On an actual send,
// it blocks for the reply and forwards it to the Node.
func (hb *HostBridge) SendAppendEntries(node raftcore.NodeID, msg *raftcore.AppendEntriesMsg) (int, error) {
	if hb.node == nil {
		return 0, fmt.Errorf("hostbridge: SetNode was never called")
	}
	view := throttle.View{PrevLogIndex: msg.PrevLogIndex, PrevLogTerm: msg.PrevLogTerm, Heartbeat: msg.Heartbeat()}
	if !hb.thr.Allow(uint64(node), view) {
		return len(msg.Entries), nil
	}

	resp, sent, err := hb.peers.SendAppendEntries(uint64(node), msg)
	if err != nil {
		hb.log.Debug("send append entries failed", "peer", node, "err", err)
		return 0, err
	}
	hb.node.HandleAppendEntriesResp(node, resp)
	return sent, nil
}

// ensure HostBridge satisfies raftcore.Bridge at compile time.
var _ raftcore.Bridge = (*HostBridge)(nil)
