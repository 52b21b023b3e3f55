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
Package raftcore implements the Raft consensus state machine that drives
a cyclone replica: leader election, log replication, commit-index
advancement, and single-server membership changes.

Key Properties:
===============

- Election Safety: at most one leader per term, across replicas.
- Leader Append-Only: a leader never overwrites or deletes its own log.
- Log Matching: identical (index, term) pairs imply identical prefixes.
- Leader Completeness: a committed entry survives into every later leader.
- State Machine Safety: every replica applies the same entry at a given
  index.

Raft never touches the pmem-backed log, the network, or the application
directly: every durability-sensitive or blocking step — persisting a
vote, offering a log entry, sending an RPC, applying a commit — goes
through the Bridge interface a Node is constructed with. This keeps the
state machine itself fully synchronous and easy to reason about; the
Bridge is where the real engineering of durability and transport lives.
*/
package raftcore

import (
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cyclone-consensus/cyclone/internal/logging"
)

// Role is the state of a Raft node.
type Role int32

const (
	Follower Role = iota
	Candidate
	Leader
)

func (r Role) String() string {
	switch r {
	case Follower:
		return "FOLLOWER"
	case Candidate:
		return "CANDIDATE"
	case Leader:
		return "LEADER"
	default:
		return "UNKNOWN"
	}
}

// NodeID identifies a replica.
type NodeID uint64

// EntryType distinguishes ordinary client commands from the
// single-server membership change entries.
type EntryType uint8

const (
	EntryUser EntryType = iota
	EntryAddNonVoting
	EntryAddVoting
	EntryRemove
)

// Entry is a single record in a replica's Raft log.
type Entry struct {
	Term    uint64
	Index   uint64
	Type    EntryType
	Payload []byte
}

// Config configures a Node.
type Config struct {
	Self              NodeID
	Peers             []NodeID // voting peers, excluding Self
	ElectionTimeoutMin time.Duration
	ElectionTimeoutMax time.Duration
	HeartbeatInterval time.Duration
	RequestTimeout    time.Duration
}

// DefaultConfig returns sensible defaults for self among peers.
func DefaultConfig(self NodeID, peers []NodeID) Config {
	return Config{
		Self:               self,
		Peers:              peers,
		ElectionTimeoutMin: 500 * time.Millisecond,
		ElectionTimeoutMax: 1000 * time.Millisecond,
		HeartbeatInterval:  100 * time.Millisecond,
		RequestTimeout:     200 * time.Millisecond,
	}
}

// Node is a single replica's Raft state machine.
type Node struct {
	cfg    Config
	bridge Bridge
	log    *logging.Logger

	mu          sync.RWMutex
	currentTerm uint64
	votedFor    int64 // -1 means no vote
	entries     []Entry

	commitIndex uint64
	lastApplied uint64
	role        int32 // atomic Role

	nextIndex  map[NodeID]uint64
	matchIndex map[NodeID]uint64

	votingPeers    map[NodeID]bool
	nonVotingPeers map[NodeID]bool
	voteGrants     map[NodeID]bool

	leaderID int64 // -1 if unknown

	stopCh    chan struct{}
	wg        sync.WaitGroup
	resetElec chan struct{}

	onBecomeLeader   func()
	onBecomeFollower func()

	// OnSelfRemove is invoked (outside any lock, on the Raft goroutine)
	// when this node applies a committed REMOVE entry naming itself.
	// The design notes require process exit to bubble up as a
	// structured signal rather than an exit() deep in the stack; the
	// top-level boot function registers this hook and terminates.
	OnSelfRemove func()
}

// ErrNotLeader is returned by Propose when called on a non-leader node.
var ErrNotLeader = errNotLeader{}

type errNotLeader struct{}

func (errNotLeader) Error() string { return "raftcore: not leader" }

// NewNode constructs a Node. bridge must not be nil; it is the sole path
// through which this Node persists state, sends RPCs, and applies
// commits.
func NewNode(cfg Config, bridge Bridge) *Node {
	n := &Node{
		cfg:            cfg,
		bridge:         bridge,
		log:            logging.NewLogger("raftcore"),
		votedFor:       -1,
		nextIndex:      make(map[NodeID]uint64),
		matchIndex:     make(map[NodeID]uint64),
		votingPeers:    make(map[NodeID]bool),
		nonVotingPeers: make(map[NodeID]bool),
		voteGrants:     make(map[NodeID]bool),
		leaderID:       -1,
		stopCh:         make(chan struct{}),
		resetElec:      make(chan struct{}, 1),
	}
	for _, p := range cfg.Peers {
		n.votingPeers[p] = true
	}
	return n
}

// OnBecomeLeader/OnBecomeFollower register transition hooks, used by the
// dispatcher to know when to accept REQ_FN locally versus report
// NotLeader.
func (n *Node) OnBecomeLeader(fn func())   { n.onBecomeLeader = fn }
func (n *Node) OnBecomeFollower(fn func()) { n.onBecomeFollower = fn }

// SeedState reseats persisted term/vote and replays a batch of entries
// recovered from PLog, without re-persisting anything — used by
// bootstrap before the node starts normal operation. Never called after
// Start.
func (n *Node) SeedState(term uint64, votedFor int64, entries []Entry) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.currentTerm = term
	n.votedFor = votedFor
	n.entries = append([]Entry(nil), entries...)
	for _, e := range entries {
		n.applyMembership(e)
	}
}

// Role returns the node's current role.
func (n *Node) Role() Role { return Role(atomic.LoadInt32(&n.role)) }

// Term returns the node's current term.
func (n *Node) Term() uint64 {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.currentTerm
}

// CommitIndex returns the highest log index this node currently knows to
// be committed.
func (n *Node) CommitIndex() uint64 {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.commitIndex
}

// IsLeader reports whether this node currently believes it is leader.
func (n *Node) IsLeader() bool { return n.Role() == Leader }

// Leader returns the last known leader id, or -1 if unknown.
func (n *Node) Leader() int64 { return atomic.LoadInt64(&n.leaderID) }

func (n *Node) setRole(r Role) { atomic.StoreInt32(&n.role, int32(r)) }

func (n *Node) lastLogIndexTermLocked() (uint64, uint64) {
	if len(n.entries) == 0 {
		return 0, 0
	}
	last := n.entries[len(n.entries)-1]
	return last.Index, last.Term
}

// Start launches the replica's election-timer goroutine. It must be
// called exactly once, after SeedState (if any) and before any RPCs are
// delivered to Handle*.
func (n *Node) Start() {
	n.setRole(Follower)
	n.wg.Add(1)
	go n.runElectionTimer()
}

// Stop halts the replica's goroutines. It does not close the bridge.
func (n *Node) Stop() {
	close(n.stopCh)
	n.wg.Wait()
}

func (n *Node) electionTimeout() time.Duration {
	span := n.cfg.ElectionTimeoutMax - n.cfg.ElectionTimeoutMin
	if span <= 0 {
		return n.cfg.ElectionTimeoutMin
	}
	return n.cfg.ElectionTimeoutMin + time.Duration(rand.Int63n(int64(span)))
}

func (n *Node) runElectionTimer() {
	defer n.wg.Done()
	timer := time.NewTimer(n.electionTimeout())
	defer timer.Stop()
	for {
		select {
		case <-n.stopCh:
			return
		case <-n.resetElec:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(n.electionTimeout())
		case <-timer.C:
			if n.Role() != Leader {
				n.startElection()
			}
			timer.Reset(n.electionTimeout())
		}
	}
}

func (n *Node) resetElectionTimer() {
	select {
	case n.resetElec <- struct{}{}:
	default:
	}
}

func (n *Node) startElection() {
	n.mu.Lock()
	n.currentTerm++
	term := n.currentTerm
	n.votedFor = int64(n.cfg.Self)
	lastIdx, lastTerm := n.lastLogIndexTermLocked()
	peers := make([]NodeID, 0, len(n.votingPeers))
	for p := range n.votingPeers {
		peers = append(peers, p)
	}
	n.mu.Unlock()

	n.mu.Lock()
	n.voteGrants = make(map[NodeID]bool)
	n.mu.Unlock()

	n.setRole(Candidate)
	n.log.Info("starting election", "term", term)
	if err := n.bridge.PersistTerm(term); err != nil {
		n.log.Error("persist term failed, cannot proceed with election", "err", err)
		return
	}
	if err := n.bridge.PersistVote(int64(n.cfg.Self)); err != nil {
		n.log.Error("persist vote failed, cannot proceed with election", "err", err)
		return
	}

	// A single-node cluster wins its own election immediately.
	if len(peers) == 0 {
		n.becomeLeader()
		return
	}

	for _, p := range peers {
		p := p
		go func() {
			msg := &RequestVoteMsg{Term: term, CandidateID: n.cfg.Self, LastLogIndex: lastIdx, LastLogTerm: lastTerm}
			if err := n.bridge.SendRequestVote(p, msg); err != nil {
				n.log.Debug("send request vote failed", "peer", p, "err", err)
			}
		}()
	}
}

// HandleRequestVoteResp processes a vote response arriving from peer via
// the transport. Tallying is kept on Node rather than in the election
// goroutine so repeated/late responses after a term change are ignored
// safely under the lock.
func (n *Node) HandleRequestVoteResp(peer NodeID, resp *RequestVoteResp) {
	n.mu.Lock()
	if resp.Term > n.currentTerm {
		n.stepDownLocked(resp.Term)
		n.mu.Unlock()
		return
	}
	if n.Role() != Candidate || resp.Term != n.currentTerm || !resp.VoteGranted {
		n.mu.Unlock()
		return
	}
	n.voteGrants[peer] = true
	grants := len(n.voteGrants) + 1 // + self
	needed := (len(n.votingPeers)+1)/2 + 1
	n.mu.Unlock()

	if grants >= needed {
		n.becomeLeader()
	}
}

func (n *Node) stepDownLocked(term uint64) {
	n.currentTerm = term
	n.votedFor = -1
	if err := n.bridge.PersistTerm(term); err != nil {
		n.log.Error("persist term failed during step-down", "err", err)
	}
	if n.Role() == Leader && n.onBecomeFollower != nil {
		defer n.onBecomeFollower()
	}
	n.setRole(Follower)
	atomic.StoreInt64(&n.leaderID, -1)
}
