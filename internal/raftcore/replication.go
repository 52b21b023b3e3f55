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

package raftcore

import (
	"encoding/binary"
	"sort"
	"sync/atomic"
	"time"
)

// EncodeNodeID/DecodeNodeID are the payload encoding for membership
// entries (ADD_NONVOTING, ADD_VOTING, REMOVE), which carry only the
// target node id.
func EncodeNodeID(id NodeID) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(id))
	return b
}

func DecodeNodeID(b []byte) NodeID {
	return NodeID(binary.BigEndian.Uint64(b))
}

// becomeLeader transitions to Leader, resets per-follower replication
// state, and starts the heartbeat loop.
func (n *Node) becomeLeader() {
	n.mu.Lock()
	lastIdx, _ := n.lastLogIndexTermLocked()
	for p := range n.votingPeers {
		n.nextIndex[p] = lastIdx + 1
		n.matchIndex[p] = 0
	}
	for p := range n.nonVotingPeers {
		n.nextIndex[p] = lastIdx + 1
		n.matchIndex[p] = 0
	}
	n.mu.Unlock()

	n.setRole(Leader)
	atomic.StoreInt64(&n.leaderID, int64(n.cfg.Self))
	n.log.Info("became leader", "term", n.Term())
	if n.onBecomeLeader != nil {
		n.onBecomeLeader()
	}

	n.wg.Add(1)
	go n.heartbeatLoop()
}

func (n *Node) heartbeatLoop() {
	defer n.wg.Done()
	ticker := time.NewTicker(n.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-n.stopCh:
			return
		case <-ticker.C:
			if n.Role() != Leader {
				return
			}
			n.broadcastAppendEntries()
		}
	}
}

// Propose submits a new entry to the log. Only valid on the leader.
func (n *Node) Propose(payload []byte, typ EntryType) (uint64, error) {
	if n.Role() != Leader {
		return 0, ErrNotLeader
	}
	n.mu.Lock()
	lastIdx, _ := n.lastLogIndexTermLocked()
	entry := Entry{Term: n.currentTerm, Index: lastIdx + 1, Type: typ, Payload: payload}
	n.mu.Unlock()

	if err := n.bridge.OfferLogEntry(&entry, entry.Index); err != nil {
		return 0, err
	}
	n.mu.Lock()
	n.entries = append(n.entries, entry)
	n.applyMembershipLocked(entry)
	n.matchIndex[n.cfg.Self] = entry.Index
	n.mu.Unlock()

	n.broadcastAppendEntries()
	n.updateCommitIndex()
	return entry.Index, nil
}

func (n *Node) broadcastAppendEntries() {
	n.mu.RLock()
	term := n.currentTerm
	commit := n.commitIndex
	peers := make([]NodeID, 0, len(n.votingPeers)+len(n.nonVotingPeers))
	for p := range n.votingPeers {
		peers = append(peers, p)
	}
	for p := range n.nonVotingPeers {
		peers = append(peers, p)
	}
	n.mu.RUnlock()

	for _, p := range peers {
		n.sendAppendEntriesTo(p, term, commit)
	}
}

func (n *Node) sendAppendEntriesTo(peer NodeID, term, commit uint64) {
	n.mu.RLock()
	next := n.nextIndex[peer]
	var prevIdx, prevTerm uint64
	var toSend []Entry
	for _, e := range n.entries {
		if e.Index == next-1 {
			prevIdx, prevTerm = e.Index, e.Term
		}
		if e.Index >= next {
			toSend = append(toSend, e)
		}
	}
	n.mu.RUnlock()

	msg := &AppendEntriesMsg{
		Term:         term,
		LeaderID:     n.cfg.Self,
		PrevLogIndex: prevIdx,
		PrevLogTerm:  prevTerm,
		Entries:      toSend,
		LeaderCommit: commit,
	}
	sent, err := n.bridge.SendAppendEntries(peer, msg)
	if err != nil {
		n.log.Debug("send append entries failed", "peer", peer, "err", err)
		return
	}
	if sent < len(toSend) {
		n.log.Debug("append entries truncated by transport budget", "peer", peer, "sent", sent, "total", len(toSend))
	}
}

// HandleAppendEntriesResp processes a follower's response to an earlier
// AppendEntries, advancing nextIndex/matchIndex and checking whether a
// non-voting peer has now caught up enough to be promoted.
func (n *Node) HandleAppendEntriesResp(peer NodeID, resp *AppendEntriesResp) {
	n.mu.Lock()
	if resp.Term > n.currentTerm {
		n.stepDownLocked(resp.Term)
		n.mu.Unlock()
		return
	}
	if n.Role() != Leader {
		n.mu.Unlock()
		return
	}
	if resp.Success {
		n.matchIndex[peer] = resp.MatchIndex
		n.nextIndex[peer] = resp.MatchIndex + 1
	} else if n.nextIndex[peer] > 1 {
		n.nextIndex[peer]--
	}
	n.mu.Unlock()

	if resp.Success {
		n.updateCommitIndex()
		n.checkSufficientLogs(peer, resp.MatchIndex)
	}
}

// updateCommitIndex advances commitIndex to the highest index replicated
// on a majority of voting peers whose term matches the current term
// (the State Machine Safety / Leader Completeness guard), then applies
// any newly committed entries.
func (n *Node) updateCommitIndex() {
	n.mu.Lock()
	if n.Role() != Leader {
		n.mu.Unlock()
		return
	}
	indices := make([]uint64, 0, len(n.votingPeers)+1)
	indices = append(indices, n.matchIndex[n.cfg.Self])
	for p := range n.votingPeers {
		indices = append(indices, n.matchIndex[p])
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })
	median := indices[(len(indices)-1)/2]

	var medianTerm uint64
	for _, e := range n.entries {
		if e.Index == median {
			medianTerm = e.Term
			break
		}
	}
	if median > n.commitIndex && medianTerm == n.currentTerm {
		n.commitIndex = median
	}
	toApply := n.collectApplicableLocked()
	n.mu.Unlock()

	n.applyEntries(toApply)
}

func (n *Node) collectApplicableLocked() []Entry {
	var out []Entry
	for _, e := range n.entries {
		if e.Index > n.lastApplied && e.Index <= n.commitIndex {
			out = append(out, e)
		}
	}
	return out
}

// applyEntries delivers newly committed entries to the bridge in strict
// log order (State Machine Safety), advancing lastApplied as it goes.
func (n *Node) applyEntries(entries []Entry) {
	for _, e := range entries {
		if err := n.bridge.ApplyLog(&e); err != nil {
			n.log.Error("apply log failed", "index", e.Index, "err", err)
			return
		}
		n.mu.Lock()
		n.lastApplied = e.Index
		n.mu.Unlock()
		if e.Type == EntryRemove && DecodeNodeID(e.Payload) == n.cfg.Self {
			if n.OnSelfRemove != nil {
				n.OnSelfRemove()
			}
			return
		}
	}
}

// checkSufficientLogs implements the "has_sufficient_logs" mechanism: if
// a non-voting peer's replicated index has caught up with the leader's
// commit index, the leader submits an ADD_VOTING entry for it.
func (n *Node) checkSufficientLogs(peer NodeID, matchIndex uint64) {
	n.mu.RLock()
	_, nonVoting := n.nonVotingPeers[peer]
	commit := n.commitIndex
	n.mu.RUnlock()
	if !nonVoting || matchIndex < commit {
		return
	}
	if _, err := n.Propose(EncodeNodeID(peer), EntryAddVoting); err != nil {
		n.log.Error("failed to propose ADD_VOTING for caught-up peer", "peer", peer, "err", err)
	}
}

// applyMembershipLocked mutates the voting/non-voting peer sets for a
// membership entry as soon as it is offered (appended), matching
// Raft's convention of tracking configuration changes as soon as they
// enter the log rather than waiting for commit. n.mu must be held.
func (n *Node) applyMembershipLocked(e Entry) {
	switch e.Type {
	case EntryAddNonVoting:
		target := DecodeNodeID(e.Payload)
		n.nonVotingPeers[target] = true
		if n.Role() == Leader {
			if lastIdx, _ := n.lastLogIndexTermLocked(); true {
				n.nextIndex[target] = lastIdx + 1
			}
		}
	case EntryAddVoting:
		target := DecodeNodeID(e.Payload)
		delete(n.nonVotingPeers, target)
		n.votingPeers[target] = true
	case EntryRemove:
		target := DecodeNodeID(e.Payload)
		delete(n.votingPeers, target)
		delete(n.nonVotingPeers, target)
	}
}

func (n *Node) applyMembership(e Entry) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.applyMembershipLocked(e)
}

