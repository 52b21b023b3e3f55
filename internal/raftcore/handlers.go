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

import "sync/atomic"

// HandleRequestVote is the inbound RequestVote RPC handler, called by
// the transport layer when a peer's candidacy message arrives.
func (n *Node) HandleRequestVote(msg *RequestVoteMsg) *RequestVoteResp {
	n.mu.Lock()
	defer n.mu.Unlock()

	if msg.Term < n.currentTerm {
		return &RequestVoteResp{Term: n.currentTerm, VoteGranted: false}
	}
	if msg.Term > n.currentTerm {
		n.stepDownLocked(msg.Term)
	}

	lastIdx, lastTerm := n.lastLogIndexTermLocked()
	logOK := msg.LastLogTerm > lastTerm || (msg.LastLogTerm == lastTerm && msg.LastLogIndex >= lastIdx)
	canVote := n.votedFor == -1 || n.votedFor == int64(msg.CandidateID)

	if !logOK || !canVote {
		return &RequestVoteResp{Term: n.currentTerm, VoteGranted: false}
	}

	if err := n.bridge.PersistVote(int64(msg.CandidateID)); err != nil {
		n.log.Error("persist vote failed, refusing to grant", "err", err)
		return &RequestVoteResp{Term: n.currentTerm, VoteGranted: false}
	}
	n.votedFor = int64(msg.CandidateID)
	n.resetElectionTimer()
	return &RequestVoteResp{Term: n.currentTerm, VoteGranted: true}
}

// HandleAppendEntries is the inbound AppendEntries RPC handler, called
// by the transport layer when a leader's heartbeat or entry batch
// arrives.
func (n *Node) HandleAppendEntries(msg *AppendEntriesMsg) *AppendEntriesResp {
	n.mu.Lock()

	if msg.Term < n.currentTerm {
		term := n.currentTerm
		n.mu.Unlock()
		return &AppendEntriesResp{Term: term, Success: false}
	}
	if msg.Term > n.currentTerm {
		n.stepDownLocked(msg.Term)
	} else if n.Role() == Candidate {
		n.setRole(Follower)
	}
	atomic.StoreInt64(&n.leaderID, int64(msg.LeaderID))
	n.resetElectionTimer()

	if msg.PrevLogIndex > 0 {
		idx := n.indexOfLocked(msg.PrevLogIndex)
		if idx < 0 || n.entries[idx].Term != msg.PrevLogTerm {
			term := n.currentTerm
			n.mu.Unlock()
			return &AppendEntriesResp{Term: term, Success: false}
		}
	}

	for _, e := range msg.Entries {
		if existing := n.indexOfLocked(e.Index); existing >= 0 {
			if n.entries[existing].Term == e.Term {
				continue // already have it, Log Matching holds
			}
			// Conflict: pop everything from the tail back to (and
			// including) this index before accepting the leader's
			// version, preserving Leader Append-Only at the leader and
			// bounded divergence at the follower.
			n.truncateFromLocked(existing)
		}
		if err := n.bridge.OfferLogEntry(&e, e.Index); err != nil {
			n.log.Error("offer log entry failed", "index", e.Index, "err", err)
			term := n.currentTerm
			n.mu.Unlock()
			return &AppendEntriesResp{Term: term, Success: false}
		}
		n.entries = append(n.entries, e)
		n.applyMembershipLocked(e)
	}

	lastIdx, _ := n.lastLogIndexTermLocked()
	if msg.LeaderCommit > n.commitIndex {
		if msg.LeaderCommit < lastIdx {
			n.commitIndex = msg.LeaderCommit
		} else {
			n.commitIndex = lastIdx
		}
	}
	toApply := n.collectApplicableLocked()
	term := n.currentTerm
	n.mu.Unlock()

	n.applyEntries(toApply)
	return &AppendEntriesResp{Term: term, Success: true, MatchIndex: lastIdx}
}

// indexOfLocked returns the position in n.entries of the entry with the
// given Index, or -1. n.mu must be held.
func (n *Node) indexOfLocked(index uint64) int {
	for i, e := range n.entries {
		if e.Index == index {
			return i
		}
	}
	return -1
}

// truncateFromLocked pops every entry from the tail of the log back
// through (and including) position pos, via the bridge's tail-pop
// primitive, undoing tentative replication in reverse append order.
// n.mu must be held.
func (n *Node) truncateFromLocked(pos int) {
	for i := len(n.entries) - 1; i >= pos; i-- {
		e := n.entries[i]
		if err := n.bridge.PopLogEntry(&e, e.Index); err != nil {
			n.log.Error("pop log entry failed during truncation", "index", e.Index, "err", err)
		}
	}
	n.entries = n.entries[:pos]
}
