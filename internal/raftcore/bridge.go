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

// RequestVoteMsg is the candidate's solicitation for a peer's vote.
type RequestVoteMsg struct {
	Term         uint64
	CandidateID  NodeID
	LastLogIndex uint64
	LastLogTerm  uint64
}

// RequestVoteResp is a peer's answer to a RequestVoteMsg.
type RequestVoteResp struct {
	Term        uint64
	VoteGranted bool
}

// AppendEntriesMsg carries a contiguous run of log entries (or none, for
// a heartbeat) from a leader to a follower.
type AppendEntriesMsg struct {
	Term         uint64
	LeaderID     NodeID
	PrevLogIndex uint64
	PrevLogTerm  uint64
	Entries      []Entry
	LeaderCommit uint64
}

// Heartbeat reports whether this message carries no entries.
func (m *AppendEntriesMsg) Heartbeat() bool { return len(m.Entries) == 0 }

// AppendEntriesResp is a follower's answer to an AppendEntriesMsg.
type AppendEntriesResp struct {
	Term       uint64
	Success    bool
	MatchIndex uint64
}

// Bridge is the eight-contract capability interface RaftCore consumes
// from its host. Every method executes synchronously on the calling
// goroutine (the Raft thread, except SendRequestVote, which startElection
// calls from one goroutine per peer) and, where noted, must not return
// until the effect is durable.
//
// SendAppendEntries returns the number of entries actually packed into
// the outgoing datagram (which may be fewer than len(msg.Entries) if the
// transport's message-size budget was exhausted). Per the design
// decision recorded for cyclone's rewrite, the caller's msg is never
// mutated to reflect the truncation — Raft inspects the returned count
// and is responsible for retrying whatever did not fit.
type Bridge interface {
	SendRequestVote(node NodeID, msg *RequestVoteMsg) error
	SendAppendEntries(node NodeID, msg *AppendEntriesMsg) (sent int, err error)

	PersistVote(votedFor int64) error
	PersistTerm(term uint64) error

	OfferLogEntry(entry *Entry, index uint64) error
	PollLogEntry(entry *Entry, index uint64) error
	PopLogEntry(entry *Entry, index uint64) error

	ApplyLog(entry *Entry) error
}
