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
	"sync"
	"testing"
	"time"
)

// stubBridge is a minimal in-memory Bridge for exercising Node in
// isolation; it never actually talks to a peer, so votes/AEs addressed
// to a peer are simply dropped and recorded.
type stubBridge struct {
	mu       sync.Mutex
	applied  []Entry
	votes    uint64
	terms    uint64
	offered  []Entry
}

func (b *stubBridge) SendRequestVote(node NodeID, msg *RequestVoteMsg) error { return nil }
func (b *stubBridge) SendAppendEntries(node NodeID, msg *AppendEntriesMsg) (int, error) {
	return len(msg.Entries), nil
}
func (b *stubBridge) PersistVote(votedFor int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.votes++
	return nil
}
func (b *stubBridge) PersistTerm(term uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.terms++
	return nil
}
func (b *stubBridge) OfferLogEntry(e *Entry, index uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.offered = append(b.offered, *e)
	return nil
}
func (b *stubBridge) PollLogEntry(e *Entry, index uint64) error { return nil }
func (b *stubBridge) PopLogEntry(e *Entry, index uint64) error  { return nil }
func (b *stubBridge) ApplyLog(e *Entry) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.applied = append(b.applied, *e)
	return nil
}

func (b *stubBridge) appliedCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.applied)
}

// TestSingleNodeBecomesLeaderAndCommits exercises a one-node cluster
// end to end: it should win its own election immediately and commit a
// proposed entry without waiting on any peer.
func TestSingleNodeBecomesLeaderAndCommits(t *testing.T) {
	bridge := &stubBridge{}
	n := NewNode(DefaultConfig(1, nil), bridge)
	n.Start()
	defer n.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for !n.IsLeader() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if !n.IsLeader() {
		t.Fatalf("single node never became leader")
	}

	idx, err := n.Propose([]byte("hello"), EntryUser)
	if err != nil {
		t.Fatalf("propose: %v", err)
	}
	if idx != 1 {
		t.Errorf("expected first proposed index 1, got %d", idx)
	}

	deadline = time.Now().Add(time.Second)
	for bridge.appliedCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if bridge.appliedCount() != 1 {
		t.Fatalf("expected 1 applied entry, got %d", bridge.appliedCount())
	}
}

// TestProposeRejectedWhenNotLeader is invariant-adjacent: a follower
// must never accept a client-originated proposal locally.
func TestProposeRejectedWhenNotLeader(t *testing.T) {
	bridge := &stubBridge{}
	n := NewNode(DefaultConfig(1, []NodeID{2, 3}), bridge)
	n.Start()
	defer n.Stop()

	if _, err := n.Propose([]byte("x"), EntryUser); err != ErrNotLeader {
		t.Errorf("expected ErrNotLeader, got %v", err)
	}
}

// TestHandleRequestVoteRejectsStaleTerm is the Election Safety-adjacent
// guard: a vote request from an older term is always refused.
func TestHandleRequestVoteRejectsStaleTerm(t *testing.T) {
	bridge := &stubBridge{}
	n := NewNode(DefaultConfig(1, []NodeID{2}), bridge)
	n.Start()
	defer n.Stop()

	n.mu.Lock()
	n.currentTerm = 5
	n.mu.Unlock()

	resp := n.HandleRequestVote(&RequestVoteMsg{Term: 3, CandidateID: 2})
	if resp.VoteGranted {
		t.Errorf("vote should not be granted for a stale term")
	}
	if resp.Term != 5 {
		t.Errorf("response term should report the higher local term, got %d", resp.Term)
	}
}

// TestHandleRequestVoteGrantsOncePerTerm covers the one-vote-per-term
// half of Election Safety at a single follower.
func TestHandleRequestVoteGrantsOncePerTerm(t *testing.T) {
	bridge := &stubBridge{}
	n := NewNode(DefaultConfig(1, []NodeID{2, 3}), bridge)
	n.Start()
	defer n.Stop()

	first := n.HandleRequestVote(&RequestVoteMsg{Term: 1, CandidateID: 2})
	if !first.VoteGranted {
		t.Fatalf("expected first vote granted")
	}
	second := n.HandleRequestVote(&RequestVoteMsg{Term: 1, CandidateID: 3})
	if second.VoteGranted {
		t.Errorf("expected second vote in the same term to be refused")
	}
}
