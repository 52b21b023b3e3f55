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
Package throttle suppresses redundant AppendEntries retransmissions to a
slow or momentarily congested peer. Raft's leader retransmits
aggressively; without suppression a stalled follower causes a
retransmission storm that only makes the congestion worse.

A peer's throttle tracks the "view" of the last AppendEntries actually
sent to it: (prev_log_idx, prev_log_term, is_heartbeat). A second call
carrying the same view within the current timeout is suppressed; the
caller is told to treat it as already sent. A suppressed-then-released
retransmission doubles the timeout; any view change resets it to half
the request timeout. Heartbeats and entry-carrying messages at the same
log point are never treated as the same view, since a follower that
needs entries must not be starved by heartbeat suppression.
*/
package throttle

import (
	"sync"
	"time"
)

// View identifies what an AppendEntries call would send a peer, for the
// purpose of deciding whether it duplicates the last one sent.
type View struct {
	PrevLogIndex uint64
	PrevLogTerm  uint64
	Heartbeat    bool
}

type peerState struct {
	view    View
	hasView bool
	timeout time.Duration
	sentAt  time.Time
}

// Table holds one throttle state per peer, keyed by the caller's own
// peer identifier type (an integer node id in this implementation).
type Table struct {
	mu             sync.Mutex
	requestTimeout time.Duration
	peers          map[uint64]*peerState
}

// New constructs a throttle table. requestTimeout is the RPC round-trip
// budget configured for the cluster; a fresh or reset peer's timeout
// starts at half of it, per the original implementation's
// throttles[] initialization.
func New(requestTimeout time.Duration) *Table {
	return &Table{
		requestTimeout: requestTimeout,
		peers:          make(map[uint64]*peerState),
	}
}

func (t *Table) stateFor(peer uint64) *peerState {
	st, ok := t.peers[peer]
	if !ok {
		st = &peerState{timeout: t.requestTimeout / 2}
		t.peers[peer] = st
	}
	return st
}

// Allow reports whether an AppendEntries carrying the given view should
// actually be sent to peer right now. A false result means the call is
// suppressed as a duplicate of the last one sent within its timeout;
// the caller should treat it as if the send succeeded.
func (t *Table) Allow(peer uint64, view View) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	st := t.stateFor(peer)
	now := time.Now()

	if !st.hasView || st.view != view {
		st.view = view
		st.hasView = true
		st.timeout = t.requestTimeout / 2
		st.sentAt = now
		return true
	}

	if now.Sub(st.sentAt) < st.timeout {
		return false
	}

	// Same view, timeout elapsed: release the retransmission and double
	// the timeout so a persistently stalled peer backs off further.
	st.timeout *= 2
	st.sentAt = now
	return true
}

// Reset discards throttle state for peer, used when a peer is removed
// from the cluster or a leader steps down.
func (t *Table) Reset(peer uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.peers, peer)
}
