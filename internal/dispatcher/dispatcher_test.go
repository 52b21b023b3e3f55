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

package dispatcher

import (
	"testing"

	"github.com/cyclone-consensus/cyclone/internal/raftcore"
)

// fakeNode is a minimal, single-process stand-in for raftcore.Node that
// immediately "commits" anything proposed to it by invoking the
// dispatcher's own Offer+Apply callbacks synchronously, so these tests
// don't need a live Raft cluster.
type fakeNode struct {
	d        *Dispatcher
	isLeader bool
	nextIdx  uint64
}

func (f *fakeNode) Propose(payload []byte, typ raftcore.EntryType) (uint64, error) {
	if !f.isLeader {
		return 0, raftcore.ErrNotLeader
	}
	f.nextIdx++
	entry := raftcore.Entry{Term: 1, Index: f.nextIdx, Type: typ, Payload: payload}
	f.d.OnOffer(entry)
	if err := f.d.OnApply(entry); err != nil {
		return 0, err
	}
	return f.nextIdx, nil
}
func (f *fakeNode) IsLeader() bool { return f.isLeader }
func (f *fakeNode) Leader() int64 { return 7 }

func newTestDispatcher(t *testing.T) (*Dispatcher, *fakeNode) {
	t.Helper()
	store, err := OpenStore("")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	fn := &fakeNode{isLeader: true}
	execute := func(clientID uint64, payload []byte) []byte {
		out := make([]byte, len(payload))
		copy(out, payload)
		return out
	}
	d := New(store, fn, execute)
	fn.d = d
	return d, fn
}

func TestReqFnHappyPathReturnsPendingThenComplete(t *testing.T) {
	d, _ := newTestDispatcher(t)

	resp := d.HandleRPC(Request{Code: ReqFn, ClientID: 1, ClientTxid: 1, Payload: []byte("hi")})
	if resp.Code != RepPending {
		t.Fatalf("expected PENDING, got %v", resp.Code)
	}

	status := d.HandleRPC(Request{Code: ReqStatus, ClientID: 1, ClientTxid: 1})
	if status.Code != RepComplete {
		t.Fatalf("expected COMPLETE, got %v", status.Code)
	}
	if string(status.Payload) != "hi" {
		t.Errorf("expected echoed payload, got %q", status.Payload)
	}
}

func TestReqFnRejectsWrongTxid(t *testing.T) {
	d, _ := newTestDispatcher(t)
	resp := d.HandleRPC(Request{Code: ReqFn, ClientID: 1, ClientTxid: 2, Payload: []byte("hi")})
	if resp.Code != RepInvTxid {
		t.Fatalf("expected INVTXID for out-of-order txid, got %v", resp.Code)
	}
}

func TestReqFnRejectsResubmitBeforePriorCommits(t *testing.T) {
	d, _ := newTestDispatcher(t)
	// Manually advance seen without committing, to simulate an
	// accepted-but-not-yet-applied prior command.
	d.mu.Lock()
	d.seenClientTxid[1] = 1
	d.mu.Unlock()

	resp := d.HandleRPC(Request{Code: ReqFn, ClientID: 1, ClientTxid: 2, Payload: []byte("x")})
	if resp.Code != RepInvTxid {
		t.Fatalf("expected INVTXID while previous command is still pending, got %v", resp.Code)
	}
}

func TestReqFnReportsNotLeader(t *testing.T) {
	d, fn := newTestDispatcher(t)
	fn.isLeader = false
	resp := d.HandleRPC(Request{Code: ReqFn, ClientID: 1, ClientTxid: 1, Payload: []byte("hi")})
	if resp.Code != RepInvSrv {
		t.Fatalf("expected INVSRV when not leader, got %v", resp.Code)
	}
	if resp.LeaderID != 7 {
		t.Errorf("expected known leader id 7, got %d", resp.LeaderID)
	}
}

func TestReqStatusUnseenTxidIsInvalid(t *testing.T) {
	d, _ := newTestDispatcher(t)
	resp := d.HandleRPC(Request{Code: ReqStatus, ClientID: 5, ClientTxid: 3})
	if resp.Code != RepInvTxid {
		t.Fatalf("expected INVTXID for an unseen client, got %v", resp.Code)
	}
}

func TestOnPopRollsBackSeenTxid(t *testing.T) {
	d, _ := newTestDispatcher(t)
	entry := raftcore.Entry{Term: 1, Index: 1, Type: raftcore.EntryUser,
		Payload: encodeEnvelope(envelope{clientID: 9, clientTxid: 1, globalTxid: 1})}
	d.OnOffer(entry)
	if d.seenClientTxid[9] != 1 {
		t.Fatalf("expected seen txid 1 after offer")
	}
	d.OnPop(entry)
	if d.seenClientTxid[9] != 0 {
		t.Errorf("expected seen txid rolled back to 0 after pop, got %d", d.seenClientTxid[9])
	}
}
