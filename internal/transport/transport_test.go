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

package transport

import (
	"testing"
	"time"

	"github.com/cyclone-consensus/cyclone/internal/raftcore"
)

type fakeRouter struct {
	voteGranted bool
}

func (f *fakeRouter) HandleRequestVote(msg *raftcore.RequestVoteMsg) *raftcore.RequestVoteResp {
	return &raftcore.RequestVoteResp{Term: msg.Term, VoteGranted: f.voteGranted}
}
func (f *fakeRouter) HandleAppendEntries(msg *raftcore.AppendEntriesMsg) *raftcore.AppendEntriesResp {
	return &raftcore.AppendEntriesResp{Term: msg.Term, Success: true, MatchIndex: msg.PrevLogIndex + uint64(len(msg.Entries))}
}
func (f *fakeRouter) HandleCheckpointRequest(payload []byte) []byte { return payload }

func TestServerPeerRoundTrip(t *testing.T) {
	router := &fakeRouter{voteGranted: true}
	srv := NewServer(router)
	if err := srv.Listen("127.0.0.1:0", 8); err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer srv.Close()

	addr := srv.listener.Addr().String()
	peer := NewPeer(1, addr)
	defer peer.Close()

	resp, err := peer.SendRequestVote(&raftcore.RequestVoteMsg{Term: 3, CandidateID: 1}, time.Second)
	if err != nil {
		t.Fatalf("send request vote: %v", err)
	}
	if !resp.VoteGranted || resp.Term != 3 {
		t.Errorf("unexpected response: %+v", resp)
	}

	aeResp, sent, err := peer.SendAppendEntries(&raftcore.AppendEntriesMsg{
		Term: 3, LeaderID: 1, Entries: []raftcore.Entry{{Term: 3, Index: 1, Payload: []byte("x")}},
	}, time.Second)
	if err != nil {
		t.Fatalf("send append entries: %v", err)
	}
	if !aeResp.Success || sent != 1 {
		t.Errorf("unexpected append entries result: resp=%+v sent=%d", aeResp, sent)
	}
}

func TestLoopbackNetworkDeliversDirectly(t *testing.T) {
	net := NewLoopbackNetwork()
	net.Register(2, &fakeRouter{voteGranted: false})

	peer := net.Peer(2)
	resp, err := peer.SendRequestVote(&raftcore.RequestVoteMsg{Term: 1, CandidateID: 1})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if resp.VoteGranted {
		t.Errorf("expected vote refused")
	}

	net.Unregister(2)
	if _, err := peer.SendRequestVote(&raftcore.RequestVoteMsg{Term: 1, CandidateID: 1}); err == nil {
		t.Errorf("expected error after unregister")
	}
}
