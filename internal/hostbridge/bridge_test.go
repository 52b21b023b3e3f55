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

package hostbridge

import (
	"sync"
	"testing"
	"time"

	"github.com/cyclone-consensus/cyclone/internal/plog"
	"github.com/cyclone-consensus/cyclone/internal/raftcore"
	"github.com/cyclone-consensus/cyclone/internal/transport"
)

type replica struct {
	node   *raftcore.Node
	bridge *HostBridge

	mu      sync.Mutex
	applied []raftcore.Entry
}

func newReplica(t *testing.T, id raftcore.NodeID, peers []raftcore.NodeID, net *transport.LoopbackNetwork) *replica {
	t.Helper()
	r := &replica{}
	hb, _, _, err := New(Config{
		Self:           id,
		PLog:           plog.NewMemLog(1 << 16),
		Peers:          NewLoopbackPeers(net),
		RequestTimeout: 50 * time.Millisecond,
		Callbacks: Callbacks{
			OnApply: func(e raftcore.Entry) error {
				r.mu.Lock()
				defer r.mu.Unlock()
				r.applied = append(r.applied, e)
				return nil
			},
		},
	})
	if err != nil {
		t.Fatalf("hostbridge.New: %v", err)
	}
	cfg := raftcore.DefaultConfig(id, peers)
	cfg.ElectionTimeoutMin = 60 * time.Millisecond
	cfg.ElectionTimeoutMax = 100 * time.Millisecond
	cfg.HeartbeatInterval = 15 * time.Millisecond
	node := raftcore.NewNode(cfg, hb)
	hb.SetNode(node)
	r.node = node
	r.bridge = hb
	net.Register(uint64(id), &NodeRouter{Node: node})
	return r
}

func (r *replica) appliedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.applied)
}

// TestThreeNodeClusterElectsLeaderAndReplicates exercises hostbridge
// end-to-end across three in-process replicas joined by a loopback
// network: one must become leader, and a proposed entry must be applied
// on every replica.
func TestThreeNodeClusterElectsLeaderAndReplicates(t *testing.T) {
	net := transport.NewLoopbackNetwork()
	ids := []raftcore.NodeID{1, 2, 3}
	replicas := make(map[raftcore.NodeID]*replica, 3)
	for _, id := range ids {
		var peers []raftcore.NodeID
		for _, p := range ids {
			if p != id {
				peers = append(peers, p)
			}
		}
		replicas[id] = newReplica(t, id, peers, net)
	}
	for _, r := range replicas {
		r.node.Start()
		defer r.node.Stop()
	}

	var leader *replica
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		for _, r := range replicas {
			if r.node.IsLeader() {
				leader = r
				break
			}
		}
		if leader != nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if leader == nil {
		t.Fatalf("no leader elected within deadline")
	}

	if _, err := leader.node.Propose([]byte("hello"), raftcore.EntryUser); err != nil {
		t.Fatalf("propose: %v", err)
	}

	deadline = time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		allApplied := true
		for _, r := range replicas {
			if r.appliedCount() == 0 {
				allApplied = false
			}
		}
		if allApplied {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	for id, r := range replicas {
		if r.appliedCount() == 0 {
			t.Errorf("replica %d never applied the proposed entry", id)
		}
	}
}
