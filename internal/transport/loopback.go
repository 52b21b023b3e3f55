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
	"sync"

	"github.com/cyclone-consensus/cyclone/internal/raftcore"
)

// LoopbackNetwork wires a fixed set of in-process Routers together
// without touching a socket, for tests and single-process examples that
// want to exercise multiple replicas in one test binary.
type LoopbackNetwork struct {
	mu      sync.RWMutex
	routers map[uint64]Router
}

// NewLoopbackNetwork constructs an empty network; use Register to add
// replicas to it.
func NewLoopbackNetwork() *LoopbackNetwork {
	return &LoopbackNetwork{routers: make(map[uint64]Router)}
}

// Register makes node's Router reachable by id through this network.
func (n *LoopbackNetwork) Register(id uint64, r Router) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.routers[id] = r
}

// Unregister removes node id, simulating it leaving the cluster or
// being partitioned away.
func (n *LoopbackNetwork) Unregister(id uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.routers, id)
}

// LoopbackPeer offers Peer's vote and AppendEntries calls, without their
// timeout argument and without SendCheckpointRequest, and dispatches them
// directly into a LoopbackNetwork, skipping serialization.
type LoopbackPeer struct {
	net *LoopbackNetwork
	id  uint64
}

// Peer returns a handle addressed at id within net.
func (n *LoopbackNetwork) Peer(id uint64) *LoopbackPeer {
	return &LoopbackPeer{net: n, id: id}
}

func (p *LoopbackPeer) router() (Router, bool) {
	p.net.mu.RLock()
	defer p.net.mu.RUnlock()
	r, ok := p.net.routers[p.id]
	return r, ok
}

// SendRequestVote delivers msg directly to the target's Router.
func (p *LoopbackPeer) SendRequestVote(msg *raftcore.RequestVoteMsg) (*raftcore.RequestVoteResp, error) {
	r, ok := p.router()
	if !ok {
		return nil, errPeerUnreachable(p.id)
	}
	return r.HandleRequestVote(msg), nil
}

// SendAppendEntries delivers msg directly to the target's Router. It
// never truncates, since there is no wire budget in-process.
func (p *LoopbackPeer) SendAppendEntries(msg *raftcore.AppendEntriesMsg) (*raftcore.AppendEntriesResp, int, error) {
	r, ok := p.router()
	if !ok {
		return nil, 0, errPeerUnreachable(p.id)
	}
	return r.HandleAppendEntries(msg), len(msg.Entries), nil
}

func errPeerUnreachable(id uint64) error {
	return &unreachableError{id: id}
}

type unreachableError struct{ id uint64 }

func (e *unreachableError) Error() string { return "transport: loopback peer unreachable" }
