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
	"fmt"
	"time"

	"github.com/cyclone-consensus/cyclone/internal/raftcore"
	"github.com/cyclone-consensus/cyclone/internal/transport"
)

// TCPPeers adapts a fixed map of dialed transport.Peer connections to
// the PeerTransport interface, for a HostBridge running over a real
// network.
type TCPPeers struct {
	peers   map[uint64]*transport.Peer
	timeout time.Duration
}

// NewTCPPeers constructs a TCPPeers from a node-id -> address map.
func NewTCPPeers(addrs map[uint64]string, timeout time.Duration) *TCPPeers {
	peers := make(map[uint64]*transport.Peer, len(addrs))
	for id, addr := range addrs {
		peers[id] = transport.NewPeer(id, addr)
	}
	return &TCPPeers{peers: peers, timeout: timeout}
}

// AddPeer registers a newly learned peer address, used when a
// configuration-change entry adds a node the bridge didn't know about at
// construction time.
func (t *TCPPeers) AddPeer(id uint64, addr string) {
	t.peers[id] = transport.NewPeer(id, addr)
}

func (t *TCPPeers) SendRequestVote(peer uint64, msg *raftcore.RequestVoteMsg) (*raftcore.RequestVoteResp, error) {
	p, ok := t.peers[peer]
	if !ok {
		return nil, fmt.Errorf("hostbridge: unknown peer %d", peer)
	}
	return p.SendRequestVote(msg, t.timeout)
}

func (t *TCPPeers) SendAppendEntries(peer uint64, msg *raftcore.AppendEntriesMsg) (*raftcore.AppendEntriesResp, int, error) {
	p, ok := t.peers[peer]
	if !ok {
		return nil, 0, fmt.Errorf("hostbridge: unknown peer %d", peer)
	}
	return p.SendAppendEntries(msg, t.timeout)
}

// RequestCheckpoint asks peer for an image-build checkpoint, used by
// bootstrap when this node is joining as a non-active replica.
func (t *TCPPeers) RequestCheckpoint(peer uint64, payload []byte) ([]byte, error) {
	p, ok := t.peers[peer]
	if !ok {
		return nil, fmt.Errorf("hostbridge: unknown peer %d", peer)
	}
	return p.SendCheckpointRequest(payload, t.timeout)
}

var _ PeerTransport = (*TCPPeers)(nil)

// LoopbackPeers adapts a transport.LoopbackNetwork to PeerTransport, for
// single-process tests exercising multiple replicas.
type LoopbackPeers struct {
	net *transport.LoopbackNetwork
}

// NewLoopbackPeers wraps net.
func NewLoopbackPeers(net *transport.LoopbackNetwork) *LoopbackPeers {
	return &LoopbackPeers{net: net}
}

func (l *LoopbackPeers) SendRequestVote(peer uint64, msg *raftcore.RequestVoteMsg) (*raftcore.RequestVoteResp, error) {
	return l.net.Peer(peer).SendRequestVote(msg)
}

func (l *LoopbackPeers) SendAppendEntries(peer uint64, msg *raftcore.AppendEntriesMsg) (*raftcore.AppendEntriesResp, int, error) {
	return l.net.Peer(peer).SendAppendEntries(msg)
}

var _ PeerTransport = (*LoopbackPeers)(nil)
