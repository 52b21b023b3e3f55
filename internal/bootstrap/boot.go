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
Package bootstrap sequences the handful of steps that turn an on-disk
circular log and a set of peer addresses into a running, joined replica:
open (or create) the log, replay whatever survived a previous process
lifetime, wire the dispatcher and HostBridge and raftcore.Node together,
and — for a replica joining as a non-voting member rather than founding
the cluster — fetch an application checkpoint from an active peer before
it starts tailing new entries.

Everything here runs once, at process startup, and once more at shutdown.
It deliberately never calls os.Exit: Boot returns an error for a failure
while starting (including a checkpoint that can't be fetched or
restored), and the Node's Removed channel reports this replica being
removed from the cluster, so the single place that terminates
the process can live in cmd/cyclone-node, per the package's own rule
that a library never decides to end its host's process.
*/
package bootstrap

import (
	"os"
	"time"

	"github.com/cyclone-consensus/cyclone/internal/config"
	"github.com/cyclone-consensus/cyclone/internal/cyclerr"
	"github.com/cyclone-consensus/cyclone/internal/dispatcher"
	"github.com/cyclone-consensus/cyclone/internal/hostbridge"
	"github.com/cyclone-consensus/cyclone/internal/logging"
	"github.com/cyclone-consensus/cyclone/internal/plog"
	"github.com/cyclone-consensus/cyclone/internal/raftcore"
	"github.com/cyclone-consensus/cyclone/internal/transport"
)

// Application is the host program's state machine. Execute runs a
// committed command and returns its reply; Snapshot and Restore are the
// checkpoint pair a non-active replica uses to join without replaying a
// log it was never part of.
type Application interface {
	Execute(clientID uint64, payload []byte) []byte
	Snapshot() []byte
	Restore(snapshot []byte) error
}

// nodeHandle breaks the three-way construction cycle between the
// dispatcher, the HostBridge and the raftcore.Node: dispatcher.New needs
// a dispatcher.Node before raftcore.NewNode exists, so it's handed this
// indirection and the real pointer is filled in once the node is built.
type nodeHandle struct {
	n *raftcore.Node
}

func (h *nodeHandle) Propose(payload []byte, typ raftcore.EntryType) (uint64, error) {
	return h.n.Propose(payload, typ)
}
func (h *nodeHandle) IsLeader() bool { return h.n.IsLeader() }
func (h *nodeHandle) Leader() int64  { return h.n.Leader() }

var _ dispatcher.Node = (*nodeHandle)(nil)

// Node is a fully wired, running replica: the Raft state machine plus
// every durable and network resource it owns.
type Node struct {
	log    *logging.Logger
	raft   *raftcore.Node
	bridge *HostBridge
	disp   *dispatcher.Dispatcher
	store  *dispatcher.Store
	pl     *plog.CircularLog
	server *transport.Server
	rpc    *dispatcher.RPCServer
	peers  *hostbridge.TCPPeers

	// Removed is closed when this replica applies a committed entry
	// removing itself from the cluster. The caller is expected to select
	// on it and terminate the process.
	Removed chan struct{}
}

// HostBridge re-exports hostbridge.HostBridge so callers of this package
// don't also need to import hostbridge directly for the common path.
type HostBridge = hostbridge.HostBridge

// Options configures Boot.
type Options struct {
	Self        raftcore.NodeID
	VotingPeers map[raftcore.NodeID]string // address of every other voting member
	Active      bool                       // false joins as a non-voting, image-building replica
	JoinVia     raftcore.NodeID            // a voting peer to request a checkpoint from, when !Active
	ListenAddr  string                     // Raft peer transport address (quorum.baseport)
	MaxConns    int

	// ClientListenAddr, when set, starts the dispatcher's client-facing
	// RPC listener (dispatch.client_baseport) so pkg/cyclonesdk clients
	// can reach this replica directly.
	ClientListenAddr string
	ClientMaxConns   int
}

// Boot opens cfg's durable state, replays anything left from a previous
// process lifetime, and brings up a fully joined, running replica.
func Boot(cfg *config.Config, opts Options, app Application) (*Node, error) {
	log := logging.NewLogger("bootstrap")

	fresh := true
	if cfg.DBPath != "" {
		if _, err := os.Stat(cfg.DBPath); err == nil {
			fresh = false
		}
	}

	pl, err := plog.Open(cfg.DBPath, uint64(cfg.LogSize))
	if err != nil {
		return nil, cyclerr.BootstrapFailed("opening log", err)
	}

	var replayedEntries []raftcore.Entry
	var replayedRecords []plog.EntryRecord
	if !fresh {
		plEntries, plRecords, err := plog.ReplayEntries(pl)
		if err != nil {
			return nil, cyclerr.BootstrapFailed("replaying log", err)
		}
		for _, e := range plEntries {
			replayedEntries = append(replayedEntries, raftcore.Entry{
				Term: e.Term, Index: e.Index, Type: raftcore.EntryType(e.Type), Payload: e.Payload,
			})
		}
		replayedRecords = plRecords
		log.Info("replayed log entries", "count", len(replayedEntries))
	}

	storePath := cfg.DispatchFilePath
	store, err := dispatcher.OpenStore(storePath)
	if err != nil {
		return nil, cyclerr.BootstrapFailed("opening dispatcher state", err)
	}

	handle := &nodeHandle{}

	var voting []raftcore.NodeID
	for id := range opts.VotingPeers {
		voting = append(voting, id)
	}
	raftCfg := raftcore.DefaultConfig(opts.Self, voting)

	peerAddrs := make(map[uint64]string, len(opts.VotingPeers))
	for id, addr := range opts.VotingPeers {
		peerAddrs[uint64(id)] = addr
	}
	peers := hostbridge.NewTCPPeers(peerAddrs, raftCfg.RequestTimeout)

	disp := dispatcher.New(store, handle, app.Execute)

	voteStatePath := cfg.DBPath
	if voteStatePath != "" {
		voteStatePath += ".vote"
	}
	hb, term, votedFor, err := hostbridge.New(hostbridge.Config{
		Self:           opts.Self,
		PLog:           pl,
		VoteStatePath:  voteStatePath,
		Peers:          peers,
		RequestTimeout: raftCfg.RequestTimeout,
		Callbacks: hostbridge.Callbacks{
			OnOffer: disp.OnOffer,
			OnPop:   disp.OnPop,
			OnApply: disp.OnApply,
		},
	})
	if err != nil {
		return nil, cyclerr.BootstrapFailed("constructing host bridge", err)
	}

	raftNode := raftcore.NewNode(raftCfg, hb)
	handle.n = raftNode
	hb.SetNode(raftNode)

	if !fresh {
		raftNode.SeedState(term, votedFor, replayedEntries)
		hb.SeedRecords(replayedEntries, replayedRecords)
	}

	removed := make(chan struct{})
	raftNode.OnSelfRemove = func() { close(removed) }

	n := &Node{
		log:     log,
		raft:    raftNode,
		bridge:  hb,
		disp:    disp,
		store:   store,
		pl:      pl,
		peers:   peers,
		Removed: removed,
	}

	cps := &checkpointServer{
		app:  app,
		raft: &raftStatusSource{term: raftNode.Term, index: raftNode.CommitIndex},
	}
	router := &hostbridge.NodeRouter{Node: raftNode, CheckpointServer: cps.handle}
	n.server = transport.NewServer(router)
	if opts.ListenAddr != "" {
		maxConns := opts.MaxConns
		if maxConns <= 0 {
			maxConns = 1024
		}
		if err := n.server.Listen(opts.ListenAddr, maxConns); err != nil {
			return nil, cyclerr.BootstrapFailed("listening on "+opts.ListenAddr, err)
		}
	}

	if opts.ClientListenAddr != "" {
		n.rpc = dispatcher.NewRPCServer(disp)
		clientMaxConns := opts.ClientMaxConns
		if clientMaxConns <= 0 {
			clientMaxConns = 1024
		}
		if err := n.rpc.Listen(opts.ClientListenAddr, clientMaxConns); err != nil {
			return nil, cyclerr.BootstrapFailed("listening for clients on "+opts.ClientListenAddr, err)
		}
	}

	if !opts.Active && fresh {
		if err := n.joinNonActive(opts, app); err != nil {
			return nil, err
		}
	}

	raftNode.Start()
	log.Info("replica started", "self", opts.Self, "active", opts.Active, "fresh", fresh)
	return n, nil
}

// joinNonActive fetches an application checkpoint from opts.JoinVia and
// restores it before this replica starts tailing the log, the path for a
// replica that is joining an already-running cluster rather than
// founding one. It mirrors the image-build half of the original design:
// this replica's own commit/apply position is not reconstructed exactly
// (compaction and precise resumption offsets are out of scope here), so
// after Restore it simply starts from the leader's current term and lets
// ordinary AppendEntries replication catch it up on whatever the leader
// still has resident in its ring.
func (n *Node) joinNonActive(opts Options, app Application) error {
	cp, err := requestCheckpointFrom(n.peers, uint64(opts.JoinVia), 2*time.Second)
	if err != nil {
		return err
	}
	snapshot, err := cp.decompressedSnapshot()
	if err != nil {
		return cyclerr.BootstrapFailed("decompressing checkpoint", err)
	}
	if err := app.Restore(snapshot); err != nil {
		return cyclerr.BootstrapFailed("restoring checkpoint", err)
	}
	n.raft.SeedState(cp.Term, -1, nil)
	n.log.Info("joined as non-active replica", "via", opts.JoinVia, "term", cp.Term)
	return nil
}

// Shutdown stops the replica's goroutines and releases its durable
// resources, in the reverse order Boot acquired them.
func (n *Node) Shutdown() error {
	n.raft.Stop()
	if n.server != nil {
		n.server.Close()
	}
	if n.rpc != nil {
		n.rpc.Close()
	}
	if err := n.bridge.Close(); err != nil {
		return err
	}
	if n.store != nil {
		if err := n.store.Close(); err != nil {
			return err
		}
	}
	if n.pl != nil {
		return n.pl.Close()
	}
	return nil
}

// Raft exposes the underlying Raft node for callers that need to propose
// entries directly, outside the client-facing dispatcher (membership
// changes, administrative commands).
func (n *Node) Raft() *raftcore.Node { return n.raft }

// Dispatcher exposes the client RPC gateway.
func (n *Node) Dispatcher() *dispatcher.Dispatcher { return n.disp }
