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
cyclone-node runs a single replica as its own process: it loads a
replica's configuration, boots the replicated log and dispatcher via
internal/bootstrap, and blocks until either an operating-system signal
or the replica's own removal from the cluster asks it to stop.

It hosts a passthrough Application whose Execute simply echoes back
whatever payload it committed — useful for exercising the consensus
and dispatch machinery directly (an operator driving it with
cyclone-ctl or pkg/cyclonesdk against a cluster of these), and for
embedding into integration tests that don't need real application
state. Anything wanting actual application semantics links
internal/bootstrap as a library with its own Application; this binary
does not presume to be that Application.

Usage:

	cyclone-node --config /etc/cyclone/node.conf
*/
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/cyclone-consensus/cyclone/internal/bootstrap"
	"github.com/cyclone-consensus/cyclone/internal/config"
	"github.com/cyclone-consensus/cyclone/internal/logging"
	"github.com/cyclone-consensus/cyclone/internal/raftcore"
)

const version = "1.0.0"

// echoApp is cyclone-node's built-in, domain-free Application: it
// acknowledges every committed command by returning its payload
// unchanged, and carries no state across a checkpoint.
type echoApp struct{}

func (echoApp) Execute(clientID uint64, payload []byte) []byte { return payload }
func (echoApp) Snapshot() []byte                               { return nil }
func (echoApp) Restore(snapshot []byte) error                  { return nil }

func main() {
	configPath := flag.String("config", "", "path to the replica's INI configuration file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("cyclone-node %s\n", version)
		os.Exit(0)
	}
	if *configPath == "" {
		fmt.Fprintln(os.Stderr, "cyclone-node: --config is required")
		os.Exit(1)
	}

	log := logging.NewLogger("cyclone-node")

	mgr := config.NewManager()
	if err := mgr.LoadFromFile(*configPath); err != nil {
		log.Error("loading configuration", "err", err)
		os.Exit(1)
	}
	mgr.LoadFromEnv()
	cfg := mgr.Get()

	logging.SetGlobalLevel(logging.ParseLevel(cfg.LogLevel))
	logging.SetJSONMode(cfg.LogJSON)

	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	opts, err := buildOptions(cfg)
	if err != nil {
		log.Error("resolving replica topology", "err", err)
		os.Exit(1)
	}

	node, err := bootstrap.Boot(cfg, opts, echoApp{})
	if err != nil {
		log.Error("booting replica", "err", err)
		os.Exit(1)
	}
	log.Info("replica running", "self", opts.Self, "active", opts.Active, "raft_addr", opts.ListenAddr)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case s := <-sig:
		log.Info("received signal, shutting down", "signal", s)
	case <-node.Removed:
		log.Warn("replica was removed from the cluster, shutting down")
	}

	if err := node.Shutdown(); err != nil {
		log.Error("shutting down replica", "err", err)
		os.Exit(1)
	}
}

// buildOptions derives a bootstrap.Options from cfg: active.replicas
// gives the voting member list in a fixed order, and this replica's
// position in that order — found via network.me — is its NodeID.
// A role=slave replica is not itself in active.replicas; it still
// needs a NodeID to request a checkpoint from, resolved the same way
// against master_addr.
func buildOptions(cfg *config.Config) (bootstrap.Options, error) {
	if cfg.NetworkMe == "" {
		return bootstrap.Options{}, fmt.Errorf("network.me is required")
	}

	addrs := append([]string(nil), cfg.ActiveReplicas...)
	sort.Strings(addrs)

	voting := make(map[raftcore.NodeID]string, len(addrs))
	for i, addr := range addrs {
		voting[raftcore.NodeID(i+1)] = addr
	}

	active := cfg.Role != "slave"

	var self raftcore.NodeID
	if active {
		id, ok := idOf(addrs, cfg.NetworkMe)
		if !ok {
			return bootstrap.Options{}, fmt.Errorf("network.me %q is not listed in active.replicas", cfg.NetworkMe)
		}
		self = id
		delete(voting, self)
	} else {
		// A non-active replica is not a voting member; it gets an id
		// above the voting range so it never collides with one.
		self = raftcore.NodeID(len(addrs) + 1)
	}

	opts := bootstrap.Options{
		Self:             self,
		VotingPeers:      voting,
		Active:           active,
		ListenAddr:       fmt.Sprintf("%s:%d", hostOf(cfg.NetworkMe), cfg.BinaryPort),
		ClientListenAddr: fmt.Sprintf("%s:%d", hostOf(cfg.NetworkMe), cfg.Port),
	}

	if !active {
		id, ok := idOf(addrs, cfg.MasterAddr)
		if !ok {
			return bootstrap.Options{}, fmt.Errorf("master_addr %q is not listed in active.replicas", cfg.MasterAddr)
		}
		opts.JoinVia = id
	}
	return opts, nil
}

func idOf(addrs []string, addr string) (raftcore.NodeID, bool) {
	for i, a := range addrs {
		if a == addr {
			return raftcore.NodeID(i + 1), true
		}
	}
	return 0, false
}

// hostOf returns addr's host portion, or addr itself if it carries no
// port (network.me is conventionally a bare host in these configs,
// with the per-purpose ports layered on from Port/BinaryPort).
func hostOf(addr string) string {
	for i := len(addr) - 1; i >= 0; i-- {
		if addr[i] == ':' {
			return addr[:i]
		}
	}
	return addr
}
