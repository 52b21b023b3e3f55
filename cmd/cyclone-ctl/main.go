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
cyclone-ctl is the operator CLI for a running cyclone cluster: it sends
raw commands through the client RPC protocol (pkg/cyclonesdk) and
queries the cluster-wide audit log (internal/audit), either as one-shot
subcommands or from an interactive REPL.

Usage:

	cyclone-ctl exec --peers 1=host1:9000,2=host2:9000 48656c6c6f
	cyclone-ctl audit --audit-peers 1=host1:9100,2=host2:9100 --event-type LEADER_ELECTION
	cyclone-ctl repl --peers 1=host1:9000,2=host2:9000 --audit-peers 1=host1:9100,2=host2:9100
*/
package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"golang.org/x/term"

	"github.com/cyclone-consensus/cyclone/internal/audit"
	"github.com/cyclone-consensus/cyclone/pkg/cli"
	"github.com/cyclone-consensus/cyclone/pkg/cyclonesdk"
)

const version = "1.0.0"

func main() {
	if len(os.Args) < 2 {
		printTopUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "exec":
		runExec(os.Args[2:])
	case "audit":
		runAudit(os.Args[2:])
	case "repl":
		runRepl(os.Args[2:])
	case "--version", "-v":
		fmt.Printf("cyclone-ctl %s\n", version)
	case "--help", "-h":
		printTopUsage()
	default:
		cli.ErrInvalidCommand(os.Args[1]).Print()
		os.Exit(1)
	}
}

func printTopUsage() {
	h := cli.NewHelpFormatter("cyclone-ctl", version)
	h.AddCommand(cli.Command{Name: "exec", Description: "send a raw hex-encoded command through the client RPC protocol"})
	h.AddCommand(cli.Command{Name: "audit", Description: "query the cluster-wide audit log"})
	h.AddCommand(cli.Command{Name: "repl", Description: "start an interactive session"})
	h.PrintUsage()
}

// parsePeers parses a comma-separated "id=addr,id=addr" list, the same
// shape both the client RPC peer set and the audit peer set use.
func parsePeers(s string) (map[uint64]string, error) {
	peers := make(map[uint64]string)
	if s == "" {
		return peers, nil
	}
	for _, part := range strings.Split(s, ",") {
		idStr, addr, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("invalid peer entry %q, want id=addr", part)
		}
		id, err := strconv.ParseUint(strings.TrimSpace(idStr), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid peer id in %q: %w", part, err)
		}
		peers[id] = strings.TrimSpace(addr)
	}
	return peers, nil
}

func runExec(args []string) {
	fs := flag.NewFlagSet("exec", flag.ExitOnError)
	peersFlag := fs.String("peers", "", "client RPC peers, id=addr,id=addr")
	clientID := fs.Uint64("client-id", 1, "client identity to execute as")
	timeout := fs.Duration("timeout", 5*time.Second, "request timeout")
	fs.Parse(args)

	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: cyclone-ctl exec --peers id=addr,... <hex-payload>")
		os.Exit(1)
	}
	payload, err := hex.DecodeString(fs.Arg(0))
	if err != nil {
		cli.ErrInvalidValue("payload", fs.Arg(0), "must be hex-encoded").Exit()
	}

	peers, err := parsePeers(*peersFlag)
	if err != nil || len(peers) == 0 {
		cli.ErrMissingArgument("--peers", "cyclone-ctl exec --peers id=addr,... <hex>").Exit()
	}

	reply := execOnce(peers, *clientID, payload, *timeout)
	fmt.Println(hex.EncodeToString(reply))
}

func execOnce(peers map[uint64]string, clientID uint64, payload []byte, timeout time.Duration) []byte {
	client, err := cyclonesdk.New(cyclonesdk.Config{ClientID: clientID, Peers: peers, DialTimeout: timeout})
	if err != nil {
		cli.NewCLIError("Could not build client").WithDetail(err.Error()).Exit()
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	reply, err := client.Execute(ctx, payload)
	if err != nil {
		var anAddr string
		for _, a := range peers {
			anAddr = a
			break
		}
		host, port, _ := strings.Cut(anAddr, ":")
		cli.ErrConnectionFailed(host, port, err).Exit()
	}
	return reply
}

func runAudit(args []string) {
	fs := flag.NewFlagSet("audit", flag.ExitOnError)
	peersFlag := fs.String("audit-peers", "", "audit query peers, id=addr,id=addr")
	eventType := fs.String("event-type", "", "filter by event type, e.g. LEADER_ELECTION")
	status := fs.String("status", "", "filter by status, SUCCESS or FAILED")
	nodeID := fs.Uint64("node-id", 0, "filter by originating node id")
	limit := fs.Int("limit", 100, "max events to return")
	format := fs.String("format", "table", "output format: table, json, plain")
	fs.Parse(args)

	peers, err := parsePeers(*peersFlag)
	if err != nil || len(peers) == 0 {
		cli.ErrMissingArgument("--audit-peers", "cyclone-ctl audit --audit-peers id=addr,...").Exit()
	}

	events := queryAudit(peers, audit.QueryOptions{
		EventType: audit.EventType(*eventType),
		Status:    audit.Status(*status),
		NodeID:    *nodeID,
		Limit:     *limit,
	})
	printEvents(events, cli.ParseOutputFormat(*format))
}

func queryAudit(peers map[uint64]string, opts audit.QueryOptions) []audit.Event {
	store, err := audit.NewFileStore("")
	if err != nil {
		cli.NewCLIError("Could not open local audit store").WithDetail(err.Error()).Exit()
	}
	local := audit.NewManager(store, audit.Config{Enabled: false})
	cm := audit.NewClusterManager(local, 0)
	for id, addr := range peers {
		cm.AddPeer(id, addr)
	}

	events, err := cm.QueryAcrossCluster(opts)
	if err != nil {
		cli.NewCLIError("Audit query failed").WithDetail(err.Error()).Exit()
	}
	return events
}

func printEvents(events []audit.Event, format cli.OutputFormat) {
	t := cli.NewTable("TIME", "NODE", "TYPE", "STATUS", "DETAIL")
	t.SetFormat(format)
	for _, e := range events {
		t.AddRow(
			e.Timestamp.Format(time.RFC3339),
			strconv.FormatUint(e.NodeID, 10),
			string(e.EventType),
			string(e.Status),
			e.Detail,
		)
	}
	t.Print()
}

func runRepl(args []string) {
	fs := flag.NewFlagSet("repl", flag.ExitOnError)
	peersFlag := fs.String("peers", "", "client RPC peers, id=addr,id=addr")
	auditPeersFlag := fs.String("audit-peers", "", "audit query peers, id=addr,id=addr")
	clientID := fs.Uint64("client-id", 1, "client identity to execute as")
	fs.Parse(args)

	peers, err := parsePeers(*peersFlag)
	if err != nil {
		cli.ErrInvalidValue("--peers", *peersFlag, err.Error()).Exit()
	}
	auditPeers, err := parsePeers(*auditPeersFlag)
	if err != nil {
		cli.ErrInvalidValue("--audit-peers", *auditPeersFlag, err.Error()).Exit()
	}

	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || width <= 0 {
		width = 80
	}
	cli.Box("cyclone-ctl "+version, fmt.Sprintf("interactive session, terminal width %d", width))

	rl, err := readline.New("cyclone> ")
	if err != nil {
		cli.NewCLIError("Could not start the interactive prompt").WithDetail(err.Error()).Exit()
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		}
		if err == io.EOF {
			return
		}
		if err != nil {
			return
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		dispatchReplLine(line, peers, auditPeers, *clientID)
	}
}

func dispatchReplLine(line string, peers, auditPeers map[uint64]string, clientID uint64) {
	fields := strings.Fields(line)
	switch fields[0] {
	case "\\q", "quit", "exit":
		os.Exit(0)
	case "\\h", "help":
		fmt.Println("  exec <hex>            send a command to the cluster")
		fmt.Println("  audit [event-type]    list recent audit events")
		fmt.Println("  quit                  exit")
	case "exec":
		if len(fields) != 2 {
			fmt.Println("usage: exec <hex-payload>")
			return
		}
		payload, err := hex.DecodeString(fields[1])
		if err != nil {
			fmt.Printf("invalid hex: %v\n", err)
			return
		}
		if len(peers) == 0 {
			fmt.Println("no --peers configured for this session")
			return
		}
		reply := execOnce(peers, clientID, payload, 5*time.Second)
		fmt.Println(hex.EncodeToString(reply))
	case "audit":
		if len(auditPeers) == 0 {
			fmt.Println("no --audit-peers configured for this session")
			return
		}
		opts := audit.QueryOptions{Limit: 50}
		if len(fields) > 1 {
			opts.EventType = audit.EventType(fields[1])
		}
		printEvents(queryAudit(auditPeers, opts), cli.FormatTable)
	default:
		cli.ErrInvalidCommand(fields[0]).Print()
	}
}
