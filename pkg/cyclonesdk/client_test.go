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

package cyclonesdk

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/cyclone-consensus/cyclone/internal/dispatcher"
	"github.com/cyclone-consensus/cyclone/internal/raftcore"
)

// fakeNode commits proposals synchronously in-process, standing in for
// a live Raft cluster the way dispatcher's own tests do.
type fakeNode struct {
	d        *dispatcher.Dispatcher
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
func (f *fakeNode) Leader() int64  { return 1 }

func startTestServer(t *testing.T) (addr string, close func()) {
	t.Helper()
	store, err := dispatcher.OpenStore("")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	fn := &fakeNode{isLeader: true}
	execute := func(clientID uint64, payload []byte) []byte {
		out := make([]byte, len(payload))
		copy(out, payload)
		return out
	}
	d := dispatcher.New(store, fn, execute)
	fn.d = d

	srv := dispatcher.NewRPCServer(d)
	if err := srv.Listen("127.0.0.1:0", 8); err != nil {
		t.Fatalf("listen: %v", err)
	}
	return srv.Addr().String(), func() { srv.Close() }
}

func TestClientExecuteRoundTrip(t *testing.T) {
	addr, stop := startTestServer(t)
	defer stop()

	c, err := New(Config{ClientID: 1, Peers: map[uint64]string{1: addr}, PollInterval: time.Millisecond})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	defer c.Close()

	out, err := c.Execute(context.Background(), []byte("hello"))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !bytes.Equal(out, []byte("hello")) {
		t.Errorf("expected echoed payload, got %q", out)
	}
}

func TestClientExecuteSequencesMultipleCommands(t *testing.T) {
	addr, stop := startTestServer(t)
	defer stop()

	c, err := New(Config{ClientID: 2, Peers: map[uint64]string{1: addr}, PollInterval: time.Millisecond})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	defer c.Close()

	for i := 0; i < 5; i++ {
		out, err := c.Execute(context.Background(), []byte{byte(i)})
		if err != nil {
			t.Fatalf("execute %d: %v", i, err)
		}
		if len(out) != 1 || out[0] != byte(i) {
			t.Errorf("execute %d: got %v", i, out)
		}
	}
}

func TestPoolAcquireReleaseRejectsDoubleCheckout(t *testing.T) {
	addr, stop := startTestServer(t)
	defer stop()

	p := NewPool(Config{Peers: map[uint64]string{1: addr}, PollInterval: time.Millisecond})
	defer p.Close()

	c1, err := p.Acquire(7)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if _, err := p.Acquire(7); err == nil {
		t.Fatal("expected double-checkout to fail")
	}
	p.Release(7)

	c2, err := p.Acquire(7)
	if err != nil {
		t.Fatalf("re-acquire: %v", err)
	}
	if c1 != c2 {
		t.Error("expected the same Client to be reused across acquire/release")
	}

	stats := p.Stats()
	if stats.TotalClients != 1 || stats.InUse != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}
