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

package bootstrap

import (
	"bytes"
	"strings"
	"testing"
)

func TestCheckpointRoundTrip(t *testing.T) {
	snapshot := []byte(strings.Repeat("the quick brown fox jumps over the lazy dog ", 200))

	cp, err := newCheckpoint(7, 42, snapshot)
	if err != nil {
		t.Fatalf("newCheckpoint: %v", err)
	}
	if bytes.Equal(cp.Snapshot, snapshot) {
		t.Fatal("expected compressed snapshot to differ from input")
	}
	if err := cp.verify(); err != nil {
		t.Fatalf("verify: %v", err)
	}

	encoded, err := encodeCheckpoint(cp)
	if err != nil {
		t.Fatalf("encodeCheckpoint: %v", err)
	}
	decoded, err := decodeCheckpoint(encoded)
	if err != nil {
		t.Fatalf("decodeCheckpoint: %v", err)
	}
	if decoded.Term != cp.Term || decoded.Index != cp.Index {
		t.Fatalf("term/index mismatch: got %d/%d want %d/%d", decoded.Term, decoded.Index, cp.Term, cp.Index)
	}

	got, err := decoded.decompressedSnapshot()
	if err != nil {
		t.Fatalf("decompressedSnapshot: %v", err)
	}
	if !bytes.Equal(got, snapshot) {
		t.Fatal("round-tripped snapshot does not match original")
	}
}

func TestCheckpointRoundTripBelowMinSize(t *testing.T) {
	// Shorter than the compressor's MinSize floor, so Compress stores it
	// as AlgorithmNone; decompressedSnapshot must still recover it by
	// reading the algorithm back from the wrapper byte.
	snapshot := []byte("tiny")

	cp, err := newCheckpoint(1, 1, snapshot)
	if err != nil {
		t.Fatalf("newCheckpoint: %v", err)
	}
	if err := cp.verify(); err != nil {
		t.Fatalf("verify: %v", err)
	}
	got, err := cp.decompressedSnapshot()
	if err != nil {
		t.Fatalf("decompressedSnapshot: %v", err)
	}
	if !bytes.Equal(got, snapshot) {
		t.Fatal("round-tripped tiny snapshot does not match original")
	}
}

func TestCheckpointVerifyDetectsCorruption(t *testing.T) {
	cp, err := newCheckpoint(1, 1, bytes.Repeat([]byte{0x42}, 1024))
	if err != nil {
		t.Fatalf("newCheckpoint: %v", err)
	}
	cp.Snapshot[0] ^= 0xFF
	if err := cp.verify(); err == nil {
		t.Fatal("expected verify to detect corrupted snapshot")
	}
}

func TestCheckpointServerHandle(t *testing.T) {
	app := &fakeApplication{snapshot: []byte("state-snapshot")}
	srv := &checkpointServer{
		app:  app,
		raft: &raftStatusSource{term: func() uint64 { return 3 }, index: func() uint64 { return 9 }},
	}

	raw := srv.handle(nil)
	cp, err := decodeCheckpoint(raw)
	if err != nil {
		t.Fatalf("decodeCheckpoint: %v", err)
	}
	if cp.Term != 3 || cp.Index != 9 {
		t.Fatalf("unexpected term/index: %+v", cp)
	}
	snapshot, err := cp.decompressedSnapshot()
	if err != nil {
		t.Fatalf("decompressedSnapshot: %v", err)
	}
	if string(snapshot) != "state-snapshot" {
		t.Fatalf("unexpected snapshot: %q", snapshot)
	}
}

type fakeApplication struct {
	snapshot []byte
	restored []byte
}

func (a *fakeApplication) Execute(uint64, []byte) []byte { return nil }
func (a *fakeApplication) Snapshot() []byte              { return a.snapshot }
func (a *fakeApplication) Restore(snapshot []byte) error {
	a.restored = snapshot
	return nil
}
