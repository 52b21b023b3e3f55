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

package plog

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/cyclone-consensus/cyclone/internal/cyclerr"
)

// TestRoundTrip is invariant 7 (PLog Round-Trip): for every append(b)
// returning offset o, read(o, len(b)) == b until a matching poll/pop.
func TestRoundTrip(t *testing.T) {
	cl := NewMemLog(256)
	tx := cl.Begin()
	payload := []byte("hello cyclone")
	off, err := tx.Append(payload)
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	got, err := cl.Read(off, len(payload))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("read back %q, want %q", got, payload)
	}
}

func TestAppendWrapsAround(t *testing.T) {
	cl := NewMemLog(32)
	for i := 0; i < 5; i++ {
		tx := cl.Begin()
		off, err := tx.Append([]byte{byte(i), byte(i), byte(i)})
		if err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
		if err := tx.Commit(); err != nil {
			t.Fatalf("commit %d: %v", i, err)
		}
		got, err := cl.Read(off, 3)
		if err != nil {
			t.Fatalf("read %d: %v", i, err)
		}
		want := []byte{byte(i), byte(i), byte(i)}
		if !bytes.Equal(got, want) {
			t.Errorf("iter %d: got %v want %v", i, got, want)
		}
		// Poll the oldest away so the ring has to wrap to fit the next one.
		txp := cl.Begin()
		if err := txp.PollHead(); err != nil {
			t.Fatalf("poll %d: %v", i, err)
		}
		if err := txp.Commit(); err != nil {
			t.Fatalf("poll commit %d: %v", i, err)
		}
	}
}

func TestLogFullAbortsTransaction(t *testing.T) {
	cl := NewMemLog(16)
	tx := cl.Begin()
	_, err := tx.Append(make([]byte, 64))
	if err == nil {
		t.Fatalf("expected LogFull error")
	}
	if cyclerr.GetCode(err) != cyclerr.CodeLogFull {
		t.Errorf("expected LogFull code, got %v", err)
	}
	tx.Abort()

	// The ring must be untouched by the aborted attempt.
	tx2 := cl.Begin()
	off, err := tx2.Append([]byte("ok"))
	if err != nil {
		t.Fatalf("append after abort: %v", err)
	}
	if err := tx2.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	got, _ := cl.Read(off, 2)
	if !bytes.Equal(got, []byte("ok")) {
		t.Errorf("ring corrupted after aborted tx: got %q", got)
	}
}

func TestAppendEntryPairAndPollPair(t *testing.T) {
	cl := NewMemLog(512)
	tx := cl.Begin()
	rec, err := AppendEntry(tx, Entry{Term: 3, Index: 1, Type: EntryUser, Payload: []byte("INSERT key=1")})
	if err != nil {
		t.Fatalf("append entry: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	entry, gotRec, err := ReadEntryAt(cl, rec.HeaderOffset)
	if err != nil {
		t.Fatalf("read entry: %v", err)
	}
	if entry.Term != 3 || entry.Index != 1 || entry.Type != EntryUser {
		t.Errorf("decoded entry mismatch: %+v", entry)
	}
	if !bytes.Equal(entry.Payload, []byte("INSERT key=1")) {
		t.Errorf("payload mismatch: %q", entry.Payload)
	}
	if gotRec.PayloadOffset != rec.PayloadOffset {
		t.Errorf("payload offset mismatch: %d vs %d", gotRec.PayloadOffset, rec.PayloadOffset)
	}

	txr := cl.Begin()
	if err := PollHeadEntry(txr); err != nil {
		t.Fatalf("poll head entry: %v", err)
	}
	if err := txr.Commit(); err != nil {
		t.Fatalf("commit poll: %v", err)
	}
	if cl.used != 0 {
		t.Errorf("expected empty ring after polling the only entry, used=%d", cl.used)
	}
}

func TestPopTailEntryUndoesUncommittedAppend(t *testing.T) {
	cl := NewMemLog(512)

	tx1 := cl.Begin()
	if _, err := AppendEntry(tx1, Entry{Term: 1, Index: 1, Payload: []byte("a")}); err != nil {
		t.Fatalf("append 1: %v", err)
	}
	if err := tx1.Commit(); err != nil {
		t.Fatalf("commit 1: %v", err)
	}

	tx2 := cl.Begin()
	if _, err := AppendEntry(tx2, Entry{Term: 2, Index: 2, Payload: []byte("conflict")}); err != nil {
		t.Fatalf("append 2: %v", err)
	}
	if err := tx2.Commit(); err != nil {
		t.Fatalf("commit 2: %v", err)
	}

	// Conflict discovered: pop the second entry back off.
	tx3 := cl.Begin()
	if err := PopTailEntry(tx3); err != nil {
		t.Fatalf("pop tail entry: %v", err)
	}
	if err := tx3.Commit(); err != nil {
		t.Fatalf("commit pop: %v", err)
	}

	usedAfterPop := cl.used
	tx4 := cl.Begin()
	rec, err := AppendEntry(tx4, Entry{Term: 3, Index: 2, Payload: []byte("resolved")})
	if err != nil {
		t.Fatalf("append 4: %v", err)
	}
	if err := tx4.Commit(); err != nil {
		t.Fatalf("commit 4: %v", err)
	}
	_ = usedAfterPop
	entry, _, err := ReadEntryAt(cl, rec.HeaderOffset)
	if err != nil {
		t.Fatalf("read entry: %v", err)
	}
	if entry.Term != 3 || !bytes.Equal(entry.Payload, []byte("resolved")) {
		t.Errorf("entry at reused slot mismatch: %+v", entry)
	}
}

func TestReopenPersistsAcrossClose(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "plog.bin")

	cl, err := Open(path, 256)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	tx := cl.Begin()
	off, err := tx.Append([]byte("durable"))
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := cl.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := Open(path, 256)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	got, err := reopened.Read(off, len("durable"))
	if err != nil {
		t.Fatalf("read after reopen: %v", err)
	}
	if !bytes.Equal(got, []byte("durable")) {
		t.Errorf("data lost across reopen: got %q", got)
	}
}
