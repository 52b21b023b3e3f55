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

package workpool

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestPoolRunsSubmittedJobs(t *testing.T) {
	p := New(Config{NumWorkers: 4, QueueSize: 16})

	var ran atomic.Int32
	const n = 50
	for i := 0; i < n; i++ {
		if !p.Submit(func() error { ran.Add(1); return nil }) {
			t.Fatalf("submit rejected before close")
		}
	}

	deadline := time.After(time.Second)
	for ran.Load() != n {
		select {
		case <-deadline:
			t.Fatalf("only %d/%d jobs ran", ran.Load(), n)
		case <-time.After(time.Millisecond):
		}
	}

	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if got := p.Stats().Completed; got != n {
		t.Errorf("Stats().Completed = %d, want %d", got, n)
	}
}

func TestPoolStopsOnJobError(t *testing.T) {
	p := New(Config{NumWorkers: 1, QueueSize: 4})
	boom := errors.New("boom")

	p.Submit(func() error { return boom })
	if err := p.Close(); !errors.Is(err, boom) {
		t.Errorf("Close() = %v, want %v", err, boom)
	}
}

func TestTrySubmitRejectsWhenFull(t *testing.T) {
	block := make(chan struct{})
	p := New(Config{NumWorkers: 1, QueueSize: 1})
	defer func() {
		close(block)
		p.Close()
	}()

	p.Submit(func() error { <-block; return nil }) // occupies the one worker
	p.Submit(func() error { return nil })           // fills the one queue slot

	if p.TrySubmit(func() error { return nil }) {
		t.Error("TrySubmit succeeded against a full queue")
	}
}
