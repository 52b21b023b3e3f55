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

package throttle

import (
	"testing"
	"time"
)

func TestFirstSendAlwaysAllowed(t *testing.T) {
	tb := New(100 * time.Millisecond)
	if !tb.Allow(1, View{PrevLogIndex: 5, PrevLogTerm: 2}) {
		t.Fatalf("first send to a peer must always be allowed")
	}
}

func TestSameViewSuppressedWithinTimeout(t *testing.T) {
	tb := New(100 * time.Millisecond)
	v := View{PrevLogIndex: 5, PrevLogTerm: 2}
	tb.Allow(1, v)
	if tb.Allow(1, v) {
		t.Fatalf("identical view within timeout should be suppressed")
	}
}

func TestViewChangeResetsTimeout(t *testing.T) {
	tb := New(100 * time.Millisecond)
	tb.Allow(1, View{PrevLogIndex: 5, PrevLogTerm: 2})
	if !tb.Allow(1, View{PrevLogIndex: 6, PrevLogTerm: 2}) {
		t.Fatalf("a changed view must always be sent")
	}
}

func TestHeartbeatAndEntriesAtSamePointAreDistinctViews(t *testing.T) {
	tb := New(100 * time.Millisecond)
	tb.Allow(1, View{PrevLogIndex: 5, PrevLogTerm: 2, Heartbeat: true})
	if !tb.Allow(1, View{PrevLogIndex: 5, PrevLogTerm: 2, Heartbeat: false}) {
		t.Fatalf("an entry-carrying AE must not be suppressed by a prior heartbeat at the same point")
	}
}

func TestSuppressedRetransmissionDoublesTimeout(t *testing.T) {
	tb := New(20 * time.Millisecond)
	v := View{PrevLogIndex: 5, PrevLogTerm: 2}
	tb.Allow(1, v) // timeout starts at 10ms
	time.Sleep(15 * time.Millisecond)
	if !tb.Allow(1, v) {
		t.Fatalf("expected release after the initial timeout elapsed")
	}
	// timeout is now doubled to 20ms; an immediate retry of the same
	// view must be suppressed again.
	if tb.Allow(1, v) {
		t.Fatalf("expected suppression immediately after a just-doubled timeout")
	}
}

func TestResetClearsState(t *testing.T) {
	tb := New(100 * time.Millisecond)
	v := View{PrevLogIndex: 5, PrevLogTerm: 2}
	tb.Allow(1, v)
	tb.Reset(1)
	if !tb.Allow(1, v) {
		t.Fatalf("after Reset, the next call for the same view should be treated as first-send")
	}
}
