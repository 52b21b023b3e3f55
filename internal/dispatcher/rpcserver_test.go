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

package dispatcher

import (
	"net"
	"testing"
)

func TestRPCServerRoundTrip(t *testing.T) {
	d, _ := newTestDispatcher(t)
	srv := NewRPCServer(d)
	if err := srv.Listen("127.0.0.1:0", 4); err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer srv.Close()

	conn, err := net.Dial("tcp", srv.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := WriteRequest(conn, Request{Code: ReqFn, ClientID: 9, ClientTxid: 1, Payload: []byte("hi")}); err != nil {
		t.Fatalf("write request: %v", err)
	}
	resp, err := ReadResponse(conn)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	if resp.Code != RepPending {
		t.Fatalf("expected PENDING, got %v", resp.Code)
	}

	if err := WriteRequest(conn, Request{Code: ReqStatus, ClientID: 9, ClientTxid: 1}); err != nil {
		t.Fatalf("write request: %v", err)
	}
	resp, err = ReadResponse(conn)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	if resp.Code != RepComplete {
		t.Fatalf("expected COMPLETE, got %v", resp.Code)
	}
	if string(resp.Payload) != "hi" {
		t.Errorf("expected echoed payload, got %q", resp.Payload)
	}
}

func TestRPCServerHandlesMultipleConnections(t *testing.T) {
	d, _ := newTestDispatcher(t)
	srv := NewRPCServer(d)
	if err := srv.Listen("127.0.0.1:0", 4); err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer srv.Close()

	for i := uint64(1); i <= 3; i++ {
		conn, err := net.Dial("tcp", srv.Addr().String())
		if err != nil {
			t.Fatalf("dial: %v", err)
		}
		if err := WriteRequest(conn, Request{Code: ReqFn, ClientID: i, ClientTxid: 1, Payload: []byte("x")}); err != nil {
			t.Fatalf("write request: %v", err)
		}
		resp, err := ReadResponse(conn)
		if err != nil {
			t.Fatalf("read response: %v", err)
		}
		if resp.Code != RepPending {
			t.Fatalf("client %d: expected PENDING, got %v", i, resp.Code)
		}
		conn.Close()
	}
}
