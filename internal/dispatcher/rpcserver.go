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
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"io"
	"net"
	"sync"
	"time"

	"golang.org/x/net/netutil"

	"github.com/cyclone-consensus/cyclone/internal/logging"
)

// RPCServer exposes a Dispatcher's HandleRPC over a dedicated
// client-facing TCP listener (dispatch.client_baseport), separate from
// the inter-replica Raft transport — matching the request/reply socket
// per connected client that the dispatch protocol describes. Framing
// mirrors transport's length-prefixed convention, trimmed to this
// socket's single message shape (one Request in, one Response out).
type RPCServer struct {
	log        *logging.Logger
	dispatcher *Dispatcher
	listener   net.Listener

	wg     sync.WaitGroup
	stopCh chan struct{}
}

// NewRPCServer constructs an RPCServer bound to d; call Listen to start
// accepting client connections.
func NewRPCServer(d *Dispatcher) *RPCServer {
	return &RPCServer{log: logging.NewLogger("dispatcher.rpc"), dispatcher: d, stopCh: make(chan struct{})}
}

// Listen binds addr and starts accepting client connections, capping
// concurrency at maxConns via golang.org/x/net/netutil.
func (s *RPCServer) Listen(addr string, maxConns int) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.listener = netutil.LimitListener(ln, maxConns)
	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

// Addr returns the bound listener address, or nil if Listen hasn't
// succeeded yet.
func (s *RPCServer) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *RPCServer) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.stopCh:
				return
			default:
				s.log.Debug("accept failed", "err", err)
				continue
			}
		}
		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

func (s *RPCServer) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()
	r := bufio.NewReader(conn)
	w := bufio.NewWriter(conn)
	for {
		conn.SetReadDeadline(time.Now().Add(5 * time.Minute))
		req, err := ReadRequest(r)
		if err != nil {
			return
		}
		resp := s.dispatcher.HandleRPC(req)
		if err := WriteResponse(w, resp); err != nil {
			return
		}
		if err := w.Flush(); err != nil {
			return
		}
	}
}

// Close stops accepting connections and waits for in-flight handlers.
func (s *RPCServer) Close() error {
	close(s.stopCh)
	if s.listener != nil {
		s.listener.Close()
	}
	s.wg.Wait()
	return nil
}

// WriteRequest and ReadResponse are the client-side half of this wire
// format; pkg/cyclonesdk dials the listener Listen opens and speaks
// this same framing directly against the exported Request/Response
// types, without needing its own protocol package.

// WriteRequest writes a framed Request to w.
func WriteRequest(w io.Writer, req Request) error {
	return writeFramed(w, req)
}

// ReadRequest reads a framed Request from r.
func ReadRequest(r io.Reader) (Request, error) {
	var req Request
	err := readFramed(r, &req)
	return req, err
}

// WriteResponse writes a framed Response to w.
func WriteResponse(w io.Writer, resp Response) error {
	return writeFramed(w, resp)
}

// ReadResponse reads a framed Response from r.
func ReadResponse(r io.Reader) (Response, error) {
	var resp Response
	err := readFramed(r, &resp)
	return resp, err
}

func writeFramed(w io.Writer, v any) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return err
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(buf.Len()))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(buf.Bytes())
	return err
}

func readFramed(r io.Reader, v any) error {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return err
	}
	return gob.NewDecoder(bytes.NewReader(payload)).Decode(v)
}
