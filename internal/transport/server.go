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

package transport

import (
	"bufio"
	"net"
	"sync"
	"time"

	"golang.org/x/net/netutil"

	"github.com/cyclone-consensus/cyclone/internal/logging"
	"github.com/cyclone-consensus/cyclone/internal/raftcore"
)

// Router is implemented by the local Raft node (via hostbridge) to
// answer inbound RPCs arriving over the wire.
type Router interface {
	HandleRequestVote(msg *raftcore.RequestVoteMsg) *raftcore.RequestVoteResp
	HandleAppendEntries(msg *raftcore.AppendEntriesMsg) *raftcore.AppendEntriesResp
	HandleCheckpointRequest(payload []byte) []byte
}

// Server accepts inbound peer connections and dispatches framed RPCs to
// a Router.
type Server struct {
	log      *logging.Logger
	router   Router
	listener net.Listener

	wg     sync.WaitGroup
	stopCh chan struct{}
}

// NewServer constructs a Server bound to router; call Listen to start
// accepting connections.
func NewServer(router Router) *Server {
	return &Server{log: logging.NewLogger("transport.server"), router: router, stopCh: make(chan struct{})}
}

// Listen binds addr and starts accepting connections, capping concurrent
// connections at maxConns via golang.org/x/net/netutil so a burst of
// reconnecting peers cannot exhaust file descriptors.
func (s *Server) Listen(addr string, maxConns int) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.listener = netutil.LimitListener(ln, maxConns)
	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

func (s *Server) acceptLoop() {
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

func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()
	r := bufio.NewReader(conn)
	w := bufio.NewWriter(conn)
	for {
		conn.SetReadDeadline(time.Now().Add(30 * time.Second))
		typ, payload, err := readFrame(r)
		if err != nil {
			return
		}
		respType, resp, err := s.dispatch(typ, payload)
		if err != nil {
			s.log.Debug("dispatch failed", "type", typ, "err", err)
			return
		}
		if err := writeFrame(w, respType, resp); err != nil {
			return
		}
		if err := w.Flush(); err != nil {
			return
		}
	}
}

func (s *Server) dispatch(typ MsgType, payload []byte) (MsgType, []byte, error) {
	switch typ {
	case MsgRequestVote:
		var msg raftcore.RequestVoteMsg
		if err := decodeGob(payload, &msg); err != nil {
			return 0, nil, err
		}
		resp := s.router.HandleRequestVote(&msg)
		out, err := encodeGob(resp)
		return MsgRequestVoteResp, out, err
	case MsgAppendEntries:
		var msg raftcore.AppendEntriesMsg
		if err := decodeGob(payload, &msg); err != nil {
			return 0, nil, err
		}
		resp := s.router.HandleAppendEntries(&msg)
		out, err := encodeGob(resp)
		return MsgAppendEntriesResp, out, err
	case MsgCheckpointRequest:
		out := s.router.HandleCheckpointRequest(payload)
		return MsgCheckpointResponse, out, nil
	default:
		var resp struct{}
		out, err := encodeGob(resp)
		return typ, out, err
	}
}

// Close stops accepting connections and waits for in-flight handlers.
func (s *Server) Close() error {
	close(s.stopCh)
	if s.listener != nil {
		s.listener.Close()
	}
	s.wg.Wait()
	return nil
}
