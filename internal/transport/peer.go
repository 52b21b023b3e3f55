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
	"bytes"
	"encoding/gob"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/cyclone-consensus/cyclone/internal/cyclerr"
	"github.com/cyclone-consensus/cyclone/internal/logging"
	"github.com/cyclone-consensus/cyclone/internal/raftcore"
)

// Peer is a persistent, reconnecting outbound connection to one other
// replica, used to carry Raft RPCs.
type Peer struct {
	id   uint64
	addr string
	log  *logging.Logger

	mu   sync.Mutex
	conn net.Conn
	w    *bufio.Writer
	r    *bufio.Reader

	dialTimeout time.Duration
}

// NewPeer constructs a Peer that dials addr lazily, on first send. id is
// used only to annotate errors.
func NewPeer(id uint64, addr string) *Peer {
	return &Peer{id: id, addr: addr, log: logging.NewLogger("transport.peer"), dialTimeout: 500 * time.Millisecond}
}

func (p *Peer) ensureConn() error {
	if p.conn != nil {
		return nil
	}
	conn, err := net.DialTimeout("tcp", p.addr, p.dialTimeout)
	if err != nil {
		return cyclerr.TransportLoss(p.id, err).WithDetail("dialing " + p.addr)
	}
	p.conn = conn
	p.w = bufio.NewWriter(conn)
	p.r = bufio.NewReader(conn)
	return nil
}

func (p *Peer) drop() {
	if p.conn != nil {
		p.conn.Close()
		p.conn, p.w, p.r = nil, nil, nil
	}
}

// roundTrip sends a framed request and waits for exactly one framed
// response, reconnecting once on any I/O error before giving up.
func (p *Peer) roundTrip(typ MsgType, payload []byte, timeout time.Duration) (MsgType, []byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for attempt := 0; attempt < 2; attempt++ {
		if err := p.ensureConn(); err != nil {
			return 0, nil, err
		}
		p.conn.SetDeadline(time.Now().Add(timeout))
		if err := writeFrame(p.w, typ, payload); err == nil {
			if err := p.w.Flush(); err == nil {
				rt, rp, err := readFrame(p.r)
				if err == nil {
					return rt, rp, nil
				}
			}
		}
		p.drop()
	}
	return 0, nil, cyclerr.TransportLoss(p.id, fmt.Errorf("exhausted retries to %s", p.addr))
}

func encodeGob(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeGob(b []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(b)).Decode(v)
}

// SendRequestVote performs the RequestVote RPC against this peer.
func (p *Peer) SendRequestVote(msg *raftcore.RequestVoteMsg, timeout time.Duration) (*raftcore.RequestVoteResp, error) {
	payload, err := encodeGob(msg)
	if err != nil {
		return nil, err
	}
	_, rp, err := p.roundTrip(MsgRequestVote, payload, timeout)
	if err != nil {
		return nil, err
	}
	var resp raftcore.RequestVoteResp
	if err := decodeGob(rp, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SendAppendEntries performs the AppendEntries RPC against this peer,
// truncating the entry batch to fit MaxMessageSize if necessary and
// reporting how many entries were actually sent.
func (p *Peer) SendAppendEntries(msg *raftcore.AppendEntriesMsg, timeout time.Duration) (*raftcore.AppendEntriesResp, int, error) {
	entries := msg.Entries
	for {
		trial := *msg
		trial.Entries = entries
		payload, err := encodeGob(&trial)
		if err != nil {
			return nil, 0, err
		}
		if len(payload) <= MaxMessageSize || len(entries) <= 1 {
			_, rp, err := p.roundTrip(MsgAppendEntries, payload, timeout)
			if err != nil {
				return nil, 0, err
			}
			var resp raftcore.AppendEntriesResp
			if err := decodeGob(rp, &resp); err != nil {
				return nil, 0, err
			}
			return &resp, len(entries), nil
		}
		entries = entries[:len(entries)/2]
	}
}

// SendCheckpointRequest asks this peer for an image-build checkpoint,
// used by a late-joining replica to bootstrap without replaying a log
// it was never part of.
func (p *Peer) SendCheckpointRequest(payload []byte, timeout time.Duration) ([]byte, error) {
	_, rp, err := p.roundTrip(MsgCheckpointRequest, payload, timeout)
	if err != nil {
		return nil, err
	}
	return rp, nil
}

// Close releases the peer's connection, if any.
func (p *Peer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.drop()
	return nil
}
