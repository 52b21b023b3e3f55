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
Package cyclonesdk is the client-facing Go SDK for talking to a cyclone
cluster: it wraps the dispatcher's REQ_FN/REQ_STATUS wire protocol
(internal/dispatcher.Request/Response, framed per
internal/dispatcher.RPCServer) behind a single blocking Execute call, so
a caller never has to hand-roll the accept-PENDING-then-poll-STATUS
dance or leader rediscovery itself.

A Client identifies one logical caller (ClientID) against one replica
set. It tracks the next client_txid to use, the address it currently
believes is the leader, and the full set of known replica addresses to
fail over to when a dial fails or a reply redirects it — the same shape
the dispatch protocol's INVSRV reply exists to drive.
*/
package cyclonesdk

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/cyclone-consensus/cyclone/internal/cyclerr"
	"github.com/cyclone-consensus/cyclone/internal/dispatcher"
)

// Config describes how to reach a cluster and which client identity to
// present.
type Config struct {
	// ClientID uniquely identifies this caller to the dispatcher's
	// exactly-once gate. Callers that restart must reuse the same
	// ClientID to resume the sequencing the dispatcher remembers for
	// them.
	ClientID uint64

	// Peers maps a replica's node id to its client-facing RPC address
	// (dispatch.client_baseport on that replica). At least one entry
	// is required; Execute follows INVSRV redirects across whichever
	// of these addresses it knows about.
	Peers map[uint64]string

	// DialTimeout bounds connecting to a replica. Defaults to 5s.
	DialTimeout time.Duration

	// PollInterval is how long Execute waits between REQ_STATUS polls
	// while a request is PENDING. Defaults to 50ms.
	PollInterval time.Duration
}

func (c Config) dialTimeout() time.Duration {
	if c.DialTimeout > 0 {
		return c.DialTimeout
	}
	return 5 * time.Second
}

func (c Config) pollInterval() time.Duration {
	if c.PollInterval > 0 {
		return c.PollInterval
	}
	return 50 * time.Millisecond
}

// Client is a single logical caller's connection to a cyclone cluster.
// It is not safe for concurrent use from multiple goroutines — a
// caller that needs concurrency should use a Pool, which hands out one
// Client per ClientID.
type Client struct {
	mu sync.Mutex

	cfg        Config
	nextTxid   uint64
	leaderAddr string
	conn       net.Conn
}

// New constructs a Client against cfg, starting from an arbitrary known
// peer — the first REQ_FN either succeeds there (if it happens to be
// leader) or redirects via INVSRV.
func New(cfg Config) (*Client, error) {
	if len(cfg.Peers) == 0 {
		return nil, cyclerr.BootstrapFailed("cyclonesdk: no peer addresses configured", nil)
	}
	c := &Client{cfg: cfg, nextTxid: 1}
	for _, addr := range cfg.Peers {
		c.leaderAddr = addr
		break
	}
	return c, nil
}

// Execute submits payload as the caller's next command and blocks until
// it commits, returning the application's reply. It is safe to call
// again after a transient error: Execute never advances its notion of
// "next txid" unless the dispatcher actually accepted the request, so a
// retry after a dial failure resends the same txid and lands on the
// dispatcher's deduplication path rather than double-applying.
func (c *Client) Execute(ctx context.Context, payload []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	txid := c.nextTxid
	for {
		resp, err := c.roundTrip(dispatcher.Request{
			Code:       dispatcher.ReqFn,
			ClientID:   c.cfg.ClientID,
			ClientTxid: txid,
			Payload:    payload,
		})
		if err != nil {
			c.dropConn()
			if !c.tryNextPeer() {
				return nil, cyclerr.TransportLoss(0, err)
			}
			if waitErr := c.backoff(ctx); waitErr != nil {
				return nil, waitErr
			}
			continue
		}

		switch resp.Code {
		case dispatcher.RepPending:
			c.nextTxid = txid + 1
			return c.awaitComplete(ctx, txid)
		case dispatcher.RepInvSrv:
			if !c.followLeader(resp.LeaderID) {
				return nil, cyclerr.NotLeader(uint64(resp.LeaderID))
			}
			continue
		case dispatcher.RepInvTxid:
			// Our view of seen_client_txid is stale (e.g. a prior
			// process crashed mid-retry); resync to what the
			// dispatcher actually has and retry once.
			if resp.ClientTxid+1 == txid {
				return nil, cyclerr.InvalidTxid(resp.ClientTxid)
			}
			txid = resp.ClientTxid + 1
			continue
		default:
			return nil, cyclerr.InvalidTxid(txid)
		}
	}
}

// awaitComplete polls REQ_STATUS until the dispatcher reports COMPLETE,
// backing off at cfg.PollInterval between attempts.
func (c *Client) awaitComplete(ctx context.Context, txid uint64) ([]byte, error) {
	ticker := time.NewTicker(c.cfg.pollInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}

		resp, err := c.roundTrip(dispatcher.Request{
			Code:       dispatcher.ReqStatus,
			ClientID:   c.cfg.ClientID,
			ClientTxid: txid,
		})
		if err != nil {
			c.dropConn()
			if !c.tryNextPeer() {
				return nil, cyclerr.TransportLoss(0, err)
			}
			if waitErr := c.backoff(ctx); waitErr != nil {
				return nil, waitErr
			}
			continue
		}

		switch resp.Code {
		case dispatcher.RepComplete:
			return resp.Payload, nil
		case dispatcher.RepPending:
			continue
		case dispatcher.RepInvSrv:
			if !c.followLeader(resp.LeaderID) {
				return nil, cyclerr.NotLeader(uint64(resp.LeaderID))
			}
		default:
			return nil, cyclerr.InvalidTxid(txid)
		}
	}
}

// backoff waits one poll interval, or returns ctx's error if it is
// cancelled first — used between retries after a transport failure so a
// cluster that is briefly entirely unreachable doesn't spin the caller.
func (c *Client) backoff(ctx context.Context) error {
	timer := time.NewTimer(c.cfg.pollInterval())
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (c *Client) roundTrip(req dispatcher.Request) (dispatcher.Response, error) {
	if err := c.ensureConn(); err != nil {
		return dispatcher.Response{}, err
	}
	if err := dispatcher.WriteRequest(c.conn, req); err != nil {
		return dispatcher.Response{}, err
	}
	return dispatcher.ReadResponse(c.conn)
}

func (c *Client) ensureConn() error {
	if c.conn != nil {
		return nil
	}
	conn, err := net.DialTimeout("tcp", c.leaderAddr, c.cfg.dialTimeout())
	if err != nil {
		return err
	}
	c.conn = conn
	return nil
}

func (c *Client) dropConn() {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

// followLeader points the client at the address of leaderID, if known.
func (c *Client) followLeader(leaderID int64) bool {
	if leaderID < 0 {
		return false
	}
	addr, ok := c.cfg.Peers[uint64(leaderID)]
	if !ok {
		return false
	}
	c.dropConn()
	c.leaderAddr = addr
	return true
}

// tryNextPeer moves to an arbitrary other known peer after a transport
// failure, since the current leaderAddr has just proven unreachable.
func (c *Client) tryNextPeer() bool {
	for _, addr := range c.cfg.Peers {
		if addr != c.leaderAddr {
			c.leaderAddr = addr
			return true
		}
	}
	return false
}

// Close releases this client's underlying connection, if any.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dropConn()
	return nil
}
