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
	"fmt"
	"sync"
)

// Pool hands out one Client per ClientID, so a process that multiplexes
// several logical callers (e.g. a gateway fronting many end users) can
// reuse a connection per caller instead of opening one per request. A
// Client is not itself safe for concurrent use, so Pool serializes
// Acquire/Release the same way one would check out a single-writer
// handle — there is exactly one live Client per id at a time.
type Pool struct {
	base Config // Peers/DialTimeout/PollInterval shared by every client; ClientID is overridden per-id

	mu      sync.Mutex
	clients map[uint64]*Client
	inUse   map[uint64]bool
}

// NewPool constructs a Pool that mints Clients against base's Peers,
// DialTimeout, and PollInterval, with a distinct ClientID per caller.
func NewPool(base Config) *Pool {
	return &Pool{
		base:    base,
		clients: make(map[uint64]*Client),
		inUse:   make(map[uint64]bool),
	}
}

// Acquire returns the Client for clientID, creating it on first use.
// The caller must Release it when done before another goroutine can
// Acquire the same clientID.
func (p *Pool) Acquire(clientID uint64) (*Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.inUse[clientID] {
		return nil, fmt.Errorf("cyclonesdk: client %d already checked out", clientID)
	}

	c, ok := p.clients[clientID]
	if !ok {
		cfg := p.base
		cfg.ClientID = clientID
		var err error
		c, err = New(cfg)
		if err != nil {
			return nil, err
		}
		p.clients[clientID] = c
	}
	p.inUse[clientID] = true
	return c, nil
}

// Release returns a Client acquired via Acquire so another caller may
// acquire the same clientID.
func (p *Pool) Release(clientID uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.inUse, clientID)
}

// Stats reports how many distinct client identities this pool has ever
// minted a Client for, and how many are currently checked out.
type Stats struct {
	TotalClients int
	InUse        int
}

// Stats returns the pool's current occupancy.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{TotalClients: len(p.clients), InUse: len(p.inUse)}
}

// Close closes every Client this pool has ever created.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range p.clients {
		c.Close()
	}
	p.clients = make(map[uint64]*Client)
	p.inUse = make(map[uint64]bool)
	return nil
}
