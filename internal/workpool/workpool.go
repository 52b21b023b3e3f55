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
Package workpool runs a fixed number of worker goroutines against a
buffered job queue, for host-side work that shouldn't block the Raft
goroutine: checkpoint snapshot compression, audit log export, and any
other background task a node needs to run off to the side.

Jobs are arbitrary func() error values rather than a fixed request
struct — there is no single "page I/O request" shape to generalize the
way the teacher's async disk I/O did, just independent units of work
that either succeed or report why they didn't.
*/
package workpool

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// Job is a unit of work submitted to a Pool.
type Job func() error

// Config configures a Pool.
type Config struct {
	NumWorkers int
	QueueSize  int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{NumWorkers: 4, QueueSize: 1024}
}

// Stats reports how many jobs a Pool has processed.
type Stats struct {
	Completed uint64
	Failed    uint64
}

// Pool runs NumWorkers goroutines pulling from a shared, buffered job
// queue until Close is called or a job returns an error.
type Pool struct {
	cfg   Config
	jobCh chan Job
	eg    *errgroup.Group
	stop  chan struct{}
	once  sync.Once

	completed atomic.Uint64
	failed    atomic.Uint64
}

// New constructs and starts a Pool. Zero-value fields in cfg fall back
// to DefaultConfig.
func New(cfg Config) *Pool {
	def := DefaultConfig()
	if cfg.NumWorkers <= 0 {
		cfg.NumWorkers = def.NumWorkers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}

	eg, ctx := errgroup.WithContext(context.Background())
	p := &Pool{
		cfg:   cfg,
		jobCh: make(chan Job, cfg.QueueSize),
		eg:    eg,
		stop:  make(chan struct{}),
	}
	for i := 0; i < cfg.NumWorkers; i++ {
		p.eg.Go(func() error { return p.worker(ctx) })
	}
	return p
}

func (p *Pool) worker(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case job, ok := <-p.jobCh:
			if !ok {
				return nil
			}
			if err := job(); err != nil {
				p.failed.Add(1)
				return err
			}
			p.completed.Add(1)
		}
	}
}

// Submit enqueues job, blocking until there's room in the queue or the
// pool has started shutting down, in which case it returns false and
// the job is dropped.
func (p *Pool) Submit(job Job) bool {
	select {
	case p.jobCh <- job:
		return true
	case <-p.stop:
		return false
	}
}

// TrySubmit enqueues job without blocking, reporting whether the queue
// had room.
func (p *Pool) TrySubmit(job Job) bool {
	select {
	case p.jobCh <- job:
		return true
	default:
		return false
	}
}

// Close stops accepting new work, waits for every in-flight and already
// queued job to finish, and returns the first job error encountered, if
// any — the one any worker's errgroup return propagates.
func (p *Pool) Close() error {
	p.once.Do(func() {
		close(p.stop)
		close(p.jobCh)
	})
	return p.eg.Wait()
}

// Stats reports completed/failed job counts so far.
func (p *Pool) Stats() Stats {
	return Stats{Completed: p.completed.Load(), Failed: p.failed.Load()}
}
