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

package bootstrap

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"time"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/sync/singleflight"

	"github.com/cyclone-consensus/cyclone/internal/compression"
	"github.com/cyclone-consensus/cyclone/internal/cyclerr"
	"github.com/cyclone-consensus/cyclone/internal/hostbridge"
)

// checkpointCompressor compresses snapshot payloads before they cross
// the wire to a late-joining peer. Zstd gives the best ratio of the
// three wired algorithms, which matters most here since a snapshot can
// be the entire application state.
var checkpointCompressor = compression.NewCompressor(compression.Config{
	Algorithm: compression.AlgorithmZstd,
	Level:     compression.LevelDefault,
	MinSize:   256,
})

// checkpoint is the wire payload exchanged between a late-joining
// (non-active) replica and an active peer it asks to image-build from:
// the application-level snapshot plus the Raft position it was taken at,
// so the joiner can seed its term before it starts tailing new entries.
// Snapshot holds the application snapshot as checkpointCompressor wraps
// it (zstd, or AlgorithmNone below the MinSize floor); the checksum is
// taken over those wrapped bytes as they travel on the wire.
type checkpoint struct {
	Term     uint64
	Index    uint64
	Snapshot []byte
	Checksum [32]byte
}

func newCheckpoint(term, index uint64, snapshot []byte) (checkpoint, error) {
	compressed, err := checkpointCompressor.Compress(snapshot)
	if err != nil {
		return checkpoint{}, fmt.Errorf("checkpoint: compress snapshot: %w", err)
	}
	return checkpoint{Term: term, Index: index, Snapshot: compressed, Checksum: blake2b.Sum256(compressed)}, nil
}

func (c checkpoint) verify() error {
	got := blake2b.Sum256(c.Snapshot)
	if got != c.Checksum {
		return cyclerr.ChecksumMismatch(fmt.Sprintf("%x", c.Checksum), fmt.Sprintf("%x", got))
	}
	return nil
}

// decompressedSnapshot reverses the compression newCheckpoint applied,
// returning the raw bytes an Application.Restore expects. Small
// snapshots travel under AlgorithmNone (Compress's MinSize floor), so
// the algorithm actually used is read back from the wrapper byte rather
// than assumed to be zstd.
func (c checkpoint) decompressedSnapshot() ([]byte, error) {
	if len(c.Snapshot) < 1 {
		return nil, fmt.Errorf("checkpoint: empty snapshot payload")
	}
	return checkpointCompressor.Decompress(c.Snapshot, compression.Algorithm(c.Snapshot[0]))
}

func encodeCheckpoint(c checkpoint) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(c); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeCheckpoint(b []byte) (checkpoint, error) {
	var c checkpoint
	err := gob.NewDecoder(bytes.NewReader(b)).Decode(&c)
	return c, err
}

// checkpointServer answers image-build requests from late-joining peers.
// Concurrent requests arriving while a checkpoint is being assembled
// collapse onto one singleflight.Group call, so N simultaneous joiners
// don't each force a fresh application snapshot.
type checkpointServer struct {
	app   Application
	raft  *raftStatusSource
	group singleflight.Group
}

// raftStatusSource is the minimal view of a raftcore.Node the checkpoint
// server needs: the term and index its current application state
// reflects.
type raftStatusSource struct {
	term  func() uint64
	index func() uint64
}

func (s *checkpointServer) handle(_ []byte) []byte {
	v, _, _ := s.group.Do("checkpoint", func() (any, error) {
		cp, err := newCheckpoint(s.raft.term(), s.raft.index(), s.app.Snapshot())
		if err != nil {
			return nil, err
		}
		return encodeCheckpoint(cp)
	})
	out, _ := v.([]byte)
	return out
}

// requestCheckpointFrom asks peer masterID for a checkpoint over the
// persistent Peer that peers already holds for it, used once at boot
// before this node starts tailing the log. The timeout argument is not
// used; the request runs under peers' own request timeout.
func requestCheckpointFrom(peers *hostbridge.TCPPeers, masterID uint64, timeout time.Duration) (checkpoint, error) {
	_ = timeout
	raw, err := peers.RequestCheckpoint(masterID, nil)
	if err != nil {
		return checkpoint{}, cyclerr.BootstrapFailed("checkpoint request failed", err)
	}
	cp, err := decodeCheckpoint(raw)
	if err != nil {
		return checkpoint{}, cyclerr.BootstrapFailed("checkpoint decode failed", err)
	}
	if err := cp.verify(); err != nil {
		return checkpoint{}, err
	}
	return cp, nil
}
