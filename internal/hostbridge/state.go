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

package hostbridge

import (
	"encoding/binary"
	"os"
	"sync"

	"github.com/cyclone-consensus/cyclone/internal/cyclerr"
)

// voteState persists {current_term, voted_for}: the two fields of
// PersistentState that live outside the circular log. Writes are
// flushed and synced before returning, since Raft must not grant or
// cast a vote, nor start an election, on state that could vanish in a
// crash.
type voteState struct {
	mu   sync.Mutex
	file *os.File
}

const voteStateSize = 16 // term (8) + voted_for (8, int64 bit pattern; -1 means no vote)

func openVoteState(path string) (*voteState, uint64, int64, error) {
	if path == "" {
		return &voteState{}, 0, -1, nil
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, 0, 0, cyclerr.PersistFailed(err).WithDetail("opening vote state file " + path)
	}
	vs := &voteState{file: f}
	info, err := f.Stat()
	if err != nil {
		return nil, 0, 0, cyclerr.PersistFailed(err)
	}
	if info.Size() == 0 {
		if err := vs.write(0, -1); err != nil {
			return nil, 0, 0, err
		}
		return vs, 0, -1, nil
	}
	var buf [voteStateSize]byte
	if _, err := f.ReadAt(buf[:], 0); err != nil {
		return nil, 0, 0, cyclerr.PersistFailed(err)
	}
	term := binary.BigEndian.Uint64(buf[0:8])
	votedFor := int64(binary.BigEndian.Uint64(buf[8:16]))
	return vs, term, votedFor, nil
}

func (vs *voteState) write(term uint64, votedFor int64) error {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	if vs.file == nil {
		return nil
	}
	var buf [voteStateSize]byte
	binary.BigEndian.PutUint64(buf[0:8], term)
	binary.BigEndian.PutUint64(buf[8:16], uint64(votedFor))
	if _, err := vs.file.WriteAt(buf[:], 0); err != nil {
		return cyclerr.PersistFailed(err)
	}
	return vs.file.Sync()
}

func (vs *voteState) close() error {
	if vs.file == nil {
		return nil
	}
	return vs.file.Close()
}
