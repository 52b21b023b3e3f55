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
	"encoding/binary"
	"os"
	"sync"

	"github.com/cyclone-consensus/cyclone/internal/cyclerr"
)

// ClientRecord is the durable per-client state the dispatcher keeps:
// the highest transaction the client's command has actually been
// applied through, and that command's return value (so a client that
// retries REQ_STATUS after a crash gets the same answer back).
type ClientRecord struct {
	CommittedTxid   uint64
	LastReturnValue []byte
}

// Store persists every client's ClientRecord in its own pmem pool in the
// original design; here it is one file holding a sequence of
// variable-length records, rewritten in full on every SetCommitted and
// read back into memory when the store is reopened.
type Store struct {
	mu      sync.Mutex
	path    string
	file    *os.File
	records map[uint64]ClientRecord
}

// OpenStore opens or creates the dispatcher's client-state file. An
// empty path yields a purely in-memory store, used by tests.
func OpenStore(path string) (*Store, error) {
	s := &Store{path: path, records: make(map[uint64]ClientRecord)}
	if path == "" {
		return s, nil
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, cyclerr.PersistFailed(err).WithDetail("opening dispatcher state " + path)
	}
	s.file = f
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// Get returns client's current record, the zero value if never seen.
func (s *Store) Get(clientID uint64) ClientRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records[clientID]
}

// SetCommitted durably records that clientID's command at txid has been
// applied, with retValue as its reply payload. This is the single
// transactional unit the original implementation's event_executed +
// event_committed pair forms: the apply result and the bookkeeping
// update land together, or (on a write failure) neither is visible to a
// later Get.
func (s *Store) SetCommitted(clientID, txid uint64, retValue []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, had := s.records[clientID]
	rec := old
	if txid <= rec.CommittedTxid && rec.CommittedTxid != 0 {
		return nil
	}
	rec.CommittedTxid = txid
	rec.LastReturnValue = append([]byte(nil), retValue...)
	s.records[clientID] = rec
	if err := s.persistLocked(); err != nil {
		if had {
			s.records[clientID] = old
		} else {
			delete(s.records, clientID)
		}
		return err
	}
	return nil
}

// Snapshot returns the committed_txid of every client known to the
// store, used by the dispatcher to reseed seen_client_txid on boot.
func (s *Store) Snapshot() map[uint64]uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[uint64]uint64, len(s.records))
	for id, rec := range s.records {
		out[id] = rec.CommittedTxid
	}
	return out
}

func (s *Store) Close() error {
	if s.file == nil {
		return nil
	}
	return s.file.Close()
}

// On-disk layout: a sequence of records, each
// [clientID(8)][committedTxid(8)][valueLen(4)][value...], rewritten in
// full on every SetCommitted. Dispatcher client counts are small enough
// (bounded by MAX_CLIENTS in the original design) that a full rewrite
// per commit is cheap and keeps recovery trivially simple: read to EOF,
// last record per client id wins.
func (s *Store) persistLocked() error {
	if s.file == nil {
		return nil
	}
	if err := s.file.Truncate(0); err != nil {
		return cyclerr.PersistFailed(err)
	}
	var offset int64
	for id, rec := range s.records {
		hdr := make([]byte, 20)
		binary.BigEndian.PutUint64(hdr[0:8], id)
		binary.BigEndian.PutUint64(hdr[8:16], rec.CommittedTxid)
		binary.BigEndian.PutUint32(hdr[16:20], uint32(len(rec.LastReturnValue)))
		if _, err := s.file.WriteAt(hdr, offset); err != nil {
			return cyclerr.PersistFailed(err)
		}
		offset += int64(len(hdr))
		if len(rec.LastReturnValue) > 0 {
			if _, err := s.file.WriteAt(rec.LastReturnValue, offset); err != nil {
				return cyclerr.PersistFailed(err)
			}
			offset += int64(len(rec.LastReturnValue))
		}
	}
	return s.file.Sync()
}

func (s *Store) load() error {
	info, err := s.file.Stat()
	if err != nil {
		return cyclerr.PersistFailed(err)
	}
	size := info.Size()
	var offset int64
	for offset+20 <= size {
		hdr := make([]byte, 20)
		if _, err := s.file.ReadAt(hdr, offset); err != nil {
			return cyclerr.PersistFailed(err)
		}
		id := binary.BigEndian.Uint64(hdr[0:8])
		txid := binary.BigEndian.Uint64(hdr[8:16])
		valLen := binary.BigEndian.Uint32(hdr[16:20])
		offset += 20
		var val []byte
		if valLen > 0 {
			val = make([]byte, valLen)
			if _, err := s.file.ReadAt(val, offset); err != nil {
				return cyclerr.PersistFailed(err)
			}
			offset += int64(valLen)
		}
		s.records[id] = ClientRecord{CommittedTxid: txid, LastReturnValue: val}
	}
	return nil
}
