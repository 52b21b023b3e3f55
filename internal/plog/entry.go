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

package plog

import (
	"encoding/binary"
	"fmt"

	"github.com/cyclone-consensus/cyclone/internal/cyclerr"
)

// EntryType distinguishes ordinary client commands from the
// single-server membership change entries.
type EntryType uint8

const (
	EntryUser EntryType = iota
	EntryAddNonVoting
	EntryAddVoting
	EntryRemove
)

func (t EntryType) String() string {
	switch t {
	case EntryUser:
		return "USER"
	case EntryAddNonVoting:
		return "ADD_NONVOTING"
	case EntryAddVoting:
		return "ADD_VOTING"
	case EntryRemove:
		return "REMOVE"
	default:
		return "UNKNOWN"
	}
}

// Header is the fixed-size record cyclone appends before an entry's
// payload. AppendEntry sets PayloadRef to the payload's ring offset
// before the header is staged, standing in for the "payload_ref rewrite
// trick" the original implementation uses so later reads are
// offset-based rather than needing to reconstruct position from size.
type Header struct {
	Term       uint64
	Index      uint64
	Type       EntryType
	PayloadLen uint32
	PayloadRef uint64
}

const headerEncodedSize = 8 + 8 + 1 + 4 + 8

func (h Header) encode() []byte {
	b := make([]byte, headerEncodedSize)
	binary.BigEndian.PutUint64(b[0:8], h.Term)
	binary.BigEndian.PutUint64(b[8:16], h.Index)
	b[16] = byte(h.Type)
	binary.BigEndian.PutUint32(b[17:21], h.PayloadLen)
	binary.BigEndian.PutUint64(b[21:29], h.PayloadRef)
	return b
}

func decodeHeader(b []byte) Header {
	return Header{
		Term:       binary.BigEndian.Uint64(b[0:8]),
		Index:      binary.BigEndian.Uint64(b[8:16]),
		Type:       EntryType(b[16]),
		PayloadLen: binary.BigEndian.Uint32(b[17:21]),
		PayloadRef: binary.BigEndian.Uint64(b[21:29]),
	}
}

// Entry is a fully materialized log record: a header plus its payload
// bytes, as handed to and from HostBridge.
type Entry struct {
	Term    uint64
	Index   uint64
	Type    EntryType
	Payload []byte
}

// EntryRecord is the pair of ring offsets an appended Entry occupies:
// one for its header record, one for its payload record. Both removal
// primitives (PollHeadEntry/PopTailEntry) consume exactly this pair.
type EntryRecord struct {
	HeaderOffset  uint64
	PayloadOffset uint64
}

// AppendEntry stages the header-then-payload pair for e as two records
// inside tx, rewriting the header's PayloadRef to the payload's ring
// offset before the header bytes are staged — the "payload_ref rewrite
// trick" grounded in the original's offer sequence — preserving single
// enclosing-transaction atomicity: either both records land, or (on a
// LogFull) neither does, because the caller aborts the whole Tx on any
// error returned here.
func AppendEntry(tx *Tx, e Entry) (EntryRecord, error) {
	if tx.committed || tx.aborted {
		return EntryRecord{}, fmt.Errorf("plog: tx already closed")
	}

	headerRecLen := uint64(lengthPrefixSize + headerEncodedSize)
	payloadRecLen := uint64(lengthPrefixSize + len(e.Payload))
	if headerRecLen+payloadRecLen > tx.log.cap-tx.used {
		return EntryRecord{}, cyclerr.LogFull(int(headerRecLen+payloadRecLen), int(tx.log.cap-tx.used))
	}

	headerOffset := (tx.tail + lengthPrefixSize) % tx.log.cap
	payloadOffset := (tx.tail + headerRecLen + lengthPrefixSize) % tx.log.cap

	h := Header{Term: e.Term, Index: e.Index, Type: e.Type, PayloadLen: uint32(len(e.Payload)), PayloadRef: payloadOffset}

	if _, err := tx.Append(h.encode()); err != nil {
		return EntryRecord{}, err
	}
	if _, err := tx.Append(e.Payload); err != nil {
		return EntryRecord{}, err
	}
	return EntryRecord{HeaderOffset: headerOffset, PayloadOffset: payloadOffset}, nil
}

// PollHeadEntry removes the oldest logical entry: its header record then
// its payload record, as one pair within tx.
func PollHeadEntry(tx *Tx) error {
	if err := tx.PollHead(); err != nil {
		return err
	}
	return tx.PollHead()
}

// PopTailEntry removes the most recently appended logical entry: the
// payload record then the header record (reverse append order), as one
// pair within tx.
func PopTailEntry(tx *Tx) error {
	if err := tx.PopTail(); err != nil {
		return err
	}
	return tx.PopTail()
}

func decodeEntry(headerBytes, payload []byte) Entry {
	h := decodeHeader(headerBytes)
	return Entry{Term: h.Term, Index: h.Index, Type: h.Type, Payload: payload}
}

// ReadEntryAt reconstructs the logical entry whose header record starts
// at headerOffset, following its PayloadRef to fetch the payload bytes.
func ReadEntryAt(cl *CircularLog, headerOffset uint64) (Entry, EntryRecord, error) {
	hb, err := cl.Read(headerOffset, headerEncodedSize)
	if err != nil {
		return Entry{}, EntryRecord{}, err
	}
	h := decodeHeader(hb)
	payload, err := cl.Read(h.PayloadRef, int(h.PayloadLen))
	if err != nil {
		return Entry{}, EntryRecord{}, err
	}
	return decodeEntry(hb, payload), EntryRecord{HeaderOffset: headerOffset, PayloadOffset: h.PayloadRef}, nil
}
