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

import "encoding/binary"

// HeadOffset/TailOffset/Used expose the ring's raw bookkeeping so a
// caller can walk every logical entry still resident in the ring on
// reopen, the way cyclone_boot's recovery loop does against the
// original pmem-backed log.
func (cl *CircularLog) HeadOffset() uint64 {
	cl.mu.RLock()
	defer cl.mu.RUnlock()
	return cl.head
}

func (cl *CircularLog) TailOffset() uint64 {
	cl.mu.RLock()
	defer cl.mu.RUnlock()
	return cl.tail
}

func (cl *CircularLog) Used() uint64 {
	cl.mu.RLock()
	defer cl.mu.RUnlock()
	return cl.used
}

// ReplayEntries walks every logical entry currently resident in the
// ring, from head to tail, in append order. It is used once at boot
// (before any callbacks are registered and before the Raft state
// machine starts) to rebuild in-memory Raft log state from what
// actually survived on disk.
func ReplayEntries(cl *CircularLog) ([]Entry, []EntryRecord, error) {
	ptr := cl.HeadOffset()
	tail := cl.TailOffset()

	var entries []Entry
	var records []EntryRecord
	for ptr != tail {
		headerLenBuf, err := cl.Read(ptr, lengthPrefixSize)
		if err != nil {
			return nil, nil, err
		}
		headerLen := binary.BigEndian.Uint32(headerLenBuf)
		headerOffset := cl.Skip(ptr, lengthPrefixSize)
		headerBytes, err := cl.Read(headerOffset, int(headerLen))
		if err != nil {
			return nil, nil, err
		}
		h := decodeHeader(headerBytes)
		ptr = cl.Skip(headerOffset, int(headerLen))

		payloadLenBuf, err := cl.Read(ptr, lengthPrefixSize)
		if err != nil {
			return nil, nil, err
		}
		payloadLen := binary.BigEndian.Uint32(payloadLenBuf)
		payloadOffset := cl.Skip(ptr, lengthPrefixSize)
		payload, err := cl.Read(payloadOffset, int(payloadLen))
		if err != nil {
			return nil, nil, err
		}
		ptr = cl.Skip(payloadOffset, int(payloadLen))

		entries = append(entries, Entry{Term: h.Term, Index: h.Index, Type: h.Type, Payload: payload})
		records = append(records, EntryRecord{HeaderOffset: headerOffset, PayloadOffset: h.PayloadRef})
	}
	return entries, records, nil
}
