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

import "encoding/binary"

// envelope is what the dispatcher actually proposes to RaftCore: the
// client's request tagged with the global transaction id the leader
// assigned it. The replication/pop/apply callbacks all decode this same
// structure back out of the committed entry's payload, exactly
// mirroring what the leader put in — Raft itself never looks inside it.
type envelope struct {
	clientID   uint64
	clientTxid uint64
	globalTxid uint64
	payload    []byte
}

const envelopeHeaderSize = 8 + 8 + 8

func encodeEnvelope(e envelope) []byte {
	buf := make([]byte, envelopeHeaderSize+len(e.payload))
	binary.BigEndian.PutUint64(buf[0:8], e.clientID)
	binary.BigEndian.PutUint64(buf[8:16], e.clientTxid)
	binary.BigEndian.PutUint64(buf[16:24], e.globalTxid)
	copy(buf[envelopeHeaderSize:], e.payload)
	return buf
}

func decodeEnvelope(b []byte) envelope {
	return envelope{
		clientID:   binary.BigEndian.Uint64(b[0:8]),
		clientTxid: binary.BigEndian.Uint64(b[8:16]),
		globalTxid: binary.BigEndian.Uint64(b[16:24]),
		payload:    b[envelopeHeaderSize:],
	}
}
