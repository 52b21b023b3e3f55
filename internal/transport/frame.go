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
Package transport carries Raft RPCs and control-channel messages between
cyclone replicas over plain TCP.

Wire Format:
============

	+--------+--------+--------+--------+--------+--------+...
	| Magic  | Version| MsgType| Flags  |    Length (4B)   | Payload...
	+--------+--------+--------+--------+--------+--------+...

	- Magic (1 byte): 0xC7
	- Version (1 byte): 0x01
	- MsgType (1 byte): identifies the RPC carried in Payload
	- Flags (1 byte): reserved, always 0x00 on the wire today
	- Length (4 bytes): payload length, big-endian
	- Payload: the gob-encoded RPC body

Every connection is peer-to-peer and long-lived: once dialed, a
connection carries a stream of request/response frames for the
lifetime of the peer relationship, reconnected by the caller on error.
*/
package transport

import (
	"encoding/binary"
	"errors"
	"io"
)

const (
	magicByte      byte = 0xC7
	protocolVersion byte = 0x01

	// MaxMessageSize bounds a single frame; AppendEntries batches are
	// truncated by the caller to fit well under this.
	MaxMessageSize = 8 * 1024 * 1024

	headerSize = 8
)

// MsgType identifies the RPC carried by a frame.
type MsgType byte

const (
	MsgRequestVote MsgType = iota + 1
	MsgRequestVoteResp
	MsgAppendEntries
	MsgAppendEntriesResp
	MsgCheckpointRequest
	MsgCheckpointResponse
)

type header struct {
	magic   byte
	version byte
	typ     MsgType
	flags   byte
	length  uint32
}

var (
	ErrInvalidMagic    = errors.New("transport: invalid magic byte")
	ErrInvalidVersion  = errors.New("transport: unsupported protocol version")
	ErrMessageTooLarge = errors.New("transport: message exceeds maximum size")
)

func writeHeader(w io.Writer, h header) error {
	buf := make([]byte, headerSize)
	buf[0] = h.magic
	buf[1] = h.version
	buf[2] = byte(h.typ)
	buf[3] = h.flags
	binary.BigEndian.PutUint32(buf[4:], h.length)
	_, err := w.Write(buf)
	return err
}

func readHeader(r io.Reader) (header, error) {
	buf := make([]byte, headerSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return header{}, err
	}
	h := header{
		magic:   buf[0],
		version: buf[1],
		typ:     MsgType(buf[2]),
		flags:   buf[3],
		length:  binary.BigEndian.Uint32(buf[4:]),
	}
	if h.magic != magicByte {
		return header{}, ErrInvalidMagic
	}
	if h.version != protocolVersion {
		return header{}, ErrInvalidVersion
	}
	if h.length > MaxMessageSize {
		return header{}, ErrMessageTooLarge
	}
	return h, nil
}

// writeFrame writes a single framed message to w.
func writeFrame(w io.Writer, typ MsgType, payload []byte) error {
	h := header{magic: magicByte, version: protocolVersion, typ: typ, length: uint32(len(payload))}
	if err := writeHeader(w, h); err != nil {
		return err
	}
	if len(payload) == 0 {
		return nil
	}
	_, err := w.Write(payload)
	return err
}

// readFrame reads a single framed message from r.
func readFrame(r io.Reader) (MsgType, []byte, error) {
	h, err := readHeader(r)
	if err != nil {
		return 0, nil, err
	}
	if h.length == 0 {
		return h.typ, nil, nil
	}
	payload := make([]byte, h.length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, err
	}
	return h.typ, payload, nil
}
