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
	"github.com/cyclone-consensus/cyclone/internal/raftcore"
)

// NodeRouter adapts a raftcore.Node plus a checkpoint handler to
// transport.Router, so the transport server can dispatch inbound frames
// straight into the state machine without depending on raftcore itself.
type NodeRouter struct {
	Node             *raftcore.Node
	CheckpointServer func(payload []byte) []byte
}

func (r *NodeRouter) HandleRequestVote(msg *raftcore.RequestVoteMsg) *raftcore.RequestVoteResp {
	return r.Node.HandleRequestVote(msg)
}

func (r *NodeRouter) HandleAppendEntries(msg *raftcore.AppendEntriesMsg) *raftcore.AppendEntriesResp {
	return r.Node.HandleAppendEntries(msg)
}

func (r *NodeRouter) HandleCheckpointRequest(payload []byte) []byte {
	if r.CheckpointServer == nil {
		return nil
	}
	return r.CheckpointServer(payload)
}
