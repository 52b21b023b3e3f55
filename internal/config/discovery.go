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

package config

import (
	"fmt"
	"time"

	"github.com/hashicorp/mdns"
)

// Advertise registers this node on the local network via mDNS so peers
// running DiscoverPeers can find it without a hand-maintained
// active.replicas list. The returned Server must be shut down when the
// node stops advertising.
func Advertise(service, nodeName string, port int) (*mdns.Server, error) {
	info := []string{fmt.Sprintf("port=%d", port)}
	svc, err := mdns.NewMDNSService(nodeName, service, "", "", port, nil, info)
	if err != nil {
		return nil, fmt.Errorf("config: building mdns service: %w", err)
	}
	server, err := mdns.NewServer(&mdns.Config{Zone: svc})
	if err != nil {
		return nil, fmt.Errorf("config: starting mdns server: %w", err)
	}
	return server, nil
}

// DiscoverPeers browses the local network for service for timeout and
// returns each responder's address, letting an operator populate
// active.replicas by discovery instead of by hand.
func DiscoverPeers(service string, timeout time.Duration) ([]string, error) {
	entries := make(chan *mdns.ServiceEntry, 16)
	done := make(chan struct{})
	var addrs []string
	go func() {
		for e := range entries {
			addrs = append(addrs, fmt.Sprintf("%s:%d", e.AddrV4, e.Port))
		}
		close(done)
	}()

	params := mdns.DefaultParams(service)
	params.Timeout = timeout
	params.Entries = entries
	if err := mdns.Query(params); err != nil {
		close(entries)
		return nil, fmt.Errorf("config: mdns query for %s: %w", service, err)
	}
	close(entries)
	<-done
	return addrs, nil
}
