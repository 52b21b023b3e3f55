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
Package config loads and validates a replica's INI-style configuration
file: cluster membership, PLog sizing, dispatch ports, and the ambient
logging/admin settings every node needs regardless of role.

Role is "standalone" for a single-node cluster, "master" for an active
(voting) replica, and "slave" for a non-active replica that image-builds
from MasterAddr before it can vote — see RAFT.md §4.6 for what
active/non-active actually means here; the three-way Role split is the
same shape the original single-writer config used, reused because it
already captures "this node votes" vs. "this node needs to catch up
from a peer" vs. "there is no cluster."
*/
package config

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

// Environment variable names consulted by LoadFromEnv, in override
// precedence above anything loaded from a file.
const (
	EnvPort          = "CYCLONE_PORT"
	EnvBinaryPort    = "CYCLONE_BINARY_PORT"
	EnvReplPort      = "CYCLONE_REPL_PORT"
	EnvRole          = "CYCLONE_ROLE"
	EnvDBPath        = "CYCLONE_DB_PATH"
	EnvMasterAddr    = "CYCLONE_MASTER_ADDR"
	EnvLogLevel      = "CYCLONE_LOG_LEVEL"
	EnvLogJSON       = "CYCLONE_LOG_JSON"
	EnvAdminPassword = "CYCLONE_ADMIN_PASSWORD"
)

var validLogLevels = map[string]bool{
	"debug": true, "info": true, "warn": true, "error": true,
}

var validRoles = map[string]bool{
	"standalone": true, "master": true, "slave": true,
}

// Config is a single replica's full configuration. Port/BinaryPort/
// ReplPort/Role/DBPath/MasterAddr/LogLevel/LogJSON/AdminPassword are the
// fields every replica has regardless of cluster size; the Quorum/
// Active/Dispatch fields below them are this cluster's Raft-specific
// settings (spec.md §6's INI keys).
type Config struct {
	Port          int    // dispatch.client_baseport: client-facing RPC port
	BinaryPort    int    // quorum.baseport: inter-replica Raft wire port
	ReplPort      int    // dispatch.server_baseport: dispatcher-side RPC port
	Role          string // standalone | master | slave
	DBPath        string // storage.raftpath: PLog backing file for this node
	MasterAddr    string // bootstrap peer address, required when Role == "slave"
	LogLevel      string // debug | info | warn | error
	LogJSON       bool
	AdminPassword string
	ConfigFile    string // path this Config was loaded from, if any

	LogSize          int64    // storage.logsize: PLog ring capacity in bytes
	ActiveReplicas   []string // active.replicas: addresses of voting peers
	EntryN           int      // active.entryN: max in-flight unconfirmed entries per peer
	DispatchFilePath string   // dispatch.filepath: client-state store path
	DispatchClients  int      // dispatch.clients: expected distinct client id count
	NetworkMe        string   // network.me: this node's own address
}

// DefaultConfig returns a standalone node's configuration before any
// file or environment overlay is applied.
func DefaultConfig() *Config {
	return &Config{
		Port:             8888,
		BinaryPort:       8889,
		ReplPort:         9999,
		Role:             "standalone",
		DBPath:           "flydb.wal",
		LogLevel:         "info",
		LogJSON:          false,
		LogSize:          64 << 20,
		EntryN:           256,
		DispatchFilePath: "dispatch.state",
		DispatchClients:  1024,
	}
}

// Validate checks the invariants a replica must satisfy before it can
// boot: valid, non-conflicting ports, a known role with its required
// fields, a configured log path, and a recognized log level.
func (c *Config) Validate() error {
	for name, port := range map[string]int{"port": c.Port, "binary_port": c.BinaryPort, "replication_port": c.ReplPort} {
		if port < 1 || port > 65535 {
			return fmt.Errorf("config: %s %d out of range [1,65535]", name, port)
		}
	}
	if c.Port == c.BinaryPort || c.Port == c.ReplPort || c.BinaryPort == c.ReplPort {
		return fmt.Errorf("config: port, binary_port, and replication_port must be distinct")
	}
	if !validRoles[c.Role] {
		return fmt.Errorf("config: invalid role %q (want standalone, master, or slave)", c.Role)
	}
	if c.Role == "slave" && c.MasterAddr == "" {
		return fmt.Errorf("config: role=slave requires master_addr")
	}
	if c.DBPath == "" {
		return fmt.Errorf("config: db_path is required")
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("config: invalid log_level %q", c.LogLevel)
	}
	return nil
}

// ToTOML renders cfg as the same flat `key = value` text LoadFromFile
// reads back, used both for SaveToFile and for operator-facing dumps.
func (c *Config) ToTOML() string {
	var b strings.Builder
	fmt.Fprintf(&b, "role = %q\n", c.Role)
	fmt.Fprintf(&b, "port = %d\n", c.Port)
	fmt.Fprintf(&b, "binary_port = %d\n", c.BinaryPort)
	fmt.Fprintf(&b, "replication_port = %d\n", c.ReplPort)
	fmt.Fprintf(&b, "db_path = %q\n", c.DBPath)
	if c.MasterAddr != "" {
		fmt.Fprintf(&b, "master_addr = %q\n", c.MasterAddr)
	}
	fmt.Fprintf(&b, "log_level = %q\n", c.LogLevel)
	fmt.Fprintf(&b, "log_json = %t\n", c.LogJSON)
	if c.AdminPassword != "" {
		fmt.Fprintf(&b, "admin_password = %q\n", c.AdminPassword)
	}
	if c.LogSize != 0 {
		fmt.Fprintf(&b, "log_size = %d\n", c.LogSize)
	}
	if c.EntryN != 0 {
		fmt.Fprintf(&b, "entry_n = %d\n", c.EntryN)
	}
	if c.DispatchFilePath != "" {
		fmt.Fprintf(&b, "dispatch_filepath = %q\n", c.DispatchFilePath)
	}
	if c.DispatchClients != 0 {
		fmt.Fprintf(&b, "dispatch_clients = %d\n", c.DispatchClients)
	}
	if c.NetworkMe != "" {
		fmt.Fprintf(&b, "network_me = %q\n", c.NetworkMe)
	}
	if len(c.ActiveReplicas) > 0 {
		fmt.Fprintf(&b, "active_replicas = %q\n", strings.Join(c.ActiveReplicas, ","))
	}
	return b.String()
}

// SaveToFile writes cfg's ToTOML() text to path, creating any missing
// parent directories.
func (c *Config) SaveToFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("config: creating directory for %s: %w", path, err)
	}
	return os.WriteFile(path, []byte(c.ToTOML()), 0o644)
}

// String renders a short human-readable summary, used in startup logs.
func (c *Config) String() string {
	return fmt.Sprintf("Config{Role: %s, Port: %d, BinaryPort: %d, ReplPort: %d, DBPath: %s, LogLevel: %s}",
		c.Role, c.Port, c.BinaryPort, c.ReplPort, c.DBPath, c.LogLevel)
}

// parseInto overlays the `key = value` lines in text onto cfg. Unknown
// keys are ignored, matching the teacher's forward-compatible parsing
// stance (an older binary reading a newer config file shouldn't fail to
// boot over a key it doesn't recognize yet).
func parseInto(cfg *Config, text string) error {
	scanner := bufio.NewScanner(strings.NewReader(text))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, val, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		val = strings.TrimSpace(strings.Trim(strings.TrimSpace(val), `"`))
		switch key {
		case "role":
			cfg.Role = val
		case "port":
			cfg.Port, _ = strconv.Atoi(val)
		case "binary_port":
			cfg.BinaryPort, _ = strconv.Atoi(val)
		case "replication_port":
			cfg.ReplPort, _ = strconv.Atoi(val)
		case "db_path":
			cfg.DBPath = val
		case "master_addr":
			cfg.MasterAddr = val
		case "log_level":
			cfg.LogLevel = val
		case "log_json":
			cfg.LogJSON, _ = strconv.ParseBool(val)
		case "admin_password":
			cfg.AdminPassword = val
		case "log_size":
			cfg.LogSize, _ = strconv.ParseInt(val, 10, 64)
		case "entry_n":
			cfg.EntryN, _ = strconv.Atoi(val)
		case "dispatch_filepath":
			cfg.DispatchFilePath = val
		case "dispatch_clients":
			cfg.DispatchClients, _ = strconv.Atoi(val)
		case "network_me":
			cfg.NetworkMe = val
		case "active_replicas":
			if val != "" {
				cfg.ActiveReplicas = strings.Split(val, ",")
			}
		}
	}
	return scanner.Err()
}

// Manager owns the active Config and reloads it on demand, notifying
// anyone who registered an OnReload callback. A single process normally
// holds one Manager, reached through Global.
type Manager struct {
	mu        sync.RWMutex
	cfg       *Config
	path      string
	callbacks []func(*Config)
}

// NewManager returns a Manager seeded with DefaultConfig.
func NewManager() *Manager {
	return &Manager{cfg: DefaultConfig()}
}

// LoadFromFile reads path, overlays it onto a fresh DefaultConfig, and
// makes the result the Manager's current Config. The path is retained
// so a later Reload re-reads the same file.
func (m *Manager) LoadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: reading %s: %w", path, err)
	}
	cfg := DefaultConfig()
	if err := parseInto(cfg, string(data)); err != nil {
		return fmt.Errorf("config: parsing %s: %w", path, err)
	}
	cfg.ConfigFile = path

	m.mu.Lock()
	m.cfg = cfg
	m.path = path
	m.mu.Unlock()
	return nil
}

// LoadFromEnv overlays recognized CYCLONE_* environment variables onto
// the Manager's current Config, taking precedence over whatever a file
// load already set.
func (m *Manager) LoadFromEnv() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v := os.Getenv(EnvPort); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			m.cfg.Port = n
		}
	}
	if v := os.Getenv(EnvBinaryPort); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			m.cfg.BinaryPort = n
		}
	}
	if v := os.Getenv(EnvReplPort); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			m.cfg.ReplPort = n
		}
	}
	if v := os.Getenv(EnvRole); v != "" {
		m.cfg.Role = v
	}
	if v := os.Getenv(EnvDBPath); v != "" {
		m.cfg.DBPath = v
	}
	if v := os.Getenv(EnvMasterAddr); v != "" {
		m.cfg.MasterAddr = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		m.cfg.LogLevel = v
	}
	if v := os.Getenv(EnvLogJSON); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			m.cfg.LogJSON = b
		}
	}
	if v := os.Getenv(EnvAdminPassword); v != "" {
		m.cfg.AdminPassword = v
	}
}

// Get returns the Manager's current Config.
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// OnReload registers cb to run after every successful Reload.
func (m *Manager) OnReload(cb func(*Config)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, cb)
}

// Reload re-reads the file the Manager was last loaded from and
// notifies every registered callback with the new Config.
func (m *Manager) Reload() error {
	m.mu.RLock()
	path := m.path
	m.mu.RUnlock()
	if path == "" {
		return fmt.Errorf("config: Reload called before any LoadFromFile")
	}
	if err := m.LoadFromFile(path); err != nil {
		return err
	}
	cfg := m.Get()
	m.mu.RLock()
	cbs := append([]func(*Config){}, m.callbacks...)
	m.mu.RUnlock()
	for _, cb := range cbs {
		cb(cfg)
	}
	return nil
}

var (
	globalOnce sync.Once
	globalMgr  *Manager
)

// Global returns the process-wide Manager singleton, constructing it on
// first use.
func Global() *Manager {
	globalOnce.Do(func() {
		globalMgr = NewManager()
	})
	return globalMgr
}
