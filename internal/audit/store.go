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

package audit

import (
	"bufio"
	"encoding/json"
	"os"
	"sync"

	"github.com/cyclone-consensus/cyclone/internal/cyclerr"
)

// FileStore is the default Store: one JSON object per line, appended to
// as events arrive. It re-reads the whole file on every Scan, the same
// tradeoff dispatcher.Store makes for its own client-state file — audit
// history is read rarely (on export or cleanup) and written often, so
// the simple representation wins over an index it would rarely pay for.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore opens or creates path for appending audit events. An
// empty path yields a store that keeps nothing: Append discards events
// and Scan returns none.
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return &FileStore{}, nil
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, cyclerr.PersistFailed(err).WithDetail("opening audit log " + path)
	}
	f.Close()
	return &FileStore{path: path}, nil
}

func (s *FileStore) Append(e Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" {
		return nil
	}
	f, err := os.OpenFile(s.path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o644)
	if err != nil {
		return cyclerr.PersistFailed(err).WithDetail("appending audit log " + s.path)
	}
	defer f.Close()

	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	_, err = f.Write(append(data, '\n'))
	return err
}

func (s *FileStore) Scan() ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" {
		return nil, nil
	}
	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, cyclerr.PersistFailed(err)
	}
	defer f.Close()

	var events []Event
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4<<20)
	for sc.Scan() {
		var e Event
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			continue
		}
		events = append(events, e)
	}
	return events, sc.Err()
}

// Delete rewrites the file without the named event, since a flat
// append-log has no random-access removal.
func (s *FileStore) Delete(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" {
		return nil
	}
	events, err := s.scanLocked()
	if err != nil {
		return err
	}

	f, err := os.OpenFile(s.path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return cyclerr.PersistFailed(err)
	}
	defer f.Close()

	for _, e := range events {
		if e.ID == id {
			continue
		}
		data, err := json.Marshal(e)
		if err != nil {
			return err
		}
		if _, err := f.Write(append(data, '\n')); err != nil {
			return err
		}
	}
	return nil
}

func (s *FileStore) scanLocked() ([]Event, error) {
	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, cyclerr.PersistFailed(err)
	}
	defer f.Close()

	var events []Event
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4<<20)
	for sc.Scan() {
		var e Event
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			continue
		}
		events = append(events, e)
	}
	return events, sc.Err()
}

var _ Store = (*FileStore)(nil)
