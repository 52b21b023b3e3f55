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
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// sortForExport orders events by EventType using a locale-aware
// collator rather than a byte-wise string comparison, so an export
// viewed in a non-English locale still groups event type names the way
// a human reader of that locale expects them sorted.
func sortForExport(events []Event, locale language.Tag) []Event {
	out := make([]Event, len(events))
	copy(out, events)

	col := collate.New(locale)
	sort.SliceStable(out, func(i, j int) bool {
		return col.CompareString(string(out[i].EventType), string(out[j].EventType)) < 0
	})
	return out
}

// exportJSON exports audit logs to JSON format.
func (m *Manager) exportJSON(filename string, events []Event) error {
	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("audit: create export file: %w", err)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(sortForExport(events, language.English)); err != nil {
		return fmt.Errorf("audit: encode JSON export: %w", err)
	}

	m.logger.Info("exported audit logs to JSON", "filename", filename, "count", len(events))
	return nil
}

// exportCSV exports audit logs to CSV format, sorted by event type
// using the default (English) collation order.
func (m *Manager) exportCSV(filename string, events []Event) error {
	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("audit: create export file: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"ID", "Timestamp", "EventType", "NodeID", "Term", "Detail", "Status", "Metadata"}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("audit: write CSV header: %w", err)
	}

	for _, event := range sortForExport(events, language.English) {
		metadata := ""
		if len(event.Metadata) > 0 {
			metaJSON, _ := json.Marshal(event.Metadata)
			metadata = string(metaJSON)
		}

		row := []string{
			strconv.FormatInt(event.ID, 10),
			event.Timestamp.Format("2006-01-02 15:04:05"),
			string(event.EventType),
			strconv.FormatUint(event.NodeID, 10),
			strconv.FormatUint(event.Term, 10),
			event.Detail,
			string(event.Status),
			metadata,
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("audit: write CSV row: %w", err)
		}
	}

	m.logger.Info("exported audit logs to CSV", "filename", filename, "count", len(events))
	return nil
}
