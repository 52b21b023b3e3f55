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

// NewMemLog returns an in-memory circular log of the given capacity with
// no backing file, for use by tests across the repository that need a
// PLog without a temp-file fixture.
func NewMemLog(capacity uint64) *CircularLog {
	cl, _ := Open("", capacity)
	return cl
}
