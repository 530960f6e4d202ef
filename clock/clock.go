// Copyright 2025 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package clock provides an interface for the current time, so that fake
// implementations may be used in tests that touch inode or superblock
// timestamps.
package clock

import "time"

// Clock knows the current time and can signal after a duration has
// elapsed. Mirrors the subset of github.com/jacobsa/timeutil.Clock that the
// filesystem needs for inode mtime/ctime/atime bookkeeping and for pacing
// the async I/O completion poll loop (spec.md §5 suspension points).
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

var (
	_ Clock = RealClock{}
	_ Clock = &SimulatedClock{}
	_ Clock = &FakeClock{}
)
