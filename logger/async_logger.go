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

package logger

import (
	"fmt"
	"io"
	"os"
	"sync"
)

// AsyncLogger decouples log callers from the underlying writer (typically a
// lumberjack.Logger rotating a file on the same backing device the
// filesystem serves). Writes are queued on a bounded channel and drained by
// a single background goroutine; a full queue drops the message rather than
// blocking the caller, since a caller here may itself be holding a buffer
// cache lock.
type AsyncLogger struct {
	w       io.Writer
	entries chan []byte
	done    chan struct{}
	closeMu sync.Mutex
	closed  bool
}

// NewAsyncLogger starts the drain goroutine and returns a ready-to-use
// AsyncLogger. bufferSize bounds how many pending messages may queue before
// new writes are dropped.
func NewAsyncLogger(w io.Writer, bufferSize int) *AsyncLogger {
	l := &AsyncLogger{
		w:       w,
		entries: make(chan []byte, bufferSize),
		done:    make(chan struct{}),
	}
	go l.drain()
	return l
}

func (l *AsyncLogger) drain() {
	defer close(l.done)
	for entry := range l.entries {
		if _, err := l.w.Write(entry); err != nil {
			fmt.Fprintf(os.Stderr, "asynclogger: write failed: %v\n", err)
		}
	}
}

// Write copies p and enqueues it for the drain goroutine. It never blocks:
// when the queue is full the message is dropped and a warning is emitted to
// stderr.
func (l *AsyncLogger) Write(p []byte) (int, error) {
	entry := make([]byte, len(p))
	copy(entry, p)

	select {
	case l.entries <- entry:
	default:
		fmt.Fprintln(os.Stderr, "asynclogger: log buffer is full, dropping message.")
	}
	return len(p), nil
}

// Close drains any queued messages, waits for the writer goroutine to exit,
// and closes the underlying writer if it implements io.Closer.
func (l *AsyncLogger) Close() error {
	l.closeMu.Lock()
	defer l.closeMu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true

	close(l.entries)
	<-l.done

	if c, ok := l.w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
