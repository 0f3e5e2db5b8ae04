// Copyright 2025 Tom Barlow
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

package agentlog

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Tailer follows an agent log file and delivers complete lines as the engine
// appends them. UI adapters use it for live log streaming.
type Tailer struct {
	path    string
	watcher *fsnotify.Watcher
	lines   chan string
	logger  *slog.Logger
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewTailer creates a tailer for the log file at path. The file does not need
// to exist yet; lines appear once the agent starts writing.
func NewTailer(path string, logger *slog.Logger) (*Tailer, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	// Watch the directory: the log file may not exist until the first write,
	// and watching the parent also survives rename-style rotation.
	if err := fsw.Add(filepath.Dir(absPath)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("failed to watch log directory: %w", err)
	}

	t := &Tailer{
		path:    absPath,
		watcher: fsw,
		lines:   make(chan string, 100),
		logger:  logger.With(slog.String("component", "tailer"), slog.String("path", absPath)),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}

	go t.run()
	return t, nil
}

// Lines returns the channel of complete log lines, marker tokens intact.
// The channel closes when the tailer stops.
func (t *Tailer) Lines() <-chan string {
	return t.lines
}

// Stop halts the tailer and closes the lines channel.
func (t *Tailer) Stop() {
	close(t.stopCh)
	<-t.doneCh
}

// run drains existing content then follows appends signalled by fsnotify.
func (t *Tailer) run() {
	defer close(t.doneCh)
	defer close(t.lines)
	defer t.watcher.Close()

	var offset int64
	offset = t.drain(offset)

	for {
		select {
		case <-t.stopCh:
			return
		case ev, ok := <-t.watcher.Events:
			if !ok {
				return
			}
			if ev.Name != t.path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				offset = t.drain(offset)
			}
		case err, ok := <-t.watcher.Errors:
			if !ok {
				return
			}
			t.logger.Warn("tailer watch error", "error", err)
		}
	}
}

// drain reads complete lines from offset to EOF and returns the new offset.
// A trailing partial line is left for the next drain.
func (t *Tailer) drain(offset int64) int64 {
	f, err := os.Open(t.path)
	if err != nil {
		if !os.IsNotExist(err) {
			t.logger.Warn("tailer open failed", "error", err)
		}
		return offset
	}
	defer f.Close()

	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		t.logger.Warn("tailer seek failed", "error", err)
		return offset
	}

	reader := bufio.NewReader(f)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			// Partial line: re-read it next time.
			return offset
		}
		offset += int64(len(line))
		select {
		case t.lines <- line[:len(line)-1]:
		case <-t.stopCh:
			return offset
		}
	}
}
