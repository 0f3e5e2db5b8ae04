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

// Package state owns the durable workflow state under .codemachine/.
//
// The store is single-writer: only the runner mutates it. All writes are
// atomic (write to temp, fsync, rename) and all reads tolerate missing files
// by returning the documented zero value. Rewrites preserve unknown fields so
// schema migrations stay additive.
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/moazbuilds/codemachine/pkg/errors"
)

// DirName is the state directory created under the run's working directory.
const DirName = ".codemachine"

// Store reads and writes the state files for one run directory.
type Store struct {
	root string
}

// New creates a store rooted at <cwd>/.codemachine. No files are created
// until the first write.
func New(cwd string) *Store {
	return &Store{root: filepath.Join(cwd, DirName)}
}

// Dir returns the state directory path.
func (s *Store) Dir() string {
	return s.root
}

// AgentLogPath returns the log file path for a monitoring id. Log paths are
// unique per monitoring id.
func (s *Store) AgentLogPath(monitoringID int64) string {
	return filepath.Join(s.root, "logs", fmt.Sprintf("agent-%d.log", monitoringID))
}

// SpecificationPath returns the pre-run user specification file path.
func (s *Store) SpecificationPath() string {
	return filepath.Join(s.root, "inputs", "specifications.md")
}

// HasSpecification reports whether the specification file exists and is
// non-empty.
func (s *Store) HasSpecification() bool {
	info, err := os.Stat(s.SpecificationPath())
	return err == nil && info.Size() > 0
}

// ImportSpecification copies a user-provided specification file into place.
func (s *Store) ImportSpecification(srcPath string) error {
	data, err := os.ReadFile(srcPath)
	if err != nil {
		return &errors.PersistenceError{Op: "read", Path: srcPath, Cause: err}
	}
	return s.writeAtomic(s.SpecificationPath(), data)
}

// writeAtomic writes data to path via a temp file, fsync and rename.
func (s *Store) writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return &errors.PersistenceError{Op: "mkdir", Path: filepath.Dir(path), Cause: err}
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return &errors.PersistenceError{Op: "create", Path: path, Cause: err}
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return &errors.PersistenceError{Op: "write", Path: path, Cause: err}
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return &errors.PersistenceError{Op: "sync", Path: path, Cause: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return &errors.PersistenceError{Op: "close", Path: path, Cause: err}
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return &errors.PersistenceError{Op: "rename", Path: path, Cause: err}
	}

	return nil
}

// writeJSON marshals v over any existing JSON object at path, preserving
// fields the current schema does not know about.
func (s *Store) writeJSON(path string, v any) error {
	fresh, err := json.Marshal(v)
	if err != nil {
		return &errors.PersistenceError{Op: "marshal", Path: path, Cause: err}
	}

	merged := fresh
	if existing, readErr := os.ReadFile(path); readErr == nil {
		if out, mergeErr := mergeUnknownFields(existing, fresh); mergeErr == nil {
			merged = out
		}
	}

	pretty, err := indentJSON(merged)
	if err != nil {
		return &errors.PersistenceError{Op: "marshal", Path: path, Cause: err}
	}
	return s.writeAtomic(path, pretty)
}

// readJSON unmarshals path into v. A missing file returns os.ErrNotExist;
// callers translate that into their zero value.
func (s *Store) readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return err
		}
		return &errors.PersistenceError{Op: "read", Path: path, Cause: err}
	}
	if err := json.Unmarshal(data, v); err != nil {
		return &errors.PersistenceError{Op: "unmarshal", Path: path, Cause: err}
	}
	return nil
}

// mergeUnknownFields overlays the fresh object's keys onto the existing
// object, keeping keys only the existing file carries.
func mergeUnknownFields(existing, fresh []byte) ([]byte, error) {
	var base map[string]json.RawMessage
	if err := json.Unmarshal(existing, &base); err != nil {
		return nil, err
	}
	var overlay map[string]json.RawMessage
	if err := json.Unmarshal(fresh, &overlay); err != nil {
		return nil, err
	}
	for k, v := range overlay {
		base[k] = v
	}
	return json.Marshal(base)
}

// indentJSONValue marshals v as indented JSON with a trailing newline.
func indentJSONValue(v any) ([]byte, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(out, '\n'), nil
}

// indentJSON normalizes JSON for stable on-disk formatting.
func indentJSON(data []byte) ([]byte, error) {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(out, '\n'), nil
}
