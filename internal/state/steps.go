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

package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// StepRecord is the durable record for one step index.
//
// If CompletedAt is unset and SessionID is set, the step is resumable;
// otherwise it is fresh.
type StepRecord struct {
	SessionID    string     `json:"sessionId,omitempty"`
	MonitoringID int64      `json:"monitoringId,omitempty"`
	StartedAt    time.Time  `json:"startedAt"`
	CompletedAt  *time.Time `json:"completedAt,omitempty"`

	// ChainIndex is the highest advanced chained-prompt index, inclusive.
	// -1 means no chained prompt has been advanced.
	ChainIndex int `json:"chainIndex"`
}

// Resumable reports whether the record points at an interrupted, resumable
// execution.
func (r *StepRecord) Resumable() bool {
	return r != nil && r.CompletedAt == nil && r.SessionID != ""
}

// stepPath returns the file for one step index.
func (s *Store) stepPath(index int) string {
	return filepath.Join(s.root, "steps", fmt.Sprintf("%d.json", index))
}

// LoadStep reads the record for a step index. A missing file returns nil.
func (s *Store) LoadStep(index int) (*StepRecord, error) {
	var rec StepRecord
	if err := s.readJSON(s.stepPath(index), &rec); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

// MarkStepStarted writes a fresh record for a step entering execution. This
// write must succeed or the run aborts — it is the one persistence operation
// that is not best-effort, so the step file exists on disk before any child
// write to it.
func (s *Store) MarkStepStarted(index int) error {
	path := s.stepPath(index)
	// The session, monitoring id and completion of an earlier execution do
	// not carry over; fields the schema does not know about are kept.
	if existing, err := os.ReadFile(path); err == nil {
		var fields map[string]json.RawMessage
		if json.Unmarshal(existing, &fields) == nil {
			delete(fields, "sessionId")
			delete(fields, "monitoringId")
			delete(fields, "completedAt")
			if data, err := json.Marshal(fields); err == nil {
				if err := s.writeAtomic(path, data); err != nil {
					return err
				}
			}
		}
	}
	rec := &StepRecord{
		StartedAt:  time.Now().UTC(),
		ChainIndex: -1,
	}
	return s.writeJSON(path, rec)
}

// SetStepSession records the engine session and monitoring id for a step.
func (s *Store) SetStepSession(index int, sessionID string, monitoringID int64) error {
	rec, err := s.LoadStep(index)
	if err != nil {
		return err
	}
	if rec == nil {
		rec = &StepRecord{StartedAt: time.Now().UTC(), ChainIndex: -1}
	}
	rec.SessionID = sessionID
	rec.MonitoringID = monitoringID
	return s.writeJSON(s.stepPath(index), rec)
}

// AdvanceChain persists the highest advanced chained-prompt index.
func (s *Store) AdvanceChain(index, chainIndex int) error {
	rec, err := s.LoadStep(index)
	if err != nil {
		return err
	}
	if rec == nil {
		rec = &StepRecord{StartedAt: time.Now().UTC(), ChainIndex: -1}
	}
	if chainIndex > rec.ChainIndex {
		rec.ChainIndex = chainIndex
	}
	return s.writeJSON(s.stepPath(index), rec)
}

// CompleteStep stamps the step's completion time.
func (s *Store) CompleteStep(index int) error {
	rec, err := s.LoadStep(index)
	if err != nil {
		return err
	}
	if rec == nil {
		rec = &StepRecord{StartedAt: time.Now().UTC(), ChainIndex: -1}
	}
	if rec.CompletedAt == nil {
		now := time.Now().UTC()
		rec.CompletedAt = &now
	}
	return s.writeJSON(s.stepPath(index), rec)
}

// StepCompleted reports whether the step index has a persisted completion.
func (s *Store) StepCompleted(index int) bool {
	rec, err := s.LoadStep(index)
	return err == nil && rec != nil && rec.CompletedAt != nil
}
