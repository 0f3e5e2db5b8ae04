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
	"path/filepath"
)

// Directive actions an agent may request after its run.
const (
	ActionContinue   = "continue"
	ActionLoop       = "loop"
	ActionTrigger    = "trigger"
	ActionCheckpoint = "checkpoint"
)

// Directive is the in-band channel from a running agent to the engine: the
// agent writes this file to request post-run behavior, and the engine resets
// it to continue before each step.
type Directive struct {
	Action string `json:"action"`
	Reason string `json:"reason,omitempty"`
	Target string `json:"target,omitempty"`
}

// directivePath returns the directive file under memory/.
func (s *Store) directivePath() string {
	return filepath.Join(s.root, "memory", "directive.json")
}

// ReadDirective reads the directive file. A missing or malformed file reads
// as continue — a broken directive must not wedge the run.
func (s *Store) ReadDirective() *Directive {
	var d Directive
	if err := s.readJSON(s.directivePath(), &d); err != nil {
		return &Directive{Action: ActionContinue}
	}
	if d.Action == "" {
		d.Action = ActionContinue
	}
	return &d
}

// ResetDirective rewrites the directive to continue. Called before each step.
func (s *Store) ResetDirective() error {
	return s.writeAtomicJSON(s.directivePath(), &Directive{Action: ActionContinue})
}

// writeAtomicJSON writes v as indented JSON without unknown-field merging.
// The directive is engine-owned between resets; a reset replaces it wholesale.
func (s *Store) writeAtomicJSON(path string, v any) error {
	data, err := indentJSONValue(v)
	if err != nil {
		return err
	}
	return s.writeAtomic(path, data)
}
