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
	"os"
	"path/filepath"
)

// ControllerConfig identifies the controller agent's persisted session.
type ControllerConfig struct {
	AgentID      string `json:"agentId"`
	SessionID    string `json:"sessionId,omitempty"`
	MonitoringID int64  `json:"monitoringId,omitempty"`
}

// ControllerState persists autonomous mode and the controller session.
type ControllerState struct {
	AutonomousMode   bool              `json:"autonomousMode"`
	ControllerConfig *ControllerConfig `json:"controllerConfig,omitempty"`
}

// controllerPath returns the controller state file.
func (s *Store) controllerPath() string {
	return filepath.Join(s.root, "controller.json")
}

// LoadController reads the controller state. A missing file returns the zero
// state: manual mode, no controller config.
func (s *Store) LoadController() (*ControllerState, error) {
	var cs ControllerState
	if err := s.readJSON(s.controllerPath(), &cs); err != nil {
		if os.IsNotExist(err) {
			return &ControllerState{}, nil
		}
		return nil, err
	}
	return &cs, nil
}

// SaveController persists the controller state.
func (s *Store) SaveController(cs *ControllerState) error {
	return s.writeJSON(s.controllerPath(), cs)
}
