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

// TemplateState pins the run to its template and selection.
type TemplateState struct {
	TemplatePath       string   `json:"templatePath"`
	SelectedTrack      string   `json:"selectedTrack,omitempty"`
	SelectedConditions []string `json:"selectedConditions"`
	ProjectName        string   `json:"projectName,omitempty"`
}

// templatePath returns the template pointer file.
func (s *Store) templatePath() string {
	return filepath.Join(s.root, "template.json")
}

// LoadTemplate reads the template pointer. A missing file returns nil.
func (s *Store) LoadTemplate() (*TemplateState, error) {
	var ts TemplateState
	if err := s.readJSON(s.templatePath(), &ts); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	if ts.SelectedConditions == nil {
		ts.SelectedConditions = []string{}
	}
	return &ts, nil
}

// SaveTemplate persists the template pointer.
func (s *Store) SaveTemplate(ts *TemplateState) error {
	if ts.SelectedConditions == nil {
		ts.SelectedConditions = []string{}
	}
	return s.writeJSON(s.templatePath(), ts)
}
