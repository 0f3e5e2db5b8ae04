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

package console

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/moazbuilds/codemachine/internal/agentlog"
	"github.com/moazbuilds/codemachine/pkg/monitoring"
)

// Console styles using lipgloss.
var (
	styleHeader = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39")) // blue bold
	styleInfo   = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))            // blue
	styleOK     = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))            // green
	styleWarn   = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))           // orange
	styleError  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))           // red
	styleMuted  = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))           // gray
	styleBold   = lipgloss.NewStyle().Bold(true)
	styleUser   = lipgloss.NewStyle().Foreground(lipgloss.Color("201")) // magenta
)

// statusSymbol maps an agent status to a styled indicator.
func statusSymbol(status monitoring.Status) string {
	switch status {
	case monitoring.StatusCompleted:
		return styleOK.Render("✓")
	case monitoring.StatusFailed:
		return styleError.Render("✗")
	case monitoring.StatusSkipped:
		return styleMuted.Render("∅")
	case monitoring.StatusRunning, monitoring.StatusDelegated:
		return styleInfo.Render("▶")
	default:
		return styleMuted.Render("•")
	}
}

// renderLogLine strips marker tokens and applies their styling.
func renderLogLine(line string) string {
	text := agentlog.Strip(line)
	switch agentlog.Classify(line) {
	case agentlog.LineBold:
		return styleBold.Render(text)
	case agentlog.LineUser:
		return styleUser.Render(text)
	case agentlog.LineThinking:
		return styleMuted.Render("thinking: " + text)
	default:
		return text
	}
}
