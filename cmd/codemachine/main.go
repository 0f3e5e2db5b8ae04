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

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	historycmd "github.com/moazbuilds/codemachine/internal/commands/history"
	runcmd "github.com/moazbuilds/codemachine/internal/commands/run"
	versioncmd "github.com/moazbuilds/codemachine/internal/commands/version"
	"github.com/moazbuilds/codemachine/pkg/engine"
)

// Version information (injected via ldflags at build time)
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	root := &cobra.Command{
		Use:   "codemachine",
		Short: "Orchestrate AI coding agents through a workflow template",
		Long: `CodeMachine runs sequences of AI coding agents defined by a workflow
template, with durable resume, interactive steering, and optional autonomous
delegation to a controller agent.`,
		SilenceUsage: true,
	}

	// Engines register themselves here; builds that bundle concrete engines
	// add them before Execute.
	engines := engine.NewRegistry()

	root.AddCommand(runcmd.NewCommand(engines))
	root.AddCommand(historycmd.NewCommand())
	root.AddCommand(versioncmd.NewCommand(versioncmd.Info{
		Version:   version,
		Commit:    commit,
		BuildDate: buildDate,
	}))

	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
