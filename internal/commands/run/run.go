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

// Package run implements the run command: it executes or resumes the
// workflow in the working directory.
package run

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/moazbuilds/codemachine/internal/adapters/console"
	"github.com/moazbuilds/codemachine/internal/log"
	"github.com/moazbuilds/codemachine/pkg/engine"
	"github.com/moazbuilds/codemachine/pkg/errors"
	"github.com/moazbuilds/codemachine/pkg/workflow"
)

// Exit codes.
const (
	ExitOK       = 0
	ExitError    = 1
	ExitUserStop = 130
)

// NewCommand creates the run command. Engines are supplied by the caller so
// the command stays decoupled from any concrete engine build.
func NewCommand(engines *engine.Registry) *cobra.Command {
	var (
		cwd        string
		tplPath    string
		specPath   string
		track      string
		conditions []string
		auto       bool
		manual     bool
		headless   bool
		noHistory  bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run or resume the workflow in the working directory",
		Long: `Run executes the selected workflow template step by step, persisting
progress under .codemachine/ so an interrupted run resumes where it left off.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := log.New(log.FromEnv())

			signals := workflow.NewSignals()
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			// First Ctrl-C pauses; the second stops.
			sigCh := make(chan os.Signal, 2)
			signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(sigCh)
			go func() {
				interrupts := 0
				for range sigCh {
					interrupts++
					if interrupts == 1 {
						signals.Pause()
					} else {
						signals.Stop()
						cancel()
						return
					}
				}
			}()

			opts := workflow.Options{
				Cwd:               cwd,
				TemplatePath:      tplPath,
				SpecificationPath: specPath,
				Track:             track,
				Conditions:        conditions,
				Engines:           engines,
				Signals:           signals,
				Logger:            logger,
				DisableHistory:    noHistory,
			}
			if auto {
				t := true
				opts.AutonomousMode = &t
			} else if manual {
				f := false
				opts.AutonomousMode = &f
			}
			if !headless {
				adapter := console.New(cmd.OutOrStdout(), logger)
				adapter.FollowLogs(true)
				opts.Adapters = []workflow.Adapter{adapter}
			}

			err := workflow.Run(ctx, opts)
			switch {
			case err == nil:
				return nil
			case errors.IsUserStop(err):
				cmd.SilenceUsage = true
				cmd.SilenceErrors = true
				os.Exit(ExitUserStop)
				return nil
			default:
				cmd.SilenceUsage = true
				return err
			}
		},
	}

	cmd.Flags().StringVar(&cwd, "cwd", "", "working directory for the run (default: current directory)")
	cmd.Flags().StringVar(&tplPath, "template", "", "workflow template path (persisted for subsequent runs)")
	cmd.Flags().StringVar(&specPath, "spec", "", "specification file to import before the run")
	cmd.Flags().StringVar(&track, "track", "", "selected track for step filtering")
	cmd.Flags().StringArrayVar(&conditions, "condition", nil, "selected condition (repeatable)")
	cmd.Flags().BoolVar(&auto, "auto", false, "start in autonomous mode (controller provides input)")
	cmd.Flags().BoolVar(&manual, "manual", false, "start in manual mode, overriding persisted state")
	cmd.Flags().BoolVar(&headless, "headless", false, "run without the console adapter")
	cmd.Flags().BoolVar(&noHistory, "no-history", false, "disable the run-history ledger")
	cmd.MarkFlagsMutuallyExclusive("auto", "manual")

	return cmd
}
