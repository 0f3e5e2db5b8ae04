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

// Package history implements the history command over the run ledger.
package history

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/moazbuilds/codemachine/internal/history"
	"github.com/moazbuilds/codemachine/internal/state"
)

// NewCommand creates the history command.
func NewCommand() *cobra.Command {
	var (
		cwd   string
		limit int
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent workflow runs in this directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := cwd
			if dir == "" {
				wd, err := os.Getwd()
				if err != nil {
					return err
				}
				dir = wd
			}

			dbPath := filepath.Join(dir, state.DirName, "history.db")
			if _, err := os.Stat(dbPath); err != nil {
				cmd.Println("no run history in this directory")
				return nil
			}

			store, err := history.Open(dbPath)
			if err != nil {
				return err
			}
			defer store.Close()

			runs, err := store.RecentRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				cmd.Println("no runs recorded")
				return nil
			}

			for _, r := range runs {
				finished := "-"
				if r.FinishedAt != nil {
					finished = r.FinishedAt.Format(time.RFC3339)
				}
				cmd.Printf("%s  %-10s  %-24s  started %s  finished %s\n",
					r.ID, r.Status, r.Template,
					r.StartedAt.Format(time.RFC3339), finished)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&cwd, "cwd", "", "working directory (default: current directory)")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum runs to list")

	return cmd
}
