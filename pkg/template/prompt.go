package template

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/moazbuilds/codemachine/pkg/errors"
)

// ResolvePrompt reads a step's prompt files and concatenates them in order
// with a single blank line separator. Relative paths resolve against cwd;
// entries may be doublestar glob patterns, expanded in lexical order. An
// empty path list or a pattern matching no files is a MissingPromptError.
func ResolvePrompt(cwd, agentID string, paths []string) (string, error) {
	if len(paths) == 0 {
		return "", &errors.MissingPromptError{AgentID: agentID}
	}

	var files []string
	for _, p := range paths {
		resolved, err := expandPromptPath(cwd, agentID, p)
		if err != nil {
			return "", err
		}
		files = append(files, resolved...)
	}

	parts := make([]string, 0, len(files))
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return "", &errors.MissingPromptError{AgentID: agentID, Path: f}
		}
		parts = append(parts, strings.TrimRight(string(data), "\n"))
	}

	return strings.Join(parts, "\n\n") + "\n", nil
}

// expandPromptPath resolves one prompt entry to concrete files.
func expandPromptPath(cwd, agentID, path string) ([]string, error) {
	abs := path
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(cwd, path)
	}

	if !isGlob(path) {
		if _, err := os.Stat(abs); err != nil {
			return nil, &errors.MissingPromptError{AgentID: agentID, Path: path}
		}
		return []string{abs}, nil
	}

	matches, err := doublestar.FilepathGlob(abs)
	if err != nil || len(matches) == 0 {
		return nil, &errors.MissingPromptError{AgentID: agentID, Path: path}
	}
	sort.Strings(matches)
	return matches, nil
}

// isGlob reports whether a path entry contains glob metacharacters.
func isGlob(path string) bool {
	return strings.ContainsAny(path, "*?[{")
}
