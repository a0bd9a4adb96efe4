package harness

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
)

// SuiteResult summarizes a directory of scenarios.
type SuiteResult struct {
	Total    int               `json:"total"`
	Passed   int               `json:"passed"`
	Failed   int               `json:"failed"`
	Failures []ScenarioFailure `json:"failures,omitempty"`
}

// ScenarioFailure describes one scenario that did not pass.
type ScenarioFailure struct {
	Path     string   `json:"path"`
	Scenario string   `json:"scenario,omitempty"`
	Errors   []string `json:"errors"`
}

// FindScenarios returns the .yaml and .yml files under dir in lexical
// order.
func FindScenarios(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		switch filepath.Ext(path) {
		case ".yaml", ".yml":
			files = append(files, path)
		}
		return nil
	})
	sort.Strings(files)
	return files, err
}

// RunDir loads and runs every scenario under dir (or the single file dir
// names). A scenario that fails to load counts as failed.
func RunDir(ctx context.Context, dir string, logger *slog.Logger) (*SuiteResult, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("scenarios: %w", err)
	}

	paths := []string{dir}
	if info.IsDir() {
		paths, err = FindScenarios(dir)
		if err != nil {
			return nil, fmt.Errorf("scenarios: scan %s: %w", dir, err)
		}
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("scenarios: no scenario files in %s", dir)
	}

	result := &SuiteResult{}
	for _, path := range paths {
		result.Total++

		scenario, err := LoadScenario(path)
		if err != nil {
			result.Failed++
			result.Failures = append(result.Failures, ScenarioFailure{Path: path, Errors: []string{err.Error()}})
			continue
		}

		run, err := RunContext(ctx, scenario, logger.With("scenario", scenario.Name))
		if err != nil {
			result.Failed++
			result.Failures = append(result.Failures, ScenarioFailure{Path: path, Scenario: scenario.Name, Errors: []string{err.Error()}})
			continue
		}
		if !run.Pass {
			result.Failed++
			result.Failures = append(result.Failures, ScenarioFailure{Path: path, Scenario: scenario.Name, Errors: run.Errors})
			continue
		}
		result.Passed++
	}
	return result, nil
}
