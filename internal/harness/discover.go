package harness

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
)

// RulesNotFoundError is returned when a scenario's rule document doesn't exist.
type RulesNotFoundError struct {
	Scenario     string
	ResolvedPath string
}

func (e *RulesNotFoundError) Error() string {
	return fmt.Sprintf("scenario %q references rule file %s which does not exist", e.Scenario, e.ResolvedPath)
}

// FindScenarios returns the .yaml and .yml files under dir, sorted by path.
// A non-empty filter is a glob matched against the file name without its
// extension. Files under a golden/ directory are skipped.
func FindScenarios(dir, filter string) ([]string, error) {
	if filter != "" {
		if _, err := filepath.Match(filter, ""); err != nil {
			return nil, fmt.Errorf("invalid filter pattern: %w", err)
		}
	}

	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == "golden" && path != dir {
				return filepath.SkipDir
			}
			return nil
		}

		ext := filepath.Ext(path)
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}
		if filter != "" {
			name := strings.TrimSuffix(d.Name(), ext)
			if ok, _ := filepath.Match(filter, name); !ok {
				return nil
			}
		}

		files = append(files, path)
		return nil
	})
	return files, err
}
