package loader

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/sourceplane/fareflow/internal/model"
	"github.com/sourceplane/fareflow/internal/planner"
)

// LoadDefinition loads, parses and validates a pipeline definition file.
// YAML and JSON are both accepted.
func LoadDefinition(path string) (*model.Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read definition file: %w", err)
	}

	var def model.Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("failed to parse definition %s: %w", path, err)
	}

	if err := planner.Validate(&def); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &def, nil
}

// LoadDefinitionsFromDir loads every definition file under dir.
// Supports glob patterns for recursive search:
//   - Exact path: only files directly inside dir
//   - Path with *: every definition file under each matching directory
//
// Definitions are keyed by name; two files declaring the same name is an error.
func LoadDefinitionsFromDir(dir string) (map[string]*model.Definition, error) {
	isRecursive := strings.Contains(dir, "*")

	var searchPaths []string
	if isRecursive {
		matches, err := filepath.Glob(dir)
		if err != nil {
			return nil, fmt.Errorf("failed to evaluate glob pattern %s: %w", dir, err)
		}
		if len(matches) == 0 {
			return nil, fmt.Errorf("glob pattern %s matched no directories", dir)
		}
		searchPaths = matches
	} else {
		info, err := os.Stat(dir)
		if err != nil {
			return nil, fmt.Errorf("failed to access definitions directory %s: %w", dir, err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("definitions path is not a directory: %s", dir)
		}
		searchPaths = []string{dir}
	}

	var files []string
	for _, basePath := range searchPaths {
		if isRecursive {
			err := filepath.Walk(basePath, func(path string, info os.FileInfo, err error) error {
				if err != nil {
					return err
				}
				if !info.IsDir() && isDefinitionFile(path) {
					files = append(files, path)
				}
				return nil
			})
			if err != nil {
				return nil, fmt.Errorf("failed to walk directory %s: %w", basePath, err)
			}
			continue
		}

		entries, err := os.ReadDir(basePath)
		if err != nil {
			return nil, fmt.Errorf("failed to read directory %s: %w", basePath, err)
		}
		for _, entry := range entries {
			if !entry.IsDir() && isDefinitionFile(entry.Name()) {
				files = append(files, filepath.Join(basePath, entry.Name()))
			}
		}
	}

	if len(files) == 0 {
		return nil, fmt.Errorf("no definition files found in %s", dir)
	}
	sort.Strings(files)

	defs := make(map[string]*model.Definition, len(files))
	origin := make(map[string]string, len(files))
	for _, path := range files {
		def, err := LoadDefinition(path)
		if err != nil {
			return nil, err
		}
		if prev, ok := origin[def.Name]; ok {
			return nil, fmt.Errorf("definition %s declared in both %s and %s", def.Name, prev, path)
		}
		defs[def.Name] = def
		origin[def.Name] = path
	}
	return defs, nil
}

func isDefinitionFile(path string) bool {
	switch filepath.Ext(path) {
	case ".yaml", ".yml", ".json":
		return true
	}
	return false
}
