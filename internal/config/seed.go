package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// SeedFile is the schema of the optional startup seed file. Entries are
// upserted by slug or name, so the file can be applied repeatedly.
type SeedFile struct {
	Projects []SeedProject `yaml:"projects"`
}

// SeedProject declares a project with its agents and triggers.
type SeedProject struct {
	Slug        string            `yaml:"slug"`
	Name        string            `yaml:"name"`
	Description string            `yaml:"description"`
	RepoPath    string            `yaml:"repo_path"`
	Config      map[string]string `yaml:"config"`
	Agents      []SeedAgent       `yaml:"agents"`
	Triggers    []SeedTrigger     `yaml:"triggers"`
}

// SeedAgent declares an agent inside a seed project.
type SeedAgent struct {
	Name   string            `yaml:"name"`
	Role   string            `yaml:"role"`
	Config map[string]string `yaml:"config"`
}

// SeedTrigger declares a trigger inside a seed project.
type SeedTrigger struct {
	Name           string            `yaml:"name"`
	SourceStepType string            `yaml:"source_step_type"`
	SourceStatus   string            `yaml:"source_status"`
	TargetStepType string            `yaml:"target_step_type"`
	Condition      map[string]string `yaml:"condition"`
	Enabled        *bool             `yaml:"enabled"` // nil means enabled
}

// LoadSeed parses the seed file at path. A missing path is not an error and
// yields an empty seed.
func LoadSeed(path string) (*SeedFile, error) {
	if path == "" {
		return &SeedFile{}, nil
	}
	data, err := os.ReadFile(path) //nolint:gosec // G304: path comes from operator config
	if err != nil {
		if os.IsNotExist(err) {
			return &SeedFile{}, nil
		}
		return nil, fmt.Errorf("read seed %s: %w", path, err)
	}
	var sf SeedFile
	if err := yaml.Unmarshal(data, &sf); err != nil {
		return nil, fmt.Errorf("parse seed %s: %w", path, err)
	}
	return &sf, nil
}
