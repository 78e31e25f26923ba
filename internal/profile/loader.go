// Package profile loads named injection profiles from YAML files, so one
// daemon can keep several payload sets ready and activate them by name.
package profile

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"webinject/internal/inject"
)

// Profile is one named injection configuration.
type Profile struct {
	Name        string            `yaml:"name"`
	Description string            `yaml:"description,omitempty"`
	InstanceTag *string           `yaml:"instanceTag,omitempty"`
	FilterURL   string            `yaml:"filterUrl,omitempty"`
	Scripts     inject.SourceList `yaml:"scripts,omitempty"`
	Styles      inject.SourceList `yaml:"styles,omitempty"`
}

// Spec returns the profile's payload configuration.
func (p Profile) Spec() inject.Spec {
	return inject.Spec{Scripts: p.Scripts, Styles: p.Styles}
}

// LoadFromDirectory loads profile definitions from YAML files in a directory.
// Files must have a .yaml or .yml extension; unreadable or unparsable files
// are skipped with a warning.
func LoadFromDirectory(dir string, logger *slog.Logger) ([]Profile, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		logger.Debug("profiles directory does not exist, skipping", "dir", dir)
		return nil, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read profiles dir: %w", err)
	}

	var profiles []Profile
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
			continue
		}

		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			logger.Warn("cannot read profile file", "path", path, "err", err)
			continue
		}

		var p Profile
		if err := yaml.Unmarshal(data, &p); err != nil {
			logger.Warn("cannot parse profile file", "path", path, "err", err)
			continue
		}

		if p.Name == "" {
			p.Name = strings.TrimSuffix(name, filepath.Ext(name))
		}

		logger.Info("loaded injection profile", "name", p.Name, "path", path)
		profiles = append(profiles, p)
	}

	return profiles, nil
}

// Find returns the named profile from a loaded set.
func Find(profiles []Profile, name string) (Profile, bool) {
	for _, p := range profiles {
		if p.Name == name {
			return p, true
		}
	}
	return Profile{}, false
}
