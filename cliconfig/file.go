package cliconfig

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// File is an optional YAML config file holding a flat map of the same
// option names the CLI flags use (e.g. "heartbeat-timeout: 45s"). Unlike
// the flags, it never overrides an env var or an explicitly passed flag;
// see Loader.
type File struct {
	Path   string
	Values map[string]string
}

// Exists reports whether f.Path, once expanded to an absolute path, names a
// file on disk.
func (f *File) Exists() bool {
	abs, err := f.AbsolutePath()
	if err != nil {
		return false
	}
	_, err = os.Stat(abs)
	return err == nil
}

// AbsolutePath expands "~" and resolves f.Path relative to the current
// working directory.
func (f *File) AbsolutePath() (string, error) {
	path := f.Path
	if path == "" {
		return "", fmt.Errorf("empty config file path")
	}
	if path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolving home directory: %w", err)
		}
		path = filepath.Join(home, path[1:])
	}
	return filepath.Abs(path)
}

// Load parses the YAML file at f.Path into f.Values as a flat string map.
// Non-scalar values are rejected: the config file only ever sets the same
// simple options the CLI flags do.
func (f *File) Load() error {
	abs, err := f.AbsolutePath()
	if err != nil {
		return err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return fmt.Errorf("reading config file %s: %w", f.Path, err)
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parsing config file %s: %w", f.Path, err)
	}

	f.Values = make(map[string]string, len(raw))
	for k, v := range raw {
		switch val := v.(type) {
		case string:
			f.Values[k] = val
		case nil:
			f.Values[k] = ""
		default:
			f.Values[k] = fmt.Sprintf("%v", val)
		}
	}
	return nil
}
