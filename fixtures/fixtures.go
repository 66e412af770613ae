// Package fixtures loads data-provider rows from YAML or TOML files.
//
// A fixture file lists rows in order. Each row is either a sequence of
// positional arguments, an object used as props, or a single value:
//
//	rows:
//	  - [1, 2]
//	  - {label: ok}
//	  - plain
//
// YAML files may also be a bare top-level sequence. TOML files use a
// top-level rows array:
//
//	rows = [[1, 2], { label = "ok" }, "plain"]
package fixtures

import (
	"errors"
	"fmt"
	"io/fs"
	"path"
	"strings"

	"github.com/johnjansen/compkit/runner"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// ErrUnsupportedFormat is returned for files that are neither YAML nor TOML.
var ErrUnsupportedFormat = errors.New("unsupported fixture format")

// Format is a fixture encoding.
type Format string

const (
	YAML Format = "yaml"
	TOML Format = "toml"
)

// FormatOf derives the format from a file extension.
func FormatOf(name string) (Format, error) {
	switch strings.ToLower(path.Ext(name)) {
	case ".yaml", ".yml":
		return YAML, nil
	case ".toml":
		return TOML, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, name)
}

type document struct {
	Rows []any `yaml:"rows" toml:"rows"`
}

// Decode parses fixture rows.
func Decode(format Format, data []byte) ([]any, error) {
	switch format {
	case YAML:
		var raw any
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("failed to parse YAML fixture: %w", err)
		}
		switch v := raw.(type) {
		case nil:
			return nil, nil
		case []any:
			return v, nil
		case map[string]any:
			var doc document
			if err := yaml.Unmarshal(data, &doc); err != nil {
				return nil, fmt.Errorf("failed to parse YAML fixture: %w", err)
			}
			return doc.Rows, nil
		default:
			return nil, fmt.Errorf("YAML fixture must be a sequence or contain rows, got %T", raw)
		}
	case TOML:
		var doc document
		if err := toml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("failed to parse TOML fixture: %w", err)
		}
		return doc.Rows, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
}

// Load reads the fixture at name from fsys.
func Load(fsys fs.FS, name string) ([]any, error) {
	format, err := FormatOf(name)
	if err != nil {
		return nil, err
	}
	data, err := fs.ReadFile(fsys, name)
	if err != nil {
		return nil, fmt.Errorf("failed to read fixture: %w", err)
	}
	rows, err := Decode(format, data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return rows, nil
}

// Register loads a fixture and registers it as data provider id.
func Register(ts runner.TestsService, id runner.ProviderID, fsys fs.FS, name string) error {
	rows, err := Load(fsys, name)
	if err != nil {
		return err
	}
	ts.RegisterDataProvider(id, rows)
	return nil
}
