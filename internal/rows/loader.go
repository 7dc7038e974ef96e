// Package rows reads row tables from JSON, YAML and TOML files.
package rows

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/KevinKickass/xkop-gateway/internal/state"
	"gopkg.in/yaml.v3"
)

var (
	ErrInvalidTable      = errors.New("invalid row table")
	ErrUnsupportedFormat = errors.New("unsupported row table format")
)

type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

// FormatOf picks the format from the file extension.
func FormatOf(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".toml":
		return FormatTOML, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
}

// Table is the on-disk document.
type Table struct {
	Version int               `json:"version,omitempty" yaml:"version,omitempty" toml:"version,omitempty"`
	Rows    []state.RowConfig `json:"rows" yaml:"rows" toml:"rows"`
}

type Loader struct {
	validator *Validator
}

func NewLoader() (*Loader, error) {
	validator, err := NewValidator()
	if err != nil {
		return nil, fmt.Errorf("failed to create validator: %w", err)
	}
	return &Loader{validator: validator}, nil
}

// Load reads and validates the row table at path.
func (l *Loader) Load(path string) ([]state.RowConfig, error) {
	format, err := FormatOf(path)
	if err != nil {
		return nil, err
	}

	if format == FormatTOML {
		return l.loadTOML(path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read row table: %w", err)
	}

	rows, err := l.Decode(data, format)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return rows, nil
}

// Decode parses a JSON or YAML row table held in memory.
func (l *Loader) Decode(data []byte, format Format) ([]state.RowConfig, error) {
	var table Table

	switch format {
	case FormatJSON:
		if err := l.validator.Validate(data); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, &table); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidTable, err)
		}

	case FormatYAML:
		var doc interface{}
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidTable, err)
		}
		if err := l.validator.ValidateDocument(doc); err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, &table); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidTable, err)
		}

	case FormatTOML:
		var doc map[string]interface{}
		if _, err := toml.NewDecoder(bytes.NewReader(data)).Decode(&doc); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidTable, err)
		}
		if err := l.validator.ValidateDocument(doc); err != nil {
			return nil, err
		}
		if _, err := toml.NewDecoder(bytes.NewReader(data)).Decode(&table); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidTable, err)
		}

	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}

	return table.Rows, nil
}

func (l *Loader) loadTOML(path string) ([]state.RowConfig, error) {
	var doc map[string]interface{}
	if _, err := toml.DecodeFile(path, &doc); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read row table: %w", err)
		}
		return nil, fmt.Errorf("%s: %w: %v", path, ErrInvalidTable, err)
	}
	if err := l.validator.ValidateDocument(doc); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	var table Table
	if _, err := toml.DecodeFile(path, &table); err != nil {
		return nil, fmt.Errorf("%s: %w: %v", path, ErrInvalidTable, err)
	}
	return table.Rows, nil
}

// Write stores rows at path in the format its extension names.
func Write(path string, configs []state.RowConfig) error {
	format, err := FormatOf(path)
	if err != nil {
		return err
	}

	if configs == nil {
		configs = []state.RowConfig{}
	}
	table := Table{Version: 1, Rows: configs}
	var data []byte

	switch format {
	case FormatJSON:
		data, err = json.MarshalIndent(table, "", "  ")
	case FormatYAML:
		data, err = yaml.Marshal(table)
	case FormatTOML:
		var buf bytes.Buffer
		err = toml.NewEncoder(&buf).Encode(table)
		data = buf.Bytes()
	}
	if err != nil {
		return fmt.Errorf("failed to encode row table: %w", err)
	}

	return os.WriteFile(path, data, 0o644)
}
