package manifest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"sort"

	"github.com/spf13/afero"
)

// Manifest maps a theme-relative file path to its content fingerprint.
// A loaded Manifest is treated as an immutable snapshot for the whole run.
type Manifest map[string]Value

// ParseError reports manifest data that is not a JSON object of fingerprints.
type ParseError struct {
	Source string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Source == "" {
		return fmt.Sprintf("malformed build manifest: %v", e.Err)
	}
	return fmt.Sprintf("malformed build manifest %s: %v", e.Source, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// UnavailableError reports a manifest that could not be read at all.
type UnavailableError struct {
	Path string
	Err  error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("build manifest %s unavailable: %v", e.Path, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// Parse decodes a manifest document. The top level must be a JSON object.
func Parse(data []byte) (Manifest, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, &ParseError{Err: errors.New("top-level value must be a JSON object")}
	}

	var raw map[string]Value
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return nil, &ParseError{Err: err}
	}

	return Manifest(raw), nil
}

// Load reads and parses the manifest at path from fsys.
func Load(fsys afero.Fs, path string) (Manifest, error) {
	data, err := afero.ReadFile(fsys, path)
	if err != nil {
		return nil, &UnavailableError{Path: path, Err: err}
	}

	m, err := Parse(data)
	if err != nil {
		var pe *ParseError
		if errors.As(err, &pe) {
			pe.Source = path
		}
		return nil, err
	}
	return m, nil
}

// LoadOrEmpty is Load with the "no previous build" fallback: whenever the
// manifest cannot be used an empty Manifest is returned together with the
// cause, so callers can log it and carry on.
func LoadOrEmpty(fsys afero.Fs, path string) (Manifest, error) {
	m, err := Load(fsys, path)
	if err != nil {
		return Manifest{}, err
	}
	return m, nil
}

// IsNotExist reports whether err means the manifest file was missing.
func IsNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}

// Paths returns the manifest keys in sorted order.
func (m Manifest) Paths() []string {
	paths := make([]string, 0, len(m))
	for p := range m {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}
