package dict

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads a dictionary in YAML (.yaml, .yml) or JSON.
func Load(path string) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var file File
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&file); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	return FromFile(file)
}

func EnsureLoaded(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("empty dictionary path")
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("dictionary path %s is a directory", path)
	}
	return Load(path)
}

// Resolve picks the dictionary for a run: an explicit path, the builtin
// "amr" naming, or none.
func Resolve(spec string) (*Store, error) {
	switch strings.TrimSpace(spec) {
	case "":
		return nil, nil
	case "amr":
		return AMR(), nil
	default:
		return EnsureLoaded(spec)
	}
}
