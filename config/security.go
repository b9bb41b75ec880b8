package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Limits applied to configuration input
const (
	maxConfigSize = 1 << 20 // a sink config is a few KB
	maxDepth      = 32
	maxEnvVarLen  = 4096
	maxPathLen    = 4096
)

type fileFormat int

const (
	formatJSON fileFormat = iota
	formatYAML
)

// formatOf returns the layer format selected by the file extension.
func formatOf(path string) (fileFormat, error) {
	if path == "" {
		return 0, fmt.Errorf("empty config path")
	}
	if len(path) > maxPathLen {
		return 0, fmt.Errorf("config path longer than %d bytes", maxPathLen)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return formatJSON, nil
	case ".yaml", ".yml":
		return formatYAML, nil
	default:
		return 0, fmt.Errorf("%s: config layers must be .json, .yaml or .yml", path)
	}
}

// readLayer reads a regular config file no larger than maxConfigSize.
func readLayer(path string) ([]byte, fileFormat, error) {
	format, err := formatOf(path)
	if err != nil {
		return nil, 0, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, 0, err
	}
	if !info.Mode().IsRegular() {
		return nil, 0, fmt.Errorf("%s is not a regular file", path)
	}
	if info.Size() > maxConfigSize {
		return nil, 0, fmt.Errorf("%s is %d bytes, limit is %d", path, info.Size(), maxConfigSize)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, err
	}
	return data, format, nil
}

// checkDepth rejects decoded layers nested deeper than maxDepth. It runs on
// the decoded value so JSON and YAML layers get the same limit.
func checkDepth(v any, depth int) error {
	if depth > maxDepth {
		return fmt.Errorf("config nested deeper than %d levels", maxDepth)
	}
	switch t := v.(type) {
	case map[string]any:
		for _, child := range t {
			if err := checkDepth(child, depth+1); err != nil {
				return err
			}
		}
	case []any:
		for _, child := range t {
			if err := checkDepth(child, depth+1); err != nil {
				return err
			}
		}
	}
	return nil
}

// checkEnvValue rejects override values no config field could hold.
func checkEnvValue(key, value string) error {
	if len(value) > maxEnvVarLen {
		return fmt.Errorf("%s is longer than %d bytes", key, maxEnvVarLen)
	}
	if strings.ContainsRune(value, 0) {
		return fmt.Errorf("%s contains a NUL byte", key)
	}
	return nil
}
