package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	json5 "github.com/yosuke-furukawa/json5/encoding/json5"
	"gopkg.in/yaml.v3"
)

// includeDirectives are the two spellings a config file may use to pull in
// another file's contents before this one is applied on top.
var includeDirectives = []string{"$include", "include"}

// LoadRaw reads path into a merged map, following $include directives
// depth-first and env-expanding every file before it's parsed. The result
// is untyped on purpose: decodeRawConfig strictly decodes it into Config
// afterward, so an include chain can't sneak an unknown field past the
// strict decoder by splitting it across files.
func LoadRaw(path string) (map[string]any, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("config path is required")
	}
	return loadConfigTree(path, map[string]bool{})
}

// loadConfigTree loads one file and everything it includes, detecting
// cycles via the visited set threaded through the recursion.
func loadConfigTree(path string, visiting map[string]bool) (map[string]any, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	if visiting[absPath] {
		return nil, fmt.Errorf("config include cycle detected at %s", absPath)
	}
	visiting[absPath] = true
	defer delete(visiting, absPath)

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, err
	}

	raw, err := parseRawBytes([]byte(os.ExpandEnv(string(data))), absPath)
	if err != nil {
		return nil, err
	}

	includePaths, err := popIncludeDirective(raw)
	if err != nil {
		return nil, err
	}

	merged := map[string]any{}
	baseDir := filepath.Dir(absPath)
	for _, inc := range includePaths {
		if strings.TrimSpace(inc) == "" {
			continue
		}
		if !filepath.IsAbs(inc) {
			inc = filepath.Join(baseDir, inc)
		}
		included, err := loadConfigTree(inc, visiting)
		if err != nil {
			return nil, err
		}
		merged = mergeMaps(merged, included)
	}

	return mergeMaps(merged, raw), nil
}

// parseRawBytes dispatches on file extension: .json/.json5 go through the
// JSON5 decoder (so operators can comment their config files), everything
// else is treated as YAML.
func parseRawBytes(data []byte, pathHint string) (map[string]any, error) {
	switch strings.ToLower(filepath.Ext(pathHint)) {
	case ".json", ".json5":
		raw := map[string]any{}
		if err := json5.Unmarshal(data, &raw); err != nil {
			return nil, err
		}
		return raw, nil
	default:
		return decodeSingleYAMLDocument(data)
	}
}

// decodeSingleYAMLDocument rejects a file containing more than one YAML
// document — a config file is not a multi-document stream, and silently
// taking the first document would hide the mistake.
func decodeSingleYAMLDocument(data []byte) (map[string]any, error) {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	raw := map[string]any{}
	if err := decoder.Decode(&raw); err != nil {
		return nil, err
	}
	if err := decoder.Decode(new(struct{})); err != io.EOF {
		return nil, fmt.Errorf("failed to parse config: expected single document")
	}
	return raw, nil
}

// popIncludeDirective removes whichever include spelling is present from
// raw (so it never reaches the strict Config decoder as an unknown field)
// and normalizes its value to a path list.
func popIncludeDirective(raw map[string]any) ([]string, error) {
	if raw == nil {
		return nil, nil
	}
	var value any
	for _, key := range includeDirectives {
		if v, ok := raw[key]; ok {
			value = v
			delete(raw, key)
			break
		}
	}
	if value == nil {
		return nil, nil
	}

	switch typed := value.(type) {
	case string:
		return []string{typed}, nil
	case []string:
		return typed, nil
	case []any:
		paths := make([]string, 0, len(typed))
		for _, entry := range typed {
			s, ok := entry.(string)
			if !ok {
				return nil, fmt.Errorf("include entries must be strings")
			}
			paths = append(paths, s)
		}
		return paths, nil
	default:
		return nil, fmt.Errorf("include must be a string or list of strings")
	}
}

// mergeMaps overlays src onto dst, recursing into nested maps so an
// included file's "memory: {neo4j_uri: ...}" and the includer's
// "memory: {token_budget: ...}" combine instead of one replacing the other
// wholesale.
func mergeMaps(dst, src map[string]any) map[string]any {
	if dst == nil {
		dst = map[string]any{}
	}
	for key, value := range src {
		if nested, ok := value.(map[string]any); ok {
			if existing, ok := dst[key].(map[string]any); ok {
				dst[key] = mergeMaps(existing, nested)
				continue
			}
		}
		dst[key] = value
	}
	return dst
}

// decodeRawConfig re-serializes the merged map as YAML and strictly
// decodes it into Config — round-tripping through YAML rather than
// mapstructure-ing the map directly reuses yaml.v3's own struct-tag and
// KnownFields(true) machinery instead of a second decoding layer.
func decodeRawConfig(raw map[string]any) (*Config, error) {
	payload, err := yaml.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize config: %w", err)
	}

	decoder := yaml.NewDecoder(bytes.NewReader(payload))
	decoder.KnownFields(true)

	var cfg Config
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := decoder.Decode(new(struct{})); err != io.EOF {
		return nil, fmt.Errorf("failed to parse config: expected single document")
	}
	return &cfg, nil
}
