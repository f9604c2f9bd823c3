package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	json5 "github.com/yosuke-furukawa/json5/encoding/json5"
	"gopkg.in/yaml.v3"
)

// includeKey names other config files whose contents are merged in under
// the including file. The including file's own keys win on conflict.
const includeKey = "$include"

// loader tracks the include chain of one LoadRaw call so a cycle fails
// instead of recursing forever.
type loader struct {
	visited map[string]bool
}

// LoadRaw reads the file at path into a merged raw map, resolving
// $include directives relative to the including file. Environment
// references like ${ANTHROPIC_API_KEY} are expanded before parsing.
func LoadRaw(path string) (map[string]any, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("config path is required")
	}
	l := loader{visited: make(map[string]bool)}
	return l.load(path)
}

func (l loader) load(path string) (map[string]any, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	if l.visited[abs] {
		return nil, fmt.Errorf("config include cycle detected at %s", abs)
	}
	l.visited[abs] = true
	defer delete(l.visited, abs)

	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, err
	}
	doc, err := parseDocument([]byte(os.ExpandEnv(string(data))), abs)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", abs, err)
	}

	includes, err := popIncludes(doc)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", abs, err)
	}

	merged := make(map[string]any)
	for _, inc := range includes {
		if !filepath.IsAbs(inc) {
			inc = filepath.Join(filepath.Dir(abs), inc)
		}
		sub, err := l.load(inc)
		if err != nil {
			return nil, err
		}
		mergeInto(merged, sub)
	}
	mergeInto(merged, doc)
	return merged, nil
}

// parseDocument decodes one file: JSON5 for .json5, YAML otherwise.
func parseDocument(data []byte, path string) (map[string]any, error) {
	var doc map[string]any
	if strings.EqualFold(filepath.Ext(path), ".json5") {
		if err := json5.Unmarshal(data, &doc); err != nil {
			return nil, err
		}
	} else if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if doc == nil {
		doc = make(map[string]any)
	}
	return doc, nil
}

// popIncludes removes the $include entry from doc and returns its paths.
func popIncludes(doc map[string]any) ([]string, error) {
	val, ok := doc[includeKey]
	if !ok {
		return nil, nil
	}
	delete(doc, includeKey)

	switch v := val.(type) {
	case string:
		if strings.TrimSpace(v) == "" {
			return nil, nil
		}
		return []string{v}, nil
	case []any:
		paths := make([]string, 0, len(v))
		for _, entry := range v {
			s, ok := entry.(string)
			if !ok {
				return nil, fmt.Errorf("%s entries must be strings", includeKey)
			}
			if strings.TrimSpace(s) == "" {
				continue
			}
			paths = append(paths, s)
		}
		return paths, nil
	default:
		return nil, fmt.Errorf("%s must be a path or a list of paths", includeKey)
	}
}

// mergeInto overlays src onto dst, merging nested maps key by key so an
// including file can override a single leaf without clobbering the rest
// of an included section.
func mergeInto(dst, src map[string]any) {
	for key, value := range src {
		srcMap, srcIsMap := value.(map[string]any)
		dstMap, dstIsMap := dst[key].(map[string]any)
		if srcIsMap && dstIsMap {
			mergeInto(dstMap, srcMap)
			continue
		}
		if srcIsMap {
			copied := make(map[string]any, len(srcMap))
			mergeInto(copied, srcMap)
			dst[key] = copied
			continue
		}
		dst[key] = value
	}
}

// decodeRawConfig strictly decodes the merged map, rejecting unknown keys.
func decodeRawConfig(raw map[string]any) (*Config, error) {
	payload, err := yaml.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("serialize config: %w", err)
	}
	decoder := yaml.NewDecoder(bytes.NewReader(payload))
	decoder.KnownFields(true)
	var cfg Config
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &cfg, nil
}
