package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	json5 "github.com/yosuke-furukawa/json5/encoding/json5"
	"gopkg.in/yaml.v3"
)

// Include directives compose config files; both spellings are accepted.
var includeKeys = [...]string{"$include", "include"}

// Load reads a configuration file, resolves include directives, expands
// ${ENV} references, fills unset values from Default, and validates the
// result. Values absent from the file keep their defaults.
func Load(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("config path is required")
	}
	ld := loader{visiting: map[string]bool{}}
	raw, err := ld.read(path)
	if err != nil {
		return nil, err
	}
	cfg, err := decodeStrict(raw)
	if err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loader tracks the include chain currently being resolved so cyclic
// includes fail instead of recursing forever.
type loader struct {
	visiting map[string]bool
}

func (l loader) read(path string) (map[string]any, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	if l.visiting[abs] {
		return nil, fmt.Errorf("config include cycle detected at %s", abs)
	}
	l.visiting[abs] = true
	defer delete(l.visiting, abs)

	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, err
	}
	doc, err := decodeDocument(os.ExpandEnv(string(data)), filepath.Ext(abs))
	if err != nil {
		return nil, err
	}

	includes, err := popIncludes(doc)
	if err != nil {
		return nil, err
	}
	merged := map[string]any{}
	for _, inc := range includes {
		if !filepath.IsAbs(inc) {
			inc = filepath.Join(filepath.Dir(abs), inc)
		}
		sub, err := l.read(inc)
		if err != nil {
			return nil, err
		}
		deepMerge(merged, sub)
	}
	// The including file wins over everything it pulled in.
	deepMerge(merged, doc)
	return merged, nil
}

// decodeDocument parses one config document. JSON5 is accepted for .json
// and .json5 files; everything else is treated as YAML.
func decodeDocument(text, ext string) (map[string]any, error) {
	var doc map[string]any
	switch strings.ToLower(ext) {
	case ".json", ".json5":
		if err := json5.Unmarshal([]byte(text), &doc); err != nil {
			return nil, err
		}
	default:
		if err := decodeSingleYAML([]byte(text), &doc, false); err != nil {
			return nil, err
		}
	}
	if doc == nil {
		doc = map[string]any{}
	}
	return doc, nil
}

// decodeStrict maps the merged document onto Config. Unknown keys are
// errors so a typo surfaces at startup instead of as a silently-default
// budget.
func decodeStrict(raw map[string]any) (*Config, error) {
	payload, err := yaml.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize config: %w", err)
	}
	var cfg Config
	if err := decodeSingleYAML(payload, &cfg, true); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}

// decodeSingleYAML decodes exactly one YAML document into out, rejecting
// multi-document streams.
func decodeSingleYAML(data []byte, out any, strict bool) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	if strict {
		dec.KnownFields(true)
	}
	if err := dec.Decode(out); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("expected a single config document")
	}
	return nil
}

// popIncludes removes the include directive from a document and returns
// its paths. A bare string includes one file; a list includes several.
// Blank entries are skipped.
func popIncludes(doc map[string]any) ([]string, error) {
	var spec any
	for _, key := range includeKeys {
		if v, ok := doc[key]; ok {
			spec = v
			delete(doc, key)
			break
		}
	}

	var entries []any
	switch typed := spec.(type) {
	case nil:
		return nil, nil
	case string:
		entries = []any{typed}
	case []any:
		entries = typed
	case []string:
		for _, s := range typed {
			entries = append(entries, s)
		}
	default:
		return nil, errors.New("include must be a string or list of strings")
	}

	paths := make([]string, 0, len(entries))
	for _, entry := range entries {
		s, ok := entry.(string)
		if !ok {
			return nil, errors.New("include entries must be strings")
		}
		if strings.TrimSpace(s) == "" {
			continue
		}
		paths = append(paths, s)
	}
	return paths, nil
}

// deepMerge folds src into dst in place, descending into nested maps so
// sibling keys from different files survive side by side.
func deepMerge(dst, src map[string]any) {
	for key, value := range src {
		if srcMap, ok := value.(map[string]any); ok {
			if dstMap, ok := dst[key].(map[string]any); ok {
				deepMerge(dstMap, srcMap)
				continue
			}
		}
		dst[key] = value
	}
}
