package manifest

import (
	"fmt"
	"maps"
	"slices"

	"github.com/BurntSushi/toml"
)

// Tree is a decoded manifest document. It does not leave this package:
// the parser extracts everything it needs into model types.
type Tree map[string]any

// Decode decodes TOML manifest bytes into a Tree
func Decode(data []byte) (Tree, error) {
	var doc map[string]any
	if err := toml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode manifest: %w", err)
	}
	return Tree(doc), nil
}

// Table returns the nested table stored under key
func (t Tree) Table(key string) (Tree, bool) {
	switch v := t[key].(type) {
	case map[string]any:
		return Tree(v), true
	case Tree:
		return v, true
	}
	return nil, false
}

// String returns the string stored under key
func (t Tree) String(key string) (string, bool) {
	s, ok := t[key].(string)
	return s, ok
}

// Tables returns the array of tables stored under key
func (t Tree) Tables(key string) []Tree {
	switch v := t[key].(type) {
	case []map[string]any:
		out := make([]Tree, 0, len(v))
		for _, m := range v {
			out = append(out, Tree(m))
		}
		return out
	case []any:
		out := make([]Tree, 0, len(v))
		for _, item := range v {
			if m, ok := item.(map[string]any); ok {
				out = append(out, Tree(m))
			}
		}
		return out
	case map[string]any:
		return []Tree{Tree(v)}
	}
	return nil
}

// Strings returns the string array stored under key, skipping non-strings
func (t Tree) Strings(key string) []string {
	switch v := t[key].(type) {
	case []string:
		return slices.Clone(v)
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// Keys returns the keys of the tree in sorted order
func (t Tree) Keys() []string {
	return slices.Sorted(maps.Keys(t))
}
