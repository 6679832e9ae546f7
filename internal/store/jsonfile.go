package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/ohler55/ojg"
	"github.com/ohler55/ojg/jp"
	"github.com/ohler55/ojg/oj"
)

// JSONFile keeps one JSON document laid out as {"data": {<key>: {<category>: value}}}
// and rewrites it atomically on Save.
type JSONFile struct {
	path  string
	mu    sync.Mutex
	doc   map[string]any
	dirty bool
}

// OpenJSONFile loads the document at path. A missing file starts empty.
func OpenJSONFile(path string) (*JSONFile, error) {
	f := &JSONFile{path: path, doc: map[string]any{"data": map[string]any{}}}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return f, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read store %s: %w", path, err)
	}
	if len(data) == 0 {
		return f, nil
	}
	v, err := oj.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse store %s: %w", path, err)
	}
	doc, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("parse store %s: top level is not an object", path)
	}
	if _, ok := doc["data"].(map[string]any); !ok {
		doc["data"] = map[string]any{}
	}
	f.doc = doc
	return f, nil
}

func valuePath(category, key string) jp.Expr {
	return jp.C("data").C(key).C(category)
}

func (f *JSONFile) Get(category, key string) (json.RawMessage, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	v := valuePath(category, key).First(f.doc)
	if v == nil {
		return nil, false, nil
	}
	return json.RawMessage(oj.JSON(v)), true, nil
}

func (f *JSONFile) Set(category, key string, value json.RawMessage) error {
	v, err := oj.Parse(value)
	if err != nil {
		return fmt.Errorf("set %s/%s: %w", category, key, err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	data := f.doc["data"].(map[string]any)
	if _, ok := data[key].(map[string]any); !ok {
		data[key] = map[string]any{}
	}
	if err := valuePath(category, key).Set(f.doc, v); err != nil {
		return fmt.Errorf("set %s/%s: %w", category, key, err)
	}
	f.dirty = true
	return nil
}

// Save writes the document to a temp file and renames it over the original.
func (f *JSONFile) Save() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.dirty {
		return nil
	}

	out := oj.JSON(f.doc, &ojg.Options{Indent: 2, Sort: true})
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return fmt.Errorf("create store dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".store-*.json")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	if _, err := tmp.WriteString(out); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("replace store: %w", err)
	}
	f.dirty = false
	return nil
}

func (f *JSONFile) Close() error {
	return f.Save()
}
