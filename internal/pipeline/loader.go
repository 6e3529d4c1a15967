package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"gopkg.in/yaml.v3"
)

// Loader parses pipeline yaml files. Parsed definitions are cached keyed by
// path plus content hash, so edited files reparse and untouched ones do not.
type Loader struct {
	cache *lru.Cache[string, *Pipeline]
}

const loaderCacheSize = 128

func NewLoader() *Loader {
	cache, _ := lru.New[string, *Pipeline](loaderCacheSize)
	return &Loader{cache: cache}
}

// Load parses and validates a single pipeline file.
func (l *Loader) Load(path string) (*Pipeline, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading pipeline %s: %w", path, err)
	}

	sum := sha256.Sum256(data)
	key := path + ":" + hex.EncodeToString(sum[:])
	if p, ok := l.cache.Get(key); ok {
		return p, nil
	}

	var p Pipeline
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parsing pipeline %s: %w", path, err)
	}
	if p.Name == "" {
		base := filepath.Base(path)
		p.Name = strings.TrimSuffix(base, filepath.Ext(base))
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("pipeline %s: %w", path, err)
	}

	l.cache.Add(key, &p)
	return &p, nil
}

// LoadDir loads every .yml and .yaml file in dir, sorted by file name.
// A file that fails to parse or validate fails the whole load; a missing
// directory is an empty set, not an error.
func (l *Loader) LoadDir(dir string) ([]*Pipeline, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		slog.Warn("Pipeline directory does not exist", "dir", dir)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading pipeline dir %s: %w", dir, err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := filepath.Ext(e.Name())
		if ext == ".yml" || ext == ".yaml" {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	pipelines := make([]*Pipeline, 0, len(names))
	seen := make(map[string]string)
	for _, name := range names {
		p, err := l.Load(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		if prev, dup := seen[p.Name]; dup {
			return nil, fmt.Errorf("pipeline name %q defined in both %s and %s", p.Name, prev, name)
		}
		seen[p.Name] = name
		pipelines = append(pipelines, p)
	}
	return pipelines, nil
}
