package personas

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// YAMLDirStore loads personas from a directory of YAML files. The persona
// name is the file name without extension. Files are parsed lazily and
// cached; Reload drops the cache.
type YAMLDirStore struct {
	mu    sync.RWMutex
	dir   string
	cache map[string]*Persona
}

var _ Provider = (*YAMLDirStore)(nil)

func NewYAMLDirStore(dir string) (*YAMLDirStore, error) {
	if dir == "" {
		return nil, errors.New("persona directory is required")
	}
	return &YAMLDirStore{
		dir:   dir,
		cache: map[string]*Persona{},
	}, nil
}

func (s *YAMLDirStore) Get(name string) (*Persona, error) {
	s.mu.RLock()
	if p, ok := s.cache[name]; ok {
		s.mu.RUnlock()
		return p.Clone(), nil
	}
	s.mu.RUnlock()

	p, err := s.loadFile(name)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.cache[name] = p
	s.mu.Unlock()

	return p.Clone(), nil
}

func (s *YAMLDirStore) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, errors.Wrapf(err, "could not read persona directory %s", s.dir)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		names = append(names, strings.TrimSuffix(entry.Name(), ext))
	}
	sort.Strings(names)
	return names, nil
}

// Reload drops the cache so that edited persona files are picked up.
func (s *YAMLDirStore) Reload() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache = map[string]*Persona{}
}

func (s *YAMLDirStore) loadFile(name string) (*Persona, error) {
	var path string
	for _, ext := range []string{".yaml", ".yml"} {
		candidate := filepath.Join(s.dir, name+ext)
		if _, err := os.Stat(candidate); err == nil {
			path = candidate
			break
		}
	}
	if path == "" {
		return nil, errors.Wrapf(ErrNotFound, "persona %q in %s", name, s.dir)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "could not read persona file %s", path)
	}

	p := &Persona{}
	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, errors.Wrapf(err, "could not parse persona file %s", path)
	}
	if p.Name == "" {
		p.Name = name
	}
	p.Source = path

	log.Debug().Str("persona", p.Name).Str("path", path).Msg("loaded persona from disk")
	return p, nil
}
