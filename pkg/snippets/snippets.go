package snippets

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// ErrNotFound is returned when a snippet name resolves to nothing.
var ErrNotFound = errors.New("snippet not found")

// Provider resolves named text snippets that get injected into a
// conversation as ordinary messages.
type Provider interface {
	Get(name string) (string, error)
	List() ([]string, error)
}

// InMemoryProvider is a thread-safe map-backed Provider.
type InMemoryProvider struct {
	mu       sync.RWMutex
	snippets map[string]string
}

var _ Provider = (*InMemoryProvider)(nil)

func NewInMemoryProvider() *InMemoryProvider {
	return &InMemoryProvider{snippets: map[string]string{}}
}

func (p *InMemoryProvider) Put(name, content string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.snippets[name] = content
}

func (p *InMemoryProvider) Get(name string) (string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	content, ok := p.snippets[name]
	if !ok {
		return "", errors.Wrapf(ErrNotFound, "snippet %q", name)
	}
	return content, nil
}

func (p *InMemoryProvider) List() ([]string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	names := make([]string, 0, len(p.snippets))
	for name := range p.snippets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// DirProvider serves snippets from a directory of text files. The snippet
// name is the file name without extension.
type DirProvider struct {
	dir string
}

var _ Provider = (*DirProvider)(nil)

func NewDirProvider(dir string) (*DirProvider, error) {
	if dir == "" {
		return nil, errors.New("snippet directory is required")
	}
	return &DirProvider{dir: dir}, nil
}

func (p *DirProvider) Get(name string) (string, error) {
	entries, err := os.ReadDir(p.dir)
	if err != nil {
		return "", errors.Wrapf(err, "could not read snippet directory %s", p.dir)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		base := strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name()))
		if base != name && entry.Name() != name {
			continue
		}
		data, err := os.ReadFile(filepath.Join(p.dir, entry.Name()))
		if err != nil {
			return "", errors.Wrapf(err, "could not read snippet file %s", entry.Name())
		}
		return string(data), nil
	}

	return "", errors.Wrapf(ErrNotFound, "snippet %q in %s", name, p.dir)
}

func (p *DirProvider) List() ([]string, error) {
	entries, err := os.ReadDir(p.dir)
	if err != nil {
		return nil, errors.Wrapf(err, "could not read snippet directory %s", p.dir)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		names = append(names, strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name())))
	}
	sort.Strings(names)
	return names, nil
}
