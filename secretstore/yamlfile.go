package secretstore

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"
)

// YAMLFile is a Store backed by a single YAML document of name/value pairs
// on disk, for deployments that keep credentials in a mounted config file
// rather than the process environment or an OS keychain. Writes
// (Set/Delete) persist back to path immediately so the file always
// reflects the store's current contents.
type YAMLFile struct {
	path string

	mu      sync.Mutex
	secrets map[string]string
}

// NewYAMLFile loads secrets from path. A missing file is treated as an
// empty store rather than an error, so a fresh deployment can Set its way
// up without pre-creating the file.
func NewYAMLFile(path string) (*YAMLFile, error) {
	f := &YAMLFile{path: path, secrets: make(map[string]string)}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return f, nil
		}
		return nil, fmt.Errorf("secretstore: read %s: %w", path, err)
	}
	if len(data) == 0 {
		return f, nil
	}
	if err := yaml.Unmarshal(data, &f.secrets); err != nil {
		return nil, fmt.Errorf("secretstore: parse %s: %w", path, err)
	}
	return f, nil
}

func (f *YAMLFile) Get(_ context.Context, name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.secrets[name]
	if !ok {
		return "", &ErrNotFound{Name: name}
	}
	return v, nil
}

func (f *YAMLFile) Set(_ context.Context, name, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.secrets[name] = value
	return f.persistLocked()
}

func (f *YAMLFile) Delete(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.secrets[name]; !ok {
		return &ErrNotFound{Name: name}
	}
	delete(f.secrets, name)
	return f.persistLocked()
}

func (f *YAMLFile) Has(_ context.Context, name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.secrets[name]
	return ok, nil
}

func (f *YAMLFile) List(_ context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make([]string, 0, len(f.secrets))
	for k := range f.secrets {
		names = append(names, k)
	}
	sort.Strings(names)
	return names, nil
}

func (f *YAMLFile) persistLocked() error {
	data, err := yaml.Marshal(f.secrets)
	if err != nil {
		return fmt.Errorf("secretstore: marshal %s: %w", f.path, err)
	}
	if err := os.WriteFile(f.path, data, 0o600); err != nil {
		return fmt.Errorf("secretstore: write %s: %w", f.path, err)
	}
	return nil
}
