package secretstore

import (
	"context"
	"os"
	"sort"
)

// Env reads secrets from process environment variables. It is read-mostly:
// Set/Delete only affect this process's own environment (via os.Setenv/
// os.Unsetenv) and never persist past it. Known bounds List to a declared
// set of names instead of scanning the whole environment, since most env
// vars in a process have nothing to do with secrets.
type Env struct {
	known []string
}

// NewEnv returns an Env store scoped to the given variable names.
func NewEnv(known ...string) *Env {
	return &Env{known: known}
}

func (e *Env) Get(_ context.Context, name string) (string, error) {
	v, ok := os.LookupEnv(name)
	if !ok {
		return "", &ErrNotFound{Name: name}
	}
	return v, nil
}

func (e *Env) Set(_ context.Context, name, value string) error {
	return os.Setenv(name, value)
}

func (e *Env) Delete(_ context.Context, name string) error {
	return os.Unsetenv(name)
}

func (e *Env) Has(_ context.Context, name string) (bool, error) {
	_, ok := os.LookupEnv(name)
	return ok, nil
}

func (e *Env) List(_ context.Context) ([]string, error) {
	var present []string
	for _, name := range e.known {
		if _, ok := os.LookupEnv(name); ok {
			present = append(present, name)
		}
	}
	sort.Strings(present)
	return present, nil
}
