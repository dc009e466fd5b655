package secretstore

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"runtime"
)

// Keychain shells out to the platform's native secret store: `security` on
// macOS, `secret-tool` (libsecret) on Linux. There is no portable Go
// binding for either in this module's dependency set, so this backend is
// deliberately a thin os/exec wrapper rather than a CGO-bound client.
type Keychain struct {
	Service string // namespaces entries, e.g. the application name
}

// NewKeychain returns a Keychain-backed Store namespaced under service.
func NewKeychain(service string) *Keychain {
	return &Keychain{Service: service}
}

func (k *Keychain) Get(ctx context.Context, name string) (string, error) {
	switch runtime.GOOS {
	case "darwin":
		out, err := k.run(ctx, "security", "find-generic-password", "-a", name, "-s", k.Service, "-w")
		if err != nil {
			return "", &ErrNotFound{Name: name}
		}
		return out, nil
	case "linux":
		out, err := k.run(ctx, "secret-tool", "lookup", "service", k.Service, "account", name)
		if err != nil {
			return "", &ErrNotFound{Name: name}
		}
		return out, nil
	default:
		return "", fmt.Errorf("secretstore: keychain backend not supported on %s", runtime.GOOS)
	}
}

func (k *Keychain) Set(ctx context.Context, name, value string) error {
	switch runtime.GOOS {
	case "darwin":
		_, err := k.run(ctx, "security", "add-generic-password", "-U", "-a", name, "-s", k.Service, "-w", value)
		return err
	case "linux":
		cmd := exec.CommandContext(ctx, "secret-tool", "store", "--label", name, "service", k.Service, "account", name)
		cmd.Stdin = bytes.NewReader([]byte(value))
		return cmd.Run()
	default:
		return fmt.Errorf("secretstore: keychain backend not supported on %s", runtime.GOOS)
	}
}

func (k *Keychain) Delete(ctx context.Context, name string) error {
	switch runtime.GOOS {
	case "darwin":
		_, err := k.run(ctx, "security", "delete-generic-password", "-a", name, "-s", k.Service)
		return err
	case "linux":
		_, err := k.run(ctx, "secret-tool", "clear", "service", k.Service, "account", name)
		return err
	default:
		return fmt.Errorf("secretstore: keychain backend not supported on %s", runtime.GOOS)
	}
}

func (k *Keychain) Has(ctx context.Context, name string) (bool, error) {
	_, err := k.Get(ctx, name)
	if err != nil {
		return false, nil
	}
	return true, nil
}

// List is not supported: neither `security` nor `secret-tool` exposes a
// stable way to enumerate entries scoped to one service without parsing
// tool-specific, version-fragile output.
func (k *Keychain) List(_ context.Context) ([]string, error) {
	return nil, fmt.Errorf("secretstore: keychain backend does not support listing")
}

func (k *Keychain) run(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		return "", err
	}
	out := stdout.String()
	for len(out) > 0 && (out[len(out)-1] == '\n' || out[len(out)-1] == '\r') {
		out = out[:len(out)-1]
	}
	return out, nil
}
