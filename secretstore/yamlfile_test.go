package secretstore_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenticklabs/agentick/secretstore"
)

func TestYAMLFile_MissingFileIsEmptyStore(t *testing.T) {
	f, err := secretstore.NewYAMLFile(filepath.Join(t.TempDir(), "secrets.yaml"))
	require.NoError(t, err)

	has, err := f.Has(context.Background(), "ANTHROPIC_API_KEY")
	require.NoError(t, err)
	assert.False(t, has)
}

func TestYAMLFile_LoadsExistingDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secrets.yaml")
	require.NoError(t, os.WriteFile(path, []byte("ANTHROPIC_API_KEY: sk-from-file\n"), 0o600))

	f, err := secretstore.NewYAMLFile(path)
	require.NoError(t, err)

	v, err := f.Get(context.Background(), "ANTHROPIC_API_KEY")
	require.NoError(t, err)
	assert.Equal(t, "sk-from-file", v)
}

func TestYAMLFile_SetPersistsAcrossReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secrets.yaml")
	ctx := context.Background()

	f, err := secretstore.NewYAMLFile(path)
	require.NoError(t, err)
	require.NoError(t, f.Set(ctx, "OPENAI_API_KEY", "sk-abc"))

	reloaded, err := secretstore.NewYAMLFile(path)
	require.NoError(t, err)
	v, err := reloaded.Get(ctx, "OPENAI_API_KEY")
	require.NoError(t, err)
	assert.Equal(t, "sk-abc", v)
}

func TestYAMLFile_DeleteMissingReturnsNotFound(t *testing.T) {
	f, err := secretstore.NewYAMLFile(filepath.Join(t.TempDir(), "secrets.yaml"))
	require.NoError(t, err)

	err = f.Delete(context.Background(), "missing")
	var nf *secretstore.ErrNotFound
	require.ErrorAs(t, err, &nf)
}
