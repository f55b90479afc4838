package assets

import (
	"os"
	"path/filepath"
	"testing"

	"gotest.tools/v3/assert"
)

func TestSeedCreatesRootAndWritesDefaults(t *testing.T) {
	root := filepath.Join(t.TempDir(), "www")
	assert.NilError(t, Seed(root, false))

	index, err := os.ReadFile(filepath.Join(root, indexName))
	assert.NilError(t, err)
	assert.Assert(t, len(index) > 0)

	css, err := os.ReadFile(filepath.Join(root, cssName))
	assert.NilError(t, err)
	assert.Assert(t, len(css) > 0)
}

func TestSeedNeverOverwritesExistingFile(t *testing.T) {
	root := t.TempDir()
	custom := []byte("custom content")
	assert.NilError(t, os.WriteFile(filepath.Join(root, indexName), custom, 0o644))

	assert.NilError(t, Seed(root, false))

	got, err := os.ReadFile(filepath.Join(root, indexName))
	assert.NilError(t, err)
	assert.Equal(t, string(custom), string(got))
}

func TestSeedReadOnlyOnlyCreatesRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "www")
	assert.NilError(t, Seed(root, true))

	_, err := os.Stat(root)
	assert.NilError(t, err)
	_, err = os.Stat(filepath.Join(root, indexName))
	assert.Assert(t, os.IsNotExist(err))
}
