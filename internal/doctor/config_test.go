package doctor

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigChecks(t *testing.T) {
	ctx := context.Background()
	t.Setenv("CSCS_KEYGEN_RETRIES", "")
	dir := t.TempDir()

	t.Run("valid file", func(t *testing.T) {
		path := filepath.Join(dir, "good.yaml")
		require.NoError(t, os.WriteFile(path, []byte("backend: bw\nitem: cscs\n"), 0o644))

		results := RunAll(ctx, NewConfigChecks(path))
		require.Len(t, results, 2)
		assert.Equal(t, StatusPass, results[0].Status)
		assert.Contains(t, results[0].Message, path)
		assert.Equal(t, StatusPass, results[1].Status)
	})

	t.Run("invalid value", func(t *testing.T) {
		path := filepath.Join(dir, "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte("retries: 99\n"), 0o644))

		res := (&ConfigSchemaCheck{ConfigPath: path}).Run(ctx)
		assert.Equal(t, StatusFail, res.Status)
		assert.Contains(t, res.Message, "at most")
	})

	t.Run("missing explicit file", func(t *testing.T) {
		results := RunAll(ctx, NewConfigChecks(filepath.Join(dir, "none.yaml")))
		assert.Equal(t, StatusFail, results[0].Status)
		assert.Contains(t, results[0].Message, "not found")
		assert.Equal(t, StatusFail, results[1].Status)
	})

	t.Run("no file uses defaults", func(t *testing.T) {
		t.Setenv("HOME", t.TempDir())
		t.Chdir(t.TempDir())

		results := RunAll(ctx, NewConfigChecks(""))
		assert.Equal(t, StatusPass, results[0].Status)
		assert.Contains(t, results[0].Message, "using defaults")
		assert.Equal(t, StatusPass, results[1].Status)
	})
}
