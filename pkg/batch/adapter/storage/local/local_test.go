package local

import (
	"context"
	"io"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marloq/riptide/pkg/batch/support/exception"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)
	return s
}

func TestNewStoreCreatesBaseDir(t *testing.T) {
	base := filepath.Join(t.TempDir(), "output", "exports")
	_, err := NewStore(base)
	require.NoError(t, err)
	assert.DirExists(t, base)
}

func TestNewStoreRejectsEmptyBaseDir(t *testing.T) {
	_, err := NewStore("")
	require.Error(t, err)
	assert.Equal(t, exception.ClassConfig, exception.ClassOf(err))
}

func TestUploadDownloadRoundTrip(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	content := "id,amount\nt1,100\n"
	require.NoError(t, s.Upload(ctx, "dt=2026-08-30/part-0.csv", strings.NewReader(content), "text/csv"))

	rc, err := s.Download(ctx, "dt=2026-08-30/part-0.csv")
	require.NoError(t, err)
	defer rc.Close()

	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, content, string(data))
}

func TestUploadRejectsEscapingNames(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	for _, name := range []string{"../escape.txt", "/etc/passwd", "a/../../b"} {
		err := s.Upload(ctx, name, strings.NewReader("x"), "")
		require.Error(t, err, "name %q should be rejected", name)
		assert.Equal(t, exception.ClassValidation, exception.ClassOf(err))
	}
}

func TestListFiltersByPrefix(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.Upload(ctx, "ledger/dt=2026-08-29/a.parquet", strings.NewReader("1"), ""))
	require.NoError(t, s.Upload(ctx, "ledger/dt=2026-08-30/b.parquet", strings.NewReader("2"), ""))
	require.NoError(t, s.Upload(ctx, "other/c.parquet", strings.NewReader("3"), ""))

	var names []string
	require.NoError(t, s.List(ctx, "ledger/", func(name string) error {
		names = append(names, name)
		return nil
	}))
	sort.Strings(names)
	assert.Equal(t, []string{"ledger/dt=2026-08-29/a.parquet", "ledger/dt=2026-08-30/b.parquet"}, names)
}

func TestDeleteRemovesObject(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.Upload(ctx, "tmp/scratch.txt", strings.NewReader("x"), ""))
	require.NoError(t, s.Delete(ctx, "tmp/scratch.txt"))

	_, err := s.Download(ctx, "tmp/scratch.txt")
	assert.Error(t, err)

	assert.Error(t, s.Delete(ctx, "tmp/scratch.txt"))
}

func TestOperationsHonorCancelledContext(t *testing.T) {
	s := newStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, s.Upload(ctx, "a.txt", strings.NewReader("x"), ""), context.Canceled)
	_, err := s.Download(ctx, "a.txt")
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, s.Delete(ctx, "a.txt"), context.Canceled)
	assert.NoError(t, s.Close())
}
