package backup

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStorePut(t *testing.T) {
	root := t.TempDir()
	s, err := NewLocalStore(root)
	require.NoError(t, err)

	err = s.Put(context.Background(), "snapshot.db", strings.NewReader("payload"), 7)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(root, "snapshot.db"))
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))

	// No temp files left behind.
	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestLocalStorePutOverwrites(t *testing.T) {
	root := t.TempDir()
	s, err := NewLocalStore(root)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "snapshot.db", strings.NewReader("old"), -1))
	require.NoError(t, s.Put(ctx, "snapshot.db", strings.NewReader("new"), -1))

	data, err := os.ReadFile(filepath.Join(root, "snapshot.db"))
	require.NoError(t, err)
	assert.Equal(t, "new", string(data))
}

func TestLocalStorePutNested(t *testing.T) {
	root := t.TempDir()
	s, err := NewLocalStore(root)
	require.NoError(t, err)

	err = s.Put(context.Background(), "daily/2026-08-29.db", strings.NewReader("x"), -1)
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(root, "daily", "2026-08-29.db"))
	assert.NoError(t, err)
}

func TestLocalStorePutCancelled(t *testing.T) {
	s, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = s.Put(ctx, "snapshot.db", strings.NewReader("x"), -1)
	assert.ErrorIs(t, err, context.Canceled)
}
