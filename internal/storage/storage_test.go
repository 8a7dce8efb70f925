package storage

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flowboard/internal/config"
)

func TestLocalStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := New(ctx, config.UploadsConfig{Backend: "local", Dir: t.TempDir()})
	require.NoError(t, err)

	body := "release notes"
	require.NoError(t, store.Put(ctx, "issue-1/abc_notes.txt", strings.NewReader(body), int64(len(body)), "text/plain"))
	rc, err := store.Open(ctx, "issue-1/abc_notes.txt")
	require.NoError(t, err)
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, body, string(got))

	require.NoError(t, store.Delete(ctx, "issue-1/abc_notes.txt"))
	require.NoError(t, store.Delete(ctx, "issue-1/abc_notes.txt"), "deleting twice is not an error")
	_, err = store.Open(ctx, "issue-1/abc_notes.txt")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLocalStoreRejectsEscapingKeys(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()
	for _, key := range []string{"../outside", "/etc/passwd", "."} {
		assert.Error(t, store.Put(ctx, key, strings.NewReader("x"), 1, ""), key)
	}
}

func TestNewUnknownBackend(t *testing.T) {
	_, err := New(context.Background(), config.UploadsConfig{Backend: "ftp"})
	assert.Error(t, err)
}
