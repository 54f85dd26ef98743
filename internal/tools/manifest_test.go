package tools

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadManifest(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "manifest.json")

	entries, err := LoadManifest(path)
	require.NoError(t, err, "missing manifest is not an error")
	assert.Nil(t, entries)

	want := []Entry{
		{ToolID: "shell_runner", Enabled: true, Description: "run commands"},
		{ToolID: "file_reader", Enabled: false},
	}
	require.NoError(t, SaveManifest(path, want))

	entries, err = LoadManifest(path)
	require.NoError(t, err)
	assert.Equal(t, want, entries)

	require.NoError(t, os.WriteFile(path, []byte("{broken"), 0644))
	_, err = LoadManifest(path)
	require.Error(t, err, "malformed manifests are rejected loudly")
}

func TestApply(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	require.NoError(t, reg.Register(noopTool("known")))

	Apply(reg, []Entry{
		{ToolID: "known", Enabled: false},
		{ToolID: "phantom", Enabled: true}, // declared but unimplemented
		{ToolID: ""},
	})

	assert.False(t, reg.Available("known"))
	assert.False(t, reg.Has("phantom"))
}

func TestWatcherReloadsOnChange(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "manifest.json")
	require.NoError(t, SaveManifest(path, []Entry{{ToolID: "alpha", Enabled: true}}))

	reg := NewRegistry()
	require.NoError(t, reg.Register(noopTool("alpha")))

	w, err := NewWatcher(path, reg)
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	require.Equal(t, 1, w.Reloads(), "start applies the manifest once")
	require.True(t, reg.Available("alpha"))

	require.NoError(t, SaveManifest(path, []Entry{{ToolID: "alpha", Enabled: false}}))

	require.Eventually(t, func() bool {
		return !reg.Available("alpha")
	}, 3*time.Second, 25*time.Millisecond, "manifest change disables the tool")
	assert.GreaterOrEqual(t, w.Reloads(), 2)
}

func TestWatcherStopIsIdempotent(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "manifest.json")
	w, err := NewWatcher(path, NewRegistry())
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	require.NoError(t, w.Start(context.Background()), "second start is a no-op")

	w.Stop()
	w.Stop()
}
