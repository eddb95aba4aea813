package service

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDebouncer_CollapsesBurst(t *testing.T) {
	deb := NewDebouncer(30 * time.Millisecond)
	var runs atomic.Int64

	for i := 0; i < 10; i++ {
		deb.Do(func() { runs.Add(1) })
	}

	assert.Eventually(t, func() bool { return runs.Load() == 1 }, time.Second, 10*time.Millisecond)
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, int64(1), runs.Load())
}

func TestDebouncer_StopCancelsPending(t *testing.T) {
	deb := NewDebouncer(30 * time.Millisecond)
	var runs atomic.Int64

	deb.Do(func() { runs.Add(1) })
	deb.Stop()

	time.Sleep(80 * time.Millisecond)
	assert.Zero(t, runs.Load())
}

func TestSaveWatcher_SyncsSettledSaveFile(t *testing.T) {
	server, _ := countingServer(t)
	fx := newFixture(t, server, false)

	dir := t.TempDir()
	w := NewSaveWatcher(fx.svc, dir, zerolog.Nop())
	w.delay = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer w.Close()

	path := filepath.Join(dir, "Pokemon.sav")
	require.NoError(t, os.WriteFile(path, []byte{1}, 0600))
	require.NoError(t, os.WriteFile(path, []byte{1, 2, 3}, 0600))

	assert.Eventually(t, func() bool {
		return assert.ObjectsAreEqual([]byte{1, 2, 3}, fx.kv.Bytes("Pokemon"))
	}, 3*time.Second, 20*time.Millisecond)
}

func TestSaveWatcher_IgnoresOtherFiles(t *testing.T) {
	server, calls := countingServer(t)
	fx := newFixture(t, server, false)

	dir := t.TempDir()
	w := NewSaveWatcher(fx.svc, dir, zerolog.Nop())
	w.delay = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer w.Close()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0600))

	time.Sleep(150 * time.Millisecond)
	assert.Nil(t, fx.kv.Bytes("notes"))
	assert.Zero(t, calls.Load())
}
