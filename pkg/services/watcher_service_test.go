package services

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsTableFile(t *testing.T) {
	assert.True(t, isTableFile("/data/inventory.csv"))
	assert.True(t, isTableFile("/data/demand_history.XLSX"))
	assert.False(t, isTableFile("/data/.inventory-123.csv.tmp"))
	assert.False(t, isTableFile("/data/notes.csv"))
	assert.False(t, isTableFile("/data/supplier.json"))
}

func TestDataWatcherDebouncesChanges(t *testing.T) {
	dir := t.TempDir()
	var calls int32
	w := NewDataWatcher(dir, 100*time.Millisecond, func(context.Context) {
		atomic.AddInt32(&calls, 1)
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	// a burst of writes collapses into one reload
	for _, name := range []string{"inventory.csv", "supplier.csv", "notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x\n"), 0o644))
	}

	assert.Eventually(t, func() bool { return atomic.LoadInt32(&calls) == 1 }, 3*time.Second, 20*time.Millisecond)
	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestReloadOnChangeRebuildsIndex(t *testing.T) {
	dir, ds := writeSampleDataset(t)
	datasets := NewDatasetService(dir, nil)
	retrieval := NewRetrievalService(DatasetChunkSource(datasets), NewHashingEmbedder(32), nil, nil, nil)

	_, err := retrieval.Rebuild(context.Background())
	require.NoError(t, err)
	assert.Equal(t, len(ds.Inventory)+len(ds.Suppliers), retrieval.Status().Chunks)

	ds.Suppliers = ds.Suppliers[:1]
	require.NoError(t, WriteDatasetCSV(dir, ds))

	ReloadOnChange(datasets, retrieval, nil)(context.Background())
	st := retrieval.Status()
	assert.Equal(t, uint64(2), st.Generation)
	assert.Equal(t, len(ds.Inventory)+1, st.Chunks)
}
