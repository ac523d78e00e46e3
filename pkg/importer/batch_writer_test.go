package importer

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/japaniel/kinenrich/pkg/db"
)

func rawRecord(value float64) db.RawRecord {
	return db.RawRecord{ECNumber: "2.7.1.1", ParameterType: "Km", Value: value, Organism: "Homo sapiens"}
}

func TestBatchWriterCommits(t *testing.T) {
	store := newStore(t)
	bw := NewBatchWriter(store, 2, 0)
	var commits atomic.Int32
	bw.OnCommit = func(n int) { commits.Add(int32(n)) }
	for _, v := range []float64{0.1, 0.2, 0.3} {
		rec := rawRecord(v)
		require.NoError(t, bw.Submit(func(ctx context.Context, tx *sql.Tx) error {
			_, err := store.InsertRawRecordsTx(tx, []db.RawRecord{rec})
			return err
		}))
	}
	require.NoError(t, bw.Close())
	assert.Equal(t, int32(3), commits.Load())

	recs, err := store.RawRecords(context.Background(), "2.7.1.1", "Km", "", "")
	require.NoError(t, err)
	assert.Len(t, recs, 3)
}

func TestBatchWriterRollsBackBatch(t *testing.T) {
	store := newStore(t)
	bw := NewBatchWriter(store, 2, 0)
	errCh := make(chan error, 1)
	bw.OnError = func(e error) { errCh <- e }

	rec := rawRecord(0.1)
	require.NoError(t, bw.Submit(func(ctx context.Context, tx *sql.Tx) error {
		_, err := store.InsertRawRecordsTx(tx, []db.RawRecord{rec})
		return err
	}))
	require.NoError(t, bw.Submit(func(ctx context.Context, tx *sql.Tx) error {
		return errors.New("intentional error")
	}))

	err := bw.Close()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "intentional error")
	select {
	case e := <-errCh:
		assert.Error(t, e)
	default:
		t.Fatal("expected OnError to be called")
	}

	recs, err := store.RawRecords(context.Background(), "2.7.1.1", "", "", "")
	require.NoError(t, err)
	assert.Empty(t, recs, "the whole batch rolls back")
}

func TestBatchWriterFlushesBySize(t *testing.T) {
	bw := NewBatchWriter(nil, 5, 0)
	var called atomic.Int32
	for i := 0; i < 12; i++ {
		require.NoError(t, bw.Submit(func(ctx context.Context, tx *sql.Tx) error {
			called.Add(1)
			return nil
		}))
	}
	require.NoError(t, bw.Close())
	assert.Equal(t, int32(12), called.Load())
	assert.ErrorIs(t, bw.Submit(func(context.Context, *sql.Tx) error { return nil }), ErrBatchWriterClosed)
	assert.ErrorIs(t, bw.Close(), ErrBatchWriterClosed)
}

func TestBatchWriterFlushesOnInterval(t *testing.T) {
	bw := NewBatchWriter(nil, 10, 20*time.Millisecond)
	ran := make(chan struct{})
	require.NoError(t, bw.Submit(func(ctx context.Context, tx *sql.Tx) error {
		close(ran)
		return nil
	}))
	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("interval flush did not run the write")
	}
	require.NoError(t, bw.Close())
}

func TestBatchWriterDropsBatchOnCancel(t *testing.T) {
	bw := NewBatchWriter(nil, 1, 0)
	var mu sync.Mutex
	var dropped []error
	bw.OnError = func(e error) {
		mu.Lock()
		dropped = append(dropped, e)
		mu.Unlock()
	}

	blocker := make(chan struct{})
	started := make(chan struct{})
	// the committer blocks on the first batch while the next two fill commitCh
	require.NoError(t, bw.Submit(func(ctx context.Context, tx *sql.Tx) error {
		close(started)
		<-blocker
		return nil
	}))
	<-started
	for i := 0; i < 2; i++ {
		require.NoError(t, bw.Submit(func(ctx context.Context, tx *sql.Tx) error { return nil }))
	}
	bw.cancel()
	require.NoError(t, bw.Submit(func(ctx context.Context, tx *sql.Tx) error { return nil }))
	close(blocker)

	err := bw.Close()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dropping batch")
	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, dropped, 1)
}
