package jobs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestLedger(t *testing.T) *Ledger {
	t.Helper()
	l, err := OpenLedger(LedgerOptions{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestLedger(t *testing.T) {
	l := openTestLedger(t)
	job := NewCompactJob(CompactJob{Variant: "v", Seq: 1})

	_, err := l.Get(job.Key())
	require.ErrorIs(t, err, ErrRecordNotFound)
	done, err := l.Done(job.Key())
	require.NoError(t, err)
	assert.False(t, done)

	rec := Record{Key: job.Key(), Job: job, Status: StatusFailed, Attempts: 2, LastError: "boom", UpdatedAt: time.Unix(100, 0).UTC()}
	require.NoError(t, l.Put(rec))

	got, err := l.Get(job.Key())
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, 2, got.Attempts)
	assert.Equal(t, "boom", got.LastError)
	assert.Equal(t, job, got.Job)
	assert.True(t, rec.UpdatedAt.Equal(got.UpdatedAt))

	rec.Status = StatusDone
	require.NoError(t, l.Put(rec))
	done, err = l.Done(job.Key())
	require.NoError(t, err)
	assert.True(t, done)
}

func TestLedger_Records(t *testing.T) {
	l := openTestLedger(t)
	for _, seq := range []int64{3, 1, 2} {
		job := NewCompactJob(CompactJob{Variant: "v", Seq: seq})
		require.NoError(t, l.Put(Record{Key: job.Key(), Job: job, Status: StatusPending}))
	}

	var keys []string
	for rec, err := range l.Records() {
		require.NoError(t, err)
		keys = append(keys, rec.Key)
	}
	assert.Equal(t, []string{"compact/v/1", "compact/v/2", "compact/v/3"}, keys)
}

func TestLedger_OnDisk(t *testing.T) {
	dir := t.TempDir()
	l, err := OpenLedger(LedgerOptions{Dir: dir})
	require.NoError(t, err)
	require.NoError(t, l.Put(Record{Key: "k", Status: StatusDone}))
	require.NoError(t, l.Close())

	l, err = OpenLedger(LedgerOptions{Dir: dir})
	require.NoError(t, err)
	defer func() { _ = l.Close() }()
	done, err := l.Done("k")
	require.NoError(t, err)
	assert.True(t, done)

	_, err = OpenLedger(LedgerOptions{})
	assert.Error(t, err)
}
