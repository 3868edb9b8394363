package interlock

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDoReleasesOnError(t *testing.T) {
	rec := NewRecorder()
	boom := errors.New("boom")

	err := Do(rec.Locker(Ledger), func() error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.True(t, rec.Balanced())
	assert.Equal(t, 1, rec.Count(Ledger))
}

func TestDoReleasesOnPanic(t *testing.T) {
	rec := NewRecorder()

	assert.Panics(t, func() {
		_ = Do(rec.Locker(UniqueName), func() error { panic("worker fault") })
	})
	assert.True(t, rec.Balanced())

	// the lock is usable again
	require.NoError(t, Do(rec.Locker(UniqueName), func() error { return nil }))
	assert.Equal(t, 2, rec.Count(UniqueName))
	assert.True(t, rec.Balanced())
}

func TestRecorderRolesAreIndependent(t *testing.T) {
	rec := NewRecorder()
	err := Do(rec.Locker(UniqueName), func() error {
		return Do(rec.Locker(DuplicateFixup), func() error { return nil })
	})
	require.NoError(t, err)
	assert.Same(t, rec.Locker(Ledger), rec.Locker(Ledger))
	assert.Equal(t, 1, rec.Count(UniqueName))
	assert.Equal(t, 1, rec.Count(DuplicateFixup))
	assert.Equal(t, 0, rec.Count(Ledger))
	assert.Len(t, rec.Events(), 4)
	assert.True(t, rec.Balanced())
}

func TestFileProviderSerializes(t *testing.T) {
	provider := NewFileProvider(t.TempDir())

	const workers, rounds = 8, 25
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		inside  int
		overlap bool
		total   int
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < rounds; i++ {
				err := Do(provider.Locker(Ledger), func() error {
					mu.Lock()
					inside++
					if inside > 1 {
						overlap = true
					}
					mu.Unlock()

					mu.Lock()
					inside--
					total++
					mu.Unlock()
					return nil
				})
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	assert.False(t, overlap)
	assert.Equal(t, workers*rounds, total)
}

func TestFileProviderUnlockWithoutLock(t *testing.T) {
	provider := NewFileProvider(t.TempDir())
	assert.Error(t, provider.Locker(Ledger).Unlock())
}

func TestNewFileProviderDefaultsToTempDir(t *testing.T) {
	assert.NotEmpty(t, NewFileProvider("").Dir)
}
