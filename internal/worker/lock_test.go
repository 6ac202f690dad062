package worker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessLocker(t *testing.T) {
	ctx := context.Background()
	locker := NewProcessLocker()

	release, acquired, err := locker.TryLock(ctx, "model-1")
	require.NoError(t, err)
	require.True(t, acquired)

	t.Run("Second Acquire Fails Without Blocking", func(t *testing.T) {
		_, again, err := locker.TryLock(ctx, "model-1")
		require.NoError(t, err)
		assert.False(t, again)
	})

	t.Run("Other Models Are Independent", func(t *testing.T) {
		releaseOther, acquired, err := locker.TryLock(ctx, "model-2")
		require.NoError(t, err)
		assert.True(t, acquired)
		releaseOther()
	})

	t.Run("Release Frees The Model", func(t *testing.T) {
		release()
		releaseAgain, acquired, err := locker.TryLock(ctx, "model-1")
		require.NoError(t, err)
		assert.True(t, acquired)
		releaseAgain()
	})
}
