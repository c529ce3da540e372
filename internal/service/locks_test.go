package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDialogLocks(t *testing.T) {
	locks := newDialogLocks()
	ctx := context.Background()

	unlock, err := locks.Lock(ctx, 1)
	require.NoError(t, err)

	other, err := locks.Lock(ctx, 2)
	require.NoError(t, err, "different dialogs do not block each other")
	other()

	waitCtx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	_, err = locks.Lock(waitCtx, 1)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	unlock()
	assert.Zero(t, locks.size())

	again, err := locks.Lock(ctx, 1)
	require.NoError(t, err)
	again()
}
