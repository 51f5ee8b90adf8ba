package database

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPingWithRetry_SucceedsAfterFailures(t *testing.T) {
	calls := 0
	err := pingWithRetry(context.Background(), zerolog.Nop(), "test", 3, func(context.Context) error {
		calls++
		if calls < 2 {
			return errors.New("connection refused")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestPingWithRetry_GivesUp(t *testing.T) {
	calls := 0
	refused := errors.New("connection refused")
	err := pingWithRetry(context.Background(), zerolog.Nop(), "test", 2, func(context.Context) error {
		calls++
		return refused
	})
	require.ErrorIs(t, err, refused)
	assert.Equal(t, 2, calls)
}

func TestPingWithRetry_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := pingWithRetry(ctx, zerolog.Nop(), "test", 5, func(context.Context) error {
		calls++
		cancel()
		return errors.New("down")
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}
