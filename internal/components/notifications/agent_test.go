package notifications

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeliverAll_ReportsFailuresWithoutCancellingSiblings(t *testing.T) {
	refused := errors.New("connection refused")
	var (
		mu        sync.Mutex
		delivered []int
	)

	failed, err := deliverAll(context.Background(), []int{1, 2, 3, 4}, func(ctx context.Context, n int) error {
		if n%2 == 0 {
			return refused
		}
		// A sibling's failure must not cancel this delivery.
		if ctx.Err() != nil {
			return ctx.Err()
		}
		mu.Lock()
		delivered = append(delivered, n)
		mu.Unlock()
		return nil
	})

	assert.Equal(t, 2, failed)
	require.ErrorIs(t, err, refused)
	assert.ElementsMatch(t, []int{1, 3}, delivered)
}

func TestDeliverAll_NoRecipients(t *testing.T) {
	failed, err := deliverAll(context.Background(), nil, func(context.Context, string) error {
		t.Fatal("send called without recipients")
		return nil
	})

	assert.Zero(t, failed)
	assert.NoError(t, err)
}
