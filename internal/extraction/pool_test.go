package extraction

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/facegate/internal/models"
)

func TestPoolBoundsConcurrency(t *testing.T) {
	var running, peak atomic.Int32
	p := NewPool(2, func(context.Context, uuid.UUID) error {
		n := running.Add(1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		running.Add(-1)
		return nil
	})
	defer p.Close()

	for i := 0; i < 6; i++ {
		require.NoError(t, p.Dispatch(context.Background(), models.ExtractionTask{JobID: uuid.New()}))
	}
	p.Drain()
	assert.LessOrEqual(t, peak.Load(), int32(2))
	assert.Positive(t, peak.Load())
}

func TestPoolCloseCancelsAndRejects(t *testing.T) {
	started := make(chan struct{})
	p := NewPool(1, func(ctx context.Context, _ uuid.UUID) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})
	require.NoError(t, p.Dispatch(context.Background(), models.ExtractionTask{JobID: uuid.New()}))
	<-started
	p.Close()

	assert.ErrorIs(t, p.Dispatch(context.Background(), models.ExtractionTask{}), errPoolClosed)
}
