package dataflow

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agrisim/simkernel/errors"
	"github.com/agrisim/simkernel/subsystem"
)

// queueFixture builds a queue set backed by a router with the given
// triples declared, so enqueues pass the declaration check.
func queueFixture(t *testing.T, capacity int, router *Router, triples ...[3]string) *QueueSet {
	t.Helper()
	if router == nil {
		router = NewRouter(newFakeInstances(), nil, nil, nil)
	}
	for _, tr := range triples {
		require.NoError(t, router.Declare(Route{
			Source:      subsystem.Kind(tr[0]),
			Target:      subsystem.Kind(tr[1]),
			MessageKind: tr[2],
			Priority:    PriorityNormal,
			Enabled:     true,
		}))
	}
	return NewQueueSet(capacity, router, nil)
}

func TestEnqueueDrainFIFO(t *testing.T) {
	qs := queueFixture(t, 8, nil, [3]string{"weather", "crop_growth", "weather_update"})

	for i := 0; i < 5; i++ {
		err := qs.Enqueue(subsystem.KindWeather, subsystem.KindCropGrowth,
			"weather_update", i, PriorityNormal)
		require.NoError(t, err)
	}
	assert.Equal(t, 5, qs.Depth(subsystem.KindCropGrowth))

	batch := qs.DrainBatch(subsystem.KindCropGrowth, 3)
	require.Len(t, batch, 3)
	for i, env := range batch {
		assert.Equal(t, i, env.Payload)
		assert.NotEmpty(t, env.ID)
		assert.Equal(t, subsystem.KindWeather, env.Source)
		assert.False(t, env.EnqueuedAt.IsZero())
	}
	assert.Equal(t, 2, qs.Depth(subsystem.KindCropGrowth))

	rest := qs.DrainBatch(subsystem.KindCropGrowth, 10)
	require.Len(t, rest, 2)
	assert.Equal(t, 3, rest[0].Payload)
	assert.Equal(t, 4, rest[1].Payload)
}

func TestEnqueueFullFailsFast(t *testing.T) {
	qs := queueFixture(t, 2, nil, [3]string{"weather", "soil", "m"})

	require.NoError(t, qs.Enqueue(subsystem.KindWeather, subsystem.KindSoil, "m", 1, PriorityNormal))
	require.NoError(t, qs.Enqueue(subsystem.KindWeather, subsystem.KindSoil, "m", 2, PriorityNormal))

	err := qs.Enqueue(subsystem.KindWeather, subsystem.KindSoil, "m", 3, PriorityNormal)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrQueueFull)
	assert.True(t, errors.IsTransient(err))

	// the full queue kept its original contents
	batch := qs.DrainBatch(subsystem.KindSoil, 10)
	require.Len(t, batch, 2)
	assert.Equal(t, 1, batch[0].Payload)
}

func TestEnqueueUnknownTarget(t *testing.T) {
	qs := queueFixture(t, 2, nil)
	err := qs.Enqueue(subsystem.KindWeather, "warp_drive", "m", 1, PriorityNormal)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrUnknownSubsystem)
}

func TestEnqueueUndeclaredRoute(t *testing.T) {
	qs := queueFixture(t, 8, nil, [3]string{"weather", "soil", "moisture"})

	// same target, different kind: not declared, never buffered
	err := qs.Enqueue(subsystem.KindWeather, subsystem.KindSoil, "temperature", 1, PriorityNormal)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrNoRoute)
	assert.True(t, errors.IsInvalid(err))
	assert.Equal(t, 0, qs.Depth(subsystem.KindSoil))

	// the declared triple still flows
	require.NoError(t, qs.Enqueue(subsystem.KindWeather, subsystem.KindSoil, "moisture", 2, PriorityNormal))
	assert.Equal(t, 1, qs.Depth(subsystem.KindSoil))
}

func TestQueuesAreIndependent(t *testing.T) {
	qs := queueFixture(t, 2, nil,
		[3]string{"weather", "soil", "m"},
		[3]string{"weather", "market", "m"})

	require.NoError(t, qs.Enqueue(subsystem.KindWeather, subsystem.KindSoil, "m", 1, PriorityNormal))
	require.NoError(t, qs.Enqueue(subsystem.KindWeather, subsystem.KindSoil, "m", 2, PriorityNormal))
	require.Error(t, qs.Enqueue(subsystem.KindWeather, subsystem.KindSoil, "m", 3, PriorityNormal))

	// a different target's queue is unaffected by soil being full
	require.NoError(t, qs.Enqueue(subsystem.KindWeather, subsystem.KindMarket, "m", 1, PriorityHigh))
	assert.Equal(t, 1, qs.Depth(subsystem.KindMarket))

	targets := qs.Targets()
	assert.ElementsMatch(t, []subsystem.Kind{subsystem.KindSoil, subsystem.KindMarket}, targets)
}

func TestCoordinatorDrainsToTarget(t *testing.T) {
	instances := newFakeInstances()
	target := &handlerTarget{}
	instances.addActive(subsystem.KindCropGrowth, target)

	router := NewRouter(instances, nil, nil, nil)
	triples := make([][3]string, 0, 20)
	for i := 0; i < 20; i++ {
		triples = append(triples, [3]string{"weather", "crop_growth", fmt.Sprintf("update_%d", i)})
	}
	qs := queueFixture(t, 64, router, triples...)
	coord := NewCoordinator(router, qs, CoordinatorConfig{
		Interval:  5 * time.Millisecond,
		BatchSize: 8,
	}, nil, nil)

	for i := 0; i < 20; i++ {
		require.NoError(t, qs.Enqueue(subsystem.KindWeather, subsystem.KindCropGrowth,
			fmt.Sprintf("update_%d", i), i, PriorityNormal))
	}

	coord.Start(context.Background())
	defer coord.Stop(time.Second)

	require.Eventually(t, func() bool {
		return len(target.kinds()) == 20
	}, 2*time.Second, 10*time.Millisecond)

	// FIFO order survives batched draining
	kinds := target.kinds()
	for i, k := range kinds {
		assert.Equal(t, fmt.Sprintf("update_%d", i), k)
	}
	assert.Equal(t, 0, qs.Depth(subsystem.KindCropGrowth))
}

func TestCoordinatorSurvivesDeliveryFailure(t *testing.T) {
	instances := newFakeInstances()
	// no instance for soil: every delivery fails with TargetUnavailable
	target := &handlerTarget{}
	instances.addActive(subsystem.KindCropGrowth, target)

	router := NewRouter(instances, nil, nil, nil)
	qs := queueFixture(t, 64, router,
		[3]string{"weather", "soil", "m"},
		[3]string{"weather", "crop_growth", "ok"})
	coord := NewCoordinator(router, qs, CoordinatorConfig{
		Interval:  5 * time.Millisecond,
		BatchSize: 8,
	}, nil, nil)

	require.NoError(t, qs.Enqueue(subsystem.KindWeather, subsystem.KindSoil, "m", 1, PriorityNormal))
	require.NoError(t, qs.Enqueue(subsystem.KindWeather, subsystem.KindCropGrowth, "ok", 2, PriorityNormal))

	coord.Start(context.Background())
	defer coord.Stop(time.Second)

	// the failed soil delivery is dropped, crop_growth still drains
	require.Eventually(t, func() bool {
		return len(target.kinds()) == 1 && qs.Depth(subsystem.KindSoil) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestCoordinatorStopBeforeStart(t *testing.T) {
	coord := NewCoordinator(nil, NewQueueSet(4, nil, nil), DefaultCoordinatorConfig(), nil, nil)
	coord.Stop(100 * time.Millisecond) // must not hang or panic
}
