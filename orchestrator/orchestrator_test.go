package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agrisim/simkernel/config"
	"github.com/agrisim/simkernel/dataflow"
	"github.com/agrisim/simkernel/errors"
	"github.com/agrisim/simkernel/subsystem"
)

// farmSubsystem is a minimal domain subsystem with the full optional
// surface: external data handling, health reporting and teardown
type farmSubsystem struct {
	kind subsystem.Kind
	deps subsystem.Dependencies

	mu       sync.Mutex
	received []any
	closed   bool
	stats    subsystem.HealthStats
}

func (f *farmSubsystem) Meta() subsystem.Metadata {
	return subsystem.Metadata{Kind: f.kind, Name: f.kind.String(), Version: "1.0.0"}
}

func (f *farmSubsystem) HandleExternalData(_ string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.received = append(f.received, payload)
	return nil
}

func (f *farmSubsystem) HealthStats() subsystem.HealthStats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stats
}

func (f *farmSubsystem) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *farmSubsystem) payloads() []any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]any(nil), f.received...)
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Kernel.DrainInterval = 5 * time.Millisecond
	cfg.Kernel.HealthInterval = 10 * time.Millisecond
	cfg.Kernel.ShutdownTimeout = 2 * time.Second
	return cfg
}

type kernelFixture struct {
	orch *Orchestrator
	subs map[subsystem.Kind]*farmSubsystem
}

func newKernel(t *testing.T, cfg *config.Config) *kernelFixture {
	t.Helper()
	if cfg == nil {
		cfg = testConfig()
	}
	orch, err := New(context.Background(), cfg)
	require.NoError(t, err)

	fx := &kernelFixture{orch: orch, subs: make(map[subsystem.Kind]*farmSubsystem)}
	t.Cleanup(func() { orch.Stop(context.Background()) })
	return fx
}

func (fx *kernelFixture) register(t *testing.T, kind subsystem.Kind, priority int, deps ...subsystem.Kind) {
	t.Helper()
	err := fx.orch.Register(subsystem.Descriptor{
		Kind:         kind,
		Name:         kind.String(),
		Priority:     priority,
		Dependencies: deps,
		Monitored:    true,
	}, func(d subsystem.Dependencies) (subsystem.Subsystem, error) {
		fs := &farmSubsystem{kind: kind, deps: d}
		fx.subs[kind] = fs
		return fs, nil
	})
	require.NoError(t, err)
}

func TestKernelEndToEnd(t *testing.T) {
	fx := newKernel(t, nil)
	fx.register(t, subsystem.KindEconomy, 10)
	fx.register(t, subsystem.KindWeather, 7)
	fx.register(t, subsystem.KindCropGrowth, 5, subsystem.KindWeather, subsystem.KindEconomy)

	require.NoError(t, fx.orch.Start(context.Background()))

	// dependency handles were injected
	crop := fx.subs[subsystem.KindCropGrowth]
	_, ok := crop.deps.Handle(subsystem.KindWeather)
	assert.True(t, ok)

	// synchronous routing
	require.NoError(t, fx.orch.DeclareRoute(dataflow.Route{
		Source:      subsystem.KindWeather,
		Target:      subsystem.KindCropGrowth,
		MessageKind: "weather_update",
		Priority:    dataflow.PriorityHigh,
		Enabled:     true,
	}))
	require.NoError(t, fx.orch.Route(subsystem.KindWeather, subsystem.KindCropGrowth, "weather_update", "rain"))
	assert.Equal(t, []any{"rain"}, crop.payloads())

	// queued delivery drains through the coordination loop
	require.NoError(t, fx.orch.Enqueue(subsystem.KindWeather, subsystem.KindCropGrowth,
		"weather_update", "sun", dataflow.PriorityNormal))
	require.Eventually(t, func() bool {
		return len(crop.payloads()) == 2
	}, 2*time.Second, 10*time.Millisecond)

	snap := fx.orch.Snapshot()
	assert.Equal(t, "healthy", snap.OverallHealth)
	assert.Len(t, snap.Subsystems, 3)
	assert.Equal(t, []subsystem.Kind{
		subsystem.KindEconomy,
		subsystem.KindWeather,
		subsystem.KindCropGrowth,
	}, snap.CreateOrder)
	require.Len(t, snap.Routes, 1)
	assert.Equal(t, int64(1), snap.Routes[0].Processed)

	fx.orch.Stop(context.Background())
	for _, fs := range fx.subs {
		fs.mu.Lock()
		assert.True(t, fs.closed)
		fs.mu.Unlock()
	}
}

func TestKernelPartialStartup(t *testing.T) {
	fx := newKernel(t, nil)
	fx.register(t, subsystem.KindEconomy, 10)
	require.NoError(t, fx.orch.Register(subsystem.Descriptor{
		Kind: subsystem.KindWeather, Name: "weather", Priority: 9,
	}, func(subsystem.Dependencies) (subsystem.Subsystem, error) {
		return nil, fmt.Errorf("sensor offline")
	}))

	require.NoError(t, fx.orch.Start(context.Background()))

	snap := fx.orch.Snapshot()
	require.Len(t, snap.Subsystems, 2)
	byKind := make(map[subsystem.Kind]subsystem.View)
	for _, v := range snap.Subsystems {
		byKind[v.Kind] = v
	}
	assert.Equal(t, "active", byKind[subsystem.KindEconomy].Status)
	assert.Equal(t, "error", byKind[subsystem.KindWeather].Status)
	assert.Contains(t, byKind[subsystem.KindWeather].LastError, "sensor offline")

	// a failed subsystem is not reachable as a live handle
	_, ok := fx.orch.Subsystem(subsystem.KindWeather)
	assert.False(t, ok)
}

func TestKernelRecoveryFlow(t *testing.T) {
	cfg := testConfig()
	orch, err := New(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { orch.Stop(context.Background()) })

	var constructions int
	require.NoError(t, orch.Register(subsystem.Descriptor{
		Kind: subsystem.KindIrrigation, Name: "irrigation", Priority: 5,
	}, func(subsystem.Dependencies) (subsystem.Subsystem, error) {
		constructions++
		return &farmSubsystem{kind: subsystem.KindIrrigation}, nil
	}))
	require.NoError(t, orch.Start(context.Background()))
	require.Equal(t, 1, constructions)

	// low severity: recorded only
	require.NoError(t, orch.ReportError(subsystem.KindIrrigation, fmt.Errorf("drip"), errors.SeverityLow))
	assert.Equal(t, 1, constructions)

	// high severity: restarted through the same construction path
	require.NoError(t, orch.ReportError(subsystem.KindIrrigation, fmt.Errorf("pump stall"), errors.SeverityHigh))
	assert.Equal(t, 2, constructions)

	impl, ok := orch.Subsystem(subsystem.KindIrrigation)
	require.True(t, ok)
	assert.NotNil(t, impl)
}

func TestKernelRegisterAfterStart(t *testing.T) {
	fx := newKernel(t, nil)
	fx.register(t, subsystem.KindEconomy, 5)
	require.NoError(t, fx.orch.Start(context.Background()))

	err := fx.orch.Register(subsystem.Descriptor{
		Kind: subsystem.KindWeather, Name: "weather", Priority: 5,
	}, func(subsystem.Dependencies) (subsystem.Subsystem, error) { return nil, nil })
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrAlreadyInitialized)
}

func TestKernelConfigSectionsReachFactories(t *testing.T) {
	cfg := testConfig()
	cfg.Subsystems = config.SubsystemConfigs{
		"economy": {"starting_cash": 5000},
	}
	orch, err := New(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { orch.Stop(context.Background()) })

	var got int
	require.NoError(t, orch.Register(subsystem.Descriptor{
		Kind: subsystem.KindEconomy, Name: "economy", Priority: 5,
	}, func(d subsystem.Dependencies) (subsystem.Subsystem, error) {
		got = config.GetInt(d.Config, "starting_cash", 0)
		return &farmSubsystem{kind: subsystem.KindEconomy}, nil
	}))
	require.NoError(t, orch.Start(context.Background()))
	assert.Equal(t, 5000, got)
}

func TestKernelStartStopLifecycle(t *testing.T) {
	fx := newKernel(t, nil)
	fx.register(t, subsystem.KindEconomy, 5)

	// stop before start is a no-op
	fx.orch.Stop(context.Background())

	require.NoError(t, fx.orch.Start(context.Background()))
	err := fx.orch.Start(context.Background())
	assert.ErrorIs(t, err, errors.ErrAlreadyInitialized)

	fx.orch.Stop(context.Background())
	fx.orch.Stop(context.Background()) // idempotent

	snap := fx.orch.Snapshot()
	for _, v := range snap.Subsystems {
		assert.Equal(t, "shutdown", v.Status)
	}
}
