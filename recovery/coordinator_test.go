package recovery

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agrisim/simkernel/errors"
	"github.com/agrisim/simkernel/subsystem"
)

type fakeSubsystem struct{ kind subsystem.Kind }

func (f fakeSubsystem) Meta() subsystem.Metadata {
	return subsystem.Metadata{Kind: f.kind, Name: f.kind.String()}
}

// fakeKernel plays both InstanceSource and Restarter
type fakeKernel struct {
	mu        sync.Mutex
	instances map[subsystem.Kind]*subsystem.Instance
	restarts  []subsystem.Kind
	failNext  bool
}

func newFakeKernel() *fakeKernel {
	return &fakeKernel{instances: make(map[subsystem.Kind]*subsystem.Instance)}
}

func (f *fakeKernel) addActive(kind subsystem.Kind, priority int) *subsystem.Instance {
	inst := subsystem.NewInstance(subsystem.Descriptor{
		Kind: kind, Name: kind.String(), Priority: priority,
	})
	inst.SetStatus(subsystem.StatusInitializing)
	inst.SetImpl(fakeSubsystem{kind: kind})
	inst.SetStatus(subsystem.StatusActive)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.instances[kind] = inst
	return inst
}

func (f *fakeKernel) Instance(kind subsystem.Kind) (*subsystem.Instance, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	inst, ok := f.instances[kind]
	return inst, ok
}

// Restart mimics the lifecycle manager: requires Maintenance, then
// lands the instance in Active or Error
func (f *fakeKernel) Restart(kind subsystem.Kind) error {
	f.mu.Lock()
	f.restarts = append(f.restarts, kind)
	fail := f.failNext
	inst := f.instances[kind]
	f.mu.Unlock()

	if inst.Status() != subsystem.StatusMaintenance {
		return fmt.Errorf("restart outside maintenance")
	}
	if fail {
		inst.SetStatus(subsystem.StatusError)
		return fmt.Errorf("reconstruction failed")
	}
	inst.SetStatus(subsystem.StatusActive)
	return nil
}

func (f *fakeKernel) restartCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.restarts)
}

func TestLowSeverityRecordedNotActioned(t *testing.T) {
	kernel := newFakeKernel()
	inst := kernel.addActive(subsystem.KindWeather, 5)
	coord := NewCoordinator(kernel, kernel, 3, nil, nil)

	require.NoError(t, coord.ReportError(subsystem.KindWeather, fmt.Errorf("drizzle"), errors.SeverityLow))
	require.NoError(t, coord.ReportError(subsystem.KindWeather, fmt.Errorf("fog"), errors.SeverityMedium))

	assert.Equal(t, 0, kernel.restartCount())
	assert.Equal(t, subsystem.StatusActive, inst.Status())

	view := inst.Snapshot()
	assert.Equal(t, 2, view.ErrorCount)
	assert.Equal(t, "fog", view.LastError)
}

func TestHighSeverityTriggersRestart(t *testing.T) {
	kernel := newFakeKernel()
	inst := kernel.addActive(subsystem.KindEconomy, 5)
	coord := NewCoordinator(kernel, kernel, 3, nil, nil)

	require.NoError(t, coord.ReportError(subsystem.KindEconomy, fmt.Errorf("ledger corrupt"), errors.SeverityHigh))

	assert.Equal(t, 1, kernel.restartCount())
	assert.Equal(t, 1, coord.Attempts(subsystem.KindEconomy))
	assert.Equal(t, subsystem.StatusActive, inst.Status())
}

func TestRestartBudgetExhaustion(t *testing.T) {
	kernel := newFakeKernel()
	kernel.failNext = true
	inst := kernel.addActive(subsystem.KindEconomy, 5)
	coord := NewCoordinator(kernel, kernel, 3, nil, nil)

	// three failing attempts consume the budget
	for i := 0; i < 3; i++ {
		err := coord.ReportError(subsystem.KindEconomy, fmt.Errorf("crash %d", i), errors.SeverityCritical)
		require.Error(t, err)
		assert.Equal(t, subsystem.StatusError, inst.Status())
	}
	assert.Equal(t, 3, kernel.restartCount())
	assert.False(t, coord.Exhausted(subsystem.KindEconomy))

	// the fourth report exceeds the budget: permanent Error, no restart
	err := coord.ReportError(subsystem.KindEconomy, fmt.Errorf("crash again"), errors.SeverityCritical)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrRecoveryExhausted)
	assert.True(t, coord.Exhausted(subsystem.KindEconomy))
	assert.Equal(t, 3, kernel.restartCount(), "no further reconstruction")
	assert.Equal(t, subsystem.StatusError, inst.Status())

	// and every later report short-circuits
	err = coord.ReportError(subsystem.KindEconomy, fmt.Errorf("still down"), errors.SeverityHigh)
	assert.ErrorIs(t, err, errors.ErrRecoveryExhausted)
	assert.Equal(t, 3, kernel.restartCount())
}

func TestCustomStrategyPrecedence(t *testing.T) {
	kernel := newFakeKernel()
	inst := kernel.addActive(subsystem.KindIrrigation, 5)
	coord := NewCoordinator(kernel, kernel, 3, nil, nil)

	var sawMaintenance bool
	require.NoError(t, coord.RegisterStrategy(subsystem.KindIrrigation, func(in *subsystem.Instance) error {
		sawMaintenance = in.Status() == subsystem.StatusMaintenance
		return nil
	}))

	require.NoError(t, coord.ReportError(subsystem.KindIrrigation, fmt.Errorf("pump stall"), errors.SeverityHigh))

	assert.True(t, sawMaintenance, "strategy must run under maintenance")
	assert.Equal(t, subsystem.StatusActive, inst.Status())
	assert.Equal(t, 0, kernel.restartCount(), "default restart path must not run")
	assert.Equal(t, 0, coord.Attempts(subsystem.KindIrrigation))
}

func TestCustomStrategyFailure(t *testing.T) {
	kernel := newFakeKernel()
	inst := kernel.addActive(subsystem.KindIrrigation, 5)
	coord := NewCoordinator(kernel, kernel, 3, nil, nil)

	require.NoError(t, coord.RegisterStrategy(subsystem.KindIrrigation, func(*subsystem.Instance) error {
		return fmt.Errorf("valve jammed")
	}))

	err := coord.ReportError(subsystem.KindIrrigation, fmt.Errorf("pump stall"), errors.SeverityHigh)
	require.Error(t, err)
	assert.Equal(t, subsystem.StatusError, inst.Status())
}

func TestRegisterStrategyValidation(t *testing.T) {
	coord := NewCoordinator(newFakeKernel(), nil, 3, nil, nil)

	assert.Error(t, coord.RegisterStrategy("warp_drive", func(*subsystem.Instance) error { return nil }))
	assert.Error(t, coord.RegisterStrategy(subsystem.KindEconomy, nil))
}

func TestReportErrorUnknownKind(t *testing.T) {
	coord := NewCoordinator(newFakeKernel(), nil, 3, nil, nil)
	err := coord.ReportError(subsystem.KindEconomy, fmt.Errorf("x"), errors.SeverityHigh)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrUnknownSubsystem)
}
