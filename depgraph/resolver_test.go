package depgraph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agrisim/simkernel/subsystem"
)

func desc(kind subsystem.Kind, priority int, deps ...subsystem.Kind) subsystem.Descriptor {
	return subsystem.Descriptor{
		Kind:         kind,
		Name:         kind.String(),
		Priority:     priority,
		Dependencies: deps,
	}
}

func kinds(order []subsystem.Descriptor) []subsystem.Kind {
	out := make([]subsystem.Kind, len(order))
	for i, d := range order {
		out[i] = d.Kind
	}
	return out
}

// indexOf fails the test if kind is absent
func indexOf(t *testing.T, order []subsystem.Descriptor, kind subsystem.Kind) int {
	t.Helper()
	for i, d := range order {
		if d.Kind == kind {
			return i
		}
	}
	t.Fatalf("kind %s not in order", kind)
	return -1
}

func TestResolveEmpty(t *testing.T) {
	assert.Empty(t, NewResolver(nil).Resolve(nil))
	assert.Empty(t, NewResolver(nil).Resolve([]subsystem.Descriptor{}))
}

func TestResolveDependencyOrder(t *testing.T) {
	r := NewResolver(nil)
	order := r.Resolve([]subsystem.Descriptor{
		desc(subsystem.KindCropGrowth, 5, subsystem.KindEconomy, subsystem.KindWeather),
		desc(subsystem.KindWeather, 5, subsystem.KindEconomy),
		desc(subsystem.KindEconomy, 10),
	})

	assert.Equal(t, []subsystem.Kind{
		subsystem.KindEconomy,
		subsystem.KindWeather,
		subsystem.KindCropGrowth,
	}, kinds(order))
}

func TestResolvePriorityTieBreak(t *testing.T) {
	r := NewResolver(nil)
	// No dependencies at all: pure priority order, kind name on ties.
	order := r.Resolve([]subsystem.Descriptor{
		desc(subsystem.KindWeather, 5),
		desc(subsystem.KindEconomy, 10),
		desc(subsystem.KindSoil, 5),
		desc(subsystem.KindMarket, 8),
	})

	assert.Equal(t, []subsystem.Kind{
		subsystem.KindEconomy,
		subsystem.KindMarket,
		subsystem.KindSoil,    // "soil" < "weather" at equal priority
		subsystem.KindWeather,
	}, kinds(order))
}

func TestResolveEveryKindExactlyOnce(t *testing.T) {
	r := NewResolver(nil)
	in := []subsystem.Descriptor{
		desc(subsystem.KindEconomy, 10),
		desc(subsystem.KindWeather, 7, subsystem.KindEnvironment),
		desc(subsystem.KindEnvironment, 7),
		desc(subsystem.KindCropGrowth, 6, subsystem.KindWeather, subsystem.KindSoil),
		desc(subsystem.KindSoil, 6, subsystem.KindEnvironment),
		desc(subsystem.KindMarket, 4, subsystem.KindEconomy),
	}
	order := r.Resolve(in)

	require.Len(t, order, len(in))
	seen := make(map[subsystem.Kind]int)
	for _, d := range order {
		seen[d.Kind]++
	}
	for _, d := range in {
		assert.Equal(t, 1, seen[d.Kind], d.Kind)
	}

	// topological validity
	for _, d := range in {
		for _, dep := range d.Dependencies {
			assert.Less(t, indexOf(t, order, dep), indexOf(t, order, d.Kind),
				"%s must come after %s", d.Kind, dep)
		}
	}
}

func TestResolveCycleTerminates(t *testing.T) {
	r := NewResolver(nil)
	order := r.Resolve([]subsystem.Descriptor{
		desc(subsystem.KindEconomy, 9, subsystem.KindMarket),
		desc(subsystem.KindMarket, 4, subsystem.KindEconomy),
		desc(subsystem.KindWeather, 5),
	})

	require.Len(t, order, 3)
	// Weather is the only unblocked descriptor, so it goes first. Then
	// the deadlock forces economy, the higher-priority cycle member,
	// which in turn unblocks market.
	assert.Equal(t, []subsystem.Kind{
		subsystem.KindWeather,
		subsystem.KindEconomy,
		subsystem.KindMarket,
	}, kinds(order))
}

func TestResolveSelfDependency(t *testing.T) {
	r := NewResolver(nil)
	order := r.Resolve([]subsystem.Descriptor{
		desc(subsystem.KindEconomy, 5, subsystem.KindEconomy),
		desc(subsystem.KindWeather, 3),
	})

	require.Len(t, order, 2)
	assert.Equal(t, subsystem.KindWeather, order[0].Kind)
	assert.Equal(t, subsystem.KindEconomy, order[1].Kind)
}

func TestResolveMissingDependency(t *testing.T) {
	r := NewResolver(nil)
	// Irrigation depends on soil, which is not in the set. It still
	// gets ordered via the deadlock path.
	order := r.Resolve([]subsystem.Descriptor{
		desc(subsystem.KindIrrigation, 5, subsystem.KindSoil),
	})
	require.Len(t, order, 1)
	assert.Equal(t, subsystem.KindIrrigation, order[0].Kind)
}

func TestValidate(t *testing.T) {
	r := NewResolver(nil)

	clean := []subsystem.Descriptor{
		desc(subsystem.KindEconomy, 10),
		desc(subsystem.KindMarket, 4, subsystem.KindEconomy),
	}
	assert.Empty(t, r.Validate(clean))

	problems := r.Validate([]subsystem.Descriptor{
		desc(subsystem.KindEconomy, 9, subsystem.KindMarket),
		desc(subsystem.KindMarket, 4, subsystem.KindEconomy),
		desc(subsystem.KindSoil, 5, subsystem.KindSoil),
		desc(subsystem.KindIrrigation, 5, subsystem.KindWeather),
	})
	require.NotEmpty(t, problems)

	reasons := make(map[subsystem.Kind][]string)
	for _, p := range problems {
		reasons[p.Kind] = append(reasons[p.Kind], p.Reason)
	}
	assert.Contains(t, reasons[subsystem.KindEconomy], "member of a dependency cycle")
	assert.Contains(t, reasons[subsystem.KindMarket], "member of a dependency cycle")
	assert.Contains(t, reasons[subsystem.KindSoil], "self dependency")
	assert.Contains(t, reasons[subsystem.KindIrrigation], "dependency not in descriptor set")
}
