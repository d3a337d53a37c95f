package orchestrator

import (
	"sort"
	"time"

	"github.com/agrisim/simkernel/dataflow"
	"github.com/agrisim/simkernel/subsystem"
)

// Snapshot is the read-only view of the whole kernel at one instant.
// Taking a snapshot has no side effects.
type Snapshot struct {
	Timestamp     time.Time             `json:"timestamp"`
	OverallHealth string                `json:"overall_health"`
	CreateOrder   []subsystem.Kind      `json:"create_order"`
	Subsystems    []subsystem.View      `json:"subsystems"`
	Routes        []dataflow.RouteStats `json:"routes"`
	QueueDepths   map[string]int        `json:"queue_depths"`
}

// Snapshot captures per-subsystem status, timestamps, counters and last
// error, plus per-route processed/error counts and average latency.
// Output ordering is deterministic.
func (o *Orchestrator) Snapshot() Snapshot {
	instances := o.lifecycle.Instances()
	views := make([]subsystem.View, 0, len(instances))
	for _, inst := range instances {
		views = append(views, inst.Snapshot())
	}
	sort.Slice(views, func(i, j int) bool { return views[i].Kind < views[j].Kind })

	routes := o.router.Stats()
	sort.Slice(routes, func(i, j int) bool {
		if routes[i].Source != routes[j].Source {
			return routes[i].Source < routes[j].Source
		}
		if routes[i].Target != routes[j].Target {
			return routes[i].Target < routes[j].Target
		}
		return routes[i].MessageKind < routes[j].MessageKind
	})

	depths := make(map[string]int)
	for _, target := range o.queues.Targets() {
		depths[target.String()] = o.queues.Depth(target)
	}

	return Snapshot{
		Timestamp:     time.Now(),
		OverallHealth: o.monitor.Aggregate().String(),
		CreateOrder:   o.lifecycle.CreateOrder(),
		Subsystems:    views,
		Routes:        routes,
		QueueDepths:   depths,
	}
}
