package schedule

import "fmt"

// TimingMode controls whether an item's start period is authoritative as
// stored or derived from its dependency edges.
type TimingMode string

const (
	// TimingFixed marks the stored start period as locked: dependency
	// edges pointing at the item are ignored for its own start.
	TimingFixed TimingMode = "fixed"
	// TimingDependent lets the resolution engine derive the start period
	// from the item's dependency edges.
	TimingDependent TimingMode = "dependent"
)

// ParseTimingMode validates a raw timing mode string from storage or an
// API payload.
func ParseTimingMode(s string) (TimingMode, error) {
	switch TimingMode(s) {
	case TimingFixed, TimingDependent:
		return TimingMode(s), nil
	}
	return "", fmt.Errorf("invalid timing mode: %q", s)
}

// TriggerEvent identifies which point on the trigger item's timeline a
// dependency reacts to.
type TriggerEvent string

const (
	// TriggerAbsolute anchors the dependent to a fixed period; the edge
	// carries no trigger item and its offset is the period itself.
	TriggerAbsolute TriggerEvent = "absolute"
	// TriggerStart fires when the trigger item starts.
	TriggerStart TriggerEvent = "start"
	// TriggerComplete fires when the trigger item finishes (start + duration).
	TriggerComplete TriggerEvent = "complete"
	// TriggerPctComplete fires when the trigger item reaches a percentage
	// of its duration (edge TriggerValue, defaulting to 50).
	TriggerPctComplete TriggerEvent = "pct_complete"
)

// defaultTriggerPct is applied when a pct_complete edge carries no value.
const defaultTriggerPct = 50.0

// ParseTriggerEvent validates a raw trigger event string. Unknown values
// are rejected at the write path; values that bypass validation (legacy
// rows) surface as per-edge resolution errors instead.
func ParseTriggerEvent(s string) (TriggerEvent, error) {
	switch TriggerEvent(s) {
	case TriggerAbsolute, TriggerStart, TriggerComplete, TriggerPctComplete:
		return TriggerEvent(s), nil
	}
	return "", fmt.Errorf("invalid trigger event: %q", s)
}

// Item is one schedule item: a budget line item or milestone.
type Item struct {
	ID        int64
	ProjectID int64
	Name      string

	// Duration is the number of periods the item's work spans. Never negative.
	Duration int

	// TimingMode selects fixed (locked) or dependency-driven timing.
	TimingMode TimingMode

	// ManualStartPeriod is the stored, authoritative start period. It is
	// the resolved value for fixed items and the fallback for dependent
	// items with no edges.
	ManualStartPeriod int

	// CalculatedStartPeriod is the engine's last persisted result, nil if
	// the item has never been resolved in apply mode.
	CalculatedStartPeriod *int
}

// Dependency is a directed timing edge: the dependent item may not start
// before the period derived from the trigger item and event.
type Dependency struct {
	ID              int64
	DependentItemID int64

	// TriggerItemID is nil only for absolute edges.
	TriggerItemID *int64

	TriggerEvent TriggerEvent

	// TriggerValue is the pct_complete percentage (0-100). Nil means the
	// default of 50. Meaningless for other trigger events.
	TriggerValue *float64

	// OffsetPeriods is added after the trigger period is computed. Negative
	// for lead, positive for lag.
	OffsetPeriods int
}

// Validate checks the structural invariants of an edge. It does not check
// that the referenced items exist; that is graph-level knowledge.
func (d *Dependency) Validate() error {
	switch d.TriggerEvent {
	case TriggerAbsolute:
		if d.TriggerItemID != nil {
			return fmt.Errorf("absolute dependency must not reference a trigger item")
		}
	case TriggerStart, TriggerComplete, TriggerPctComplete:
		if d.TriggerItemID == nil {
			return fmt.Errorf("%s dependency requires a trigger item", d.TriggerEvent)
		}
	default:
		return fmt.Errorf("invalid trigger event: %q", d.TriggerEvent)
	}
	if d.TriggerValue != nil {
		if d.TriggerEvent != TriggerPctComplete {
			return fmt.Errorf("trigger value is only valid for %s dependencies", TriggerPctComplete)
		}
		if *d.TriggerValue < 0 || *d.TriggerValue > 100 {
			return fmt.Errorf("trigger value must be between 0 and 100, got %v", *d.TriggerValue)
		}
	}
	return nil
}

// Graph is the immutable per-project snapshot the engine resolves over.
type Graph struct {
	// Items holds every schedule item of the project, keyed by id.
	Items map[int64]*Item
	// Edges groups dependency edges by their dependent item id.
	Edges map[int64][]*Dependency
}

// NewGraph builds a Graph from flat item and dependency slices, grouping
// edges by dependent item.
func NewGraph(items []*Item, deps []*Dependency) *Graph {
	g := &Graph{
		Items: make(map[int64]*Item, len(items)),
		Edges: make(map[int64][]*Dependency),
	}
	for _, item := range items {
		g.Items[item.ID] = item
	}
	for _, dep := range deps {
		g.Edges[dep.DependentItemID] = append(g.Edges[dep.DependentItemID], dep)
	}
	return g
}

// EdgeCount returns the total number of dependency edges in the graph.
func (g *Graph) EdgeCount() int {
	n := 0
	for _, edges := range g.Edges {
		n += len(edges)
	}
	return n
}
