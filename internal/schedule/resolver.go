package schedule

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/gridstone/gridstone/internal/ctxlog"
)

// Result holds the outcome of one resolution pass.
type Result struct {
	// StartPeriods maps every dependent item to its resolved start period.
	// Fixed items are resolved lazily into the engine's cache when another
	// item depends on them, but only dependent items appear here: they are
	// the only ones whose start is "calculated" for persistence purposes.
	StartPeriods map[int64]int

	// Errors accumulates human-readable resolution problems: cycles,
	// dangling references, unknown trigger events. Errors never abort the
	// pass; items unaffected by them resolve normally.
	Errors []string
}

// nodeState tags an item's progress through the worklist. The explicit
// visiting state is what makes cycle detection possible without relying
// on call-stack depth.
type nodeState uint8

const (
	stateUnvisited nodeState = iota
	stateVisiting
	stateResolved
)

// frame is one suspended item on the explicit resolution stack. An item's
// frame stays on the stack while the frames of its unresolved trigger
// items are processed above it.
type frame struct {
	id    int64
	edges []*Dependency
	// next indexes the first edge not yet folded into calculated.
	next       int
	calculated int
}

type resolver struct {
	graph *Graph
	cache map[int64]int
	state map[int64]nodeState
	errs  []string
}

// Resolve computes the effective start period of every dependent item in
// the graph. The pass is deterministic (items are visited in ascending id
// order), pure, and total: cycles and bad references degrade the affected
// items to period 0 and are reported in Result.Errors rather than failing
// the run.
func Resolve(ctx context.Context, g *Graph) *Result {
	logger := ctxlog.FromContext(ctx)

	r := &resolver{
		graph: g,
		cache: make(map[int64]int, len(g.Items)),
		state: make(map[int64]nodeState, len(g.Items)),
	}

	roots := make([]int64, 0, len(g.Items))
	for id, item := range g.Items {
		if item.TimingMode == TimingDependent {
			roots = append(roots, id)
		}
	}
	sort.Slice(roots, func(i, j int) bool { return roots[i] < roots[j] })
	logger.Debug("Resolution pass starting.", "items", len(g.Items), "dependent_items", len(roots), "edges", g.EdgeCount())

	for _, id := range roots {
		r.resolveItem(id)
	}

	result := &Result{
		StartPeriods: make(map[int64]int, len(roots)),
		Errors:       r.errs,
	}
	for _, id := range roots {
		if start, ok := r.cache[id]; ok {
			result.StartPeriods[id] = start
		}
	}
	logger.Debug("Resolution pass finished.", "resolved", len(result.StartPeriods), "errors", len(result.Errors))
	return result
}

// resolveItem drives the worklist for one root item. Trigger items shared
// with earlier roots are already cached and cost nothing.
func (r *resolver) resolveItem(rootID int64) {
	if _, ok := r.cache[rootID]; ok {
		return
	}
	if _, ok := r.leafStart(rootID); ok {
		return
	}

	r.state[rootID] = stateVisiting
	stack := []*frame{{id: rootID, edges: r.graph.Edges[rootID]}}

	for len(stack) > 0 {
		f := stack[len(stack)-1]

		if f.next >= len(f.edges) {
			// All constraints folded in; commit and resume the parent.
			r.cache[f.id] = f.calculated
			r.state[f.id] = stateResolved
			stack = stack[:len(stack)-1]
			continue
		}

		edge := f.edges[f.next]

		if edge.TriggerEvent == TriggerAbsolute {
			f.calculated = max(f.calculated, edge.OffsetPeriods)
			f.next++
			continue
		}

		if edge.TriggerItemID == nil {
			r.errorf("dependency %d on item %d has trigger event %q but no trigger item", edge.ID, f.id, edge.TriggerEvent)
			f.next++
			continue
		}
		triggerID := *edge.TriggerItemID

		triggerItem, ok := r.graph.Items[triggerID]
		if !ok {
			r.errorf("item %d not found (referenced by dependency %d on item %d)", triggerID, edge.ID, f.id)
			f.next++
			continue
		}

		triggerStart, ok := r.cache[triggerID]
		if !ok {
			if r.state[triggerID] == stateVisiting {
				// The trigger is somewhere below us on the stack: a cycle.
				// Degrade its start to 0 for this edge, without caching, so
				// the chain terminates with a defined value.
				r.errorf("circular dependency detected: %s", cyclePath(stack, triggerID))
				triggerStart = 0
			} else if start, resolved := r.leafStart(triggerID); resolved {
				triggerStart = start
			} else {
				// Suspend this frame; the edge is retried once the trigger
				// item's own frame commits to the cache.
				r.state[triggerID] = stateVisiting
				stack = append(stack, &frame{id: triggerID, edges: r.graph.Edges[triggerID]})
				continue
			}
		}

		triggerPeriod, ok := r.triggerPeriod(edge, triggerStart, triggerItem.Duration)
		if !ok {
			f.next++
			continue
		}
		f.calculated = max(f.calculated, triggerPeriod+edge.OffsetPeriods)
		f.next++
	}
}

// leafStart resolves the cases that need no frame: fixed items and items
// without edges both resolve to their stored start period. Returns false
// when the item needs full edge evaluation.
func (r *resolver) leafStart(id int64) (int, bool) {
	item, ok := r.graph.Items[id]
	if !ok {
		return 0, false
	}
	if item.TimingMode == TimingFixed || len(r.graph.Edges[id]) == 0 {
		r.cache[id] = item.ManualStartPeriod
		r.state[id] = stateResolved
		return item.ManualStartPeriod, true
	}
	return 0, false
}

// triggerPeriod maps a trigger event to a period on the trigger item's
// timeline. Returns false when the edge must be skipped (unknown event or
// out-of-range percentage), recording the error.
func (r *resolver) triggerPeriod(edge *Dependency, triggerStart, triggerDuration int) (int, bool) {
	switch edge.TriggerEvent {
	case TriggerStart:
		return triggerStart, true
	case TriggerComplete:
		return triggerStart + triggerDuration, true
	case TriggerPctComplete:
		pct := defaultTriggerPct
		if edge.TriggerValue != nil {
			pct = *edge.TriggerValue
		}
		if pct < 0 || pct > 100 {
			r.errorf("dependency %d on item %d has trigger value %v outside 0-100", edge.ID, edge.DependentItemID, pct)
			return 0, false
		}
		return triggerStart + int(math.Floor(float64(triggerDuration)*pct/100)), true
	default:
		r.errorf("dependency %d on item %d has unknown trigger event %q", edge.ID, edge.DependentItemID, edge.TriggerEvent)
		return 0, false
	}
}

func (r *resolver) errorf(format string, args ...any) {
	r.errs = append(r.errs, fmt.Sprintf(format, args...))
}

// cyclePath renders the dependency chain from the first on-stack
// occurrence of triggerID back around to itself, e.g. "42 -> 17 -> 42".
func cyclePath(stack []*frame, triggerID int64) string {
	start := 0
	for i, f := range stack {
		if f.id == triggerID {
			start = i
			break
		}
	}
	var sb strings.Builder
	for _, f := range stack[start:] {
		sb.WriteString(strconv.FormatInt(f.id, 10))
		sb.WriteString(" -> ")
	}
	sb.WriteString(strconv.FormatInt(triggerID, 10))
	return sb.String()
}
