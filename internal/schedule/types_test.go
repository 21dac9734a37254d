package schedule

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTimingMode(t *testing.T) {
	mode, err := ParseTimingMode("fixed")
	require.NoError(t, err)
	assert.Equal(t, TimingFixed, mode)

	_, err = ParseTimingMode("locked")
	assert.ErrorContains(t, err, "invalid timing mode")
}

func TestParseTriggerEvent(t *testing.T) {
	event, err := ParseTriggerEvent("pct_complete")
	require.NoError(t, err)
	assert.Equal(t, TriggerPctComplete, event)

	_, err = ParseTriggerEvent("finish")
	assert.ErrorContains(t, err, "invalid trigger event")
}

func TestDependencyValidate(t *testing.T) {
	trigger := int64(2)

	t.Run("absolute must not carry a trigger item", func(t *testing.T) {
		d := &Dependency{DependentItemID: 1, TriggerEvent: TriggerAbsolute, TriggerItemID: &trigger}
		assert.ErrorContains(t, d.Validate(), "must not reference")

		d.TriggerItemID = nil
		assert.NoError(t, d.Validate())
	})

	t.Run("relative events require a trigger item", func(t *testing.T) {
		d := &Dependency{DependentItemID: 1, TriggerEvent: TriggerComplete}
		assert.ErrorContains(t, d.Validate(), "requires a trigger item")

		d.TriggerItemID = &trigger
		assert.NoError(t, d.Validate())
	})

	t.Run("trigger value bounds", func(t *testing.T) {
		d := &Dependency{DependentItemID: 1, TriggerEvent: TriggerPctComplete, TriggerItemID: &trigger, TriggerValue: float64Ptr(130)}
		assert.ErrorContains(t, d.Validate(), "between 0 and 100")

		d.TriggerValue = float64Ptr(75)
		assert.NoError(t, d.Validate())

		d.TriggerEvent = TriggerStart
		assert.ErrorContains(t, d.Validate(), "only valid")
	})
}

func TestGraphEdgeCount(t *testing.T) {
	trigger := int64(1)
	g := NewGraph(
		[]*Item{dependentItem(1, 1, 0), dependentItem(2, 1, 0)},
		[]*Dependency{
			{ID: 10, DependentItemID: 2, TriggerItemID: &trigger, TriggerEvent: TriggerStart},
			{ID: 11, DependentItemID: 2, TriggerEvent: TriggerAbsolute, OffsetPeriods: 3},
		},
	)
	assert.Equal(t, 2, g.EdgeCount())
	assert.Len(t, g.Edges[2], 2)
}
