package nodes

import (
	"testing"

	"github.com/apex/log"
	"github.com/stretchr/testify/assert"
)

func TestCalculateNodeStats(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	assert.Equal(NodeStats{}, CalculateNodeStats(nil))

	records := []NodeRecord{
		{ID: "a", IsOnline: true, MeshRole: "gateway"},
		{ID: "b", IsOnline: true, MeshRole: "repeater"},
		{ID: "c", IsOnline: false, MeshRole: "repeater"},
		{ID: "d", IsOnline: false, MeshRole: "unknown"},
	}
	stats := CalculateNodeStats(records)
	assert.Equal(4, stats.TotalNodes)
	assert.Equal(2, stats.OnlineNodes)
	assert.Equal(2, stats.RepeaterNodes)
}

func TestCoverageArea(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	// Case 1: no located nodes
	{
		assert.Equal(0, CoverageArea(nil))
		assert.Equal(0, CoverageArea([]NodeRecord{{ID: "a"}}))
	}

	// Case 2: a single located node claims the minimum area
	{
		records := []NodeRecord{
			{ID: "a", Location: NodeLocation{Lat: floatPtr(53.4), Lng: floatPtr(-2.9)}},
		}
		assert.Equal(1, CoverageArea(records))
	}

	// Case 3: bounding box over two corners, 0.1 degree apart
	{
		records := []NodeRecord{
			{ID: "a", Location: NodeLocation{Lat: floatPtr(51.0), Lng: floatPtr(0.0)}},
			{ID: "b", Location: NodeLocation{Lat: floatPtr(51.1), Lng: floatPtr(0.1)}},
			// Unlocated nodes do not affect the box
			{ID: "c"},
		}
		assert.Equal(77, CoverageArea(records))
	}
}
