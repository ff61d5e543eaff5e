package geometry

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sentinelops/backend/internal/core"
)

func TestSegmentPointDistance(t *testing.T) {
	a := core.Point{X: 0, Y: 0}
	b := core.Point{X: 10, Y: 0}

	assert.InDelta(t, 5.0, SegmentPointDistance(core.Point{X: 5, Y: 5}, a, b), 1e-9)
	// Point beyond segment end clamps to the endpoint.
	assert.InDelta(t, 2.0, SegmentPointDistance(core.Point{X: 12, Y: 0}, a, b), 1e-9)
	// Degenerate segment.
	assert.InDelta(t, 3.0, SegmentPointDistance(core.Point{X: 3, Y: 0}, a, a), 1e-9)
}

func TestHeading(t *testing.T) {
	origin := core.Point{X: 0, Y: 0}

	assert.InDelta(t, 0, Heading(origin, core.Point{X: 3, Y: 0}), 1e-9)
	assert.InDelta(t, math.Pi/2, Heading(origin, core.Point{X: 0, Y: 4}), 1e-9)
	assert.InDelta(t, -3*math.Pi/4, Heading(origin, core.Point{X: -1, Y: -1}), 1e-9)
}

func TestFirstBlockingObstacle(t *testing.T) {
	a := core.Point{X: 0, Y: 5}
	b := core.Point{X: 10, Y: 5}

	obs := []core.Obstacle{{X: 5, Y: 7.5, R: 0.6}}
	_, blocked := FirstBlockingObstacle(a, b, obs, 0.75)
	assert.False(t, blocked, "obstacle 2.5m off the path should not block")

	obs = []core.Obstacle{{X: 5, Y: 5.5, R: 0.6}}
	hit, blocked := FirstBlockingObstacle(a, b, obs, 0.75)
	assert.True(t, blocked)
	assert.Equal(t, 5.0, hit.X)
}
