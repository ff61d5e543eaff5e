// Package geometry has the small amount of planar math shared by the policy
// engine and the planner: distances and segment/circle clearance checks.
package geometry

import (
	"math"

	"github.com/sentinelops/backend/internal/core"
)

// Dist returns the Euclidean distance between two points.
func Dist(a, b core.Point) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}

// SegmentPointDistance returns the distance from point p to segment ab.
func SegmentPointDistance(p, a, b core.Point) float64 {
	abx, aby := b.X-a.X, b.Y-a.Y
	apx, apy := p.X-a.X, p.Y-a.Y
	ab2 := abx*abx + aby*aby
	if ab2 <= 1e-9 {
		return math.Hypot(p.X-a.X, p.Y-a.Y)
	}
	t := (apx*abx + apy*aby) / ab2
	t = math.Max(0, math.Min(1, t))
	cx, cy := a.X+t*abx, a.Y+t*aby
	return math.Hypot(p.X-cx, p.Y-cy)
}

// SegmentHitsCircle reports whether segment ab passes within r of center c.
func SegmentHitsCircle(a, b, c core.Point, r float64) bool {
	return SegmentPointDistance(c, a, b) <= r
}

// FirstBlockingObstacle returns the first obstacle whose inflated radius
// (r + clearance) intersects the straight segment from a to b.
func FirstBlockingObstacle(a, b core.Point, obstacles []core.Obstacle, clearance float64) (core.Obstacle, bool) {
	for _, ob := range obstacles {
		if SegmentHitsCircle(a, b, core.Point{X: ob.X, Y: ob.Y}, ob.R+clearance) {
			return ob, true
		}
	}
	return core.Obstacle{}, false
}

// Heading returns the bearing in radians from a to b.
func Heading(a, b core.Point) float64 {
	return math.Atan2(b.Y-a.Y, b.X-a.X)
}
