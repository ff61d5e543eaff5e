package agent

import (
	"math"

	"github.com/sentinelops/backend/internal/config"
	"github.com/sentinelops/backend/internal/core"
	"github.com/sentinelops/backend/internal/geometry"
)

// PlanPath returns the waypoints from `from` to `to`: the straight segment
// when it clears every known obstacle, otherwise a single detour waypoint
// offset perpendicular to the first blocking obstacle. Multi-obstacle mazes
// are out of scope; governance re-checks every leg anyway.
func PlanPath(from, to core.Point, world *core.World, snap *config.PolicySnapshot) []core.Point {
	if world == nil || len(world.Obstacles) == 0 {
		return []core.Point{to}
	}

	ob, blocked := geometry.FirstBlockingObstacle(from, to, world.Obstacles, snap.MinClearanceM)
	if !blocked {
		return []core.Point{to}
	}

	detour, ok := detourAround(from, to, ob, world, snap)
	if !ok {
		return []core.Point{to}
	}
	return []core.Point{detour, to}
}

// detourAround picks the perpendicular offset side whose legs are clear and
// inside the fence. Falls back to whichever side stays in the fence.
func detourAround(from, to core.Point, ob core.Obstacle, world *core.World, snap *config.PolicySnapshot) (core.Point, bool) {
	if from == to {
		return core.Point{}, false
	}
	// Unit perpendicular to the travel heading.
	h := geometry.Heading(from, to)
	px, py := -math.Sin(h), math.Cos(h)

	sides := []core.Point{
		{X: ob.X + px*snap.DetourOffsetM, Y: ob.Y + py*snap.DetourOffsetM},
		{X: ob.X - px*snap.DetourOffsetM, Y: ob.Y - py*snap.DetourOffsetM},
	}

	fence := world.Geofence
	var fallback *core.Point
	for i := range sides {
		wp := sides[i]
		if (fence != core.Geofence{}) && !fence.Contains(wp) {
			continue
		}
		if fallback == nil {
			fallback = &sides[i]
		}
		_, leg1 := geometry.FirstBlockingObstacle(from, wp, world.Obstacles, snap.MinClearanceM)
		_, leg2 := geometry.FirstBlockingObstacle(wp, to, world.Obstacles, snap.MinClearanceM)
		if !leg1 && !leg2 {
			return wp, true
		}
	}
	if fallback != nil {
		return *fallback, true
	}
	return core.Point{}, false
}

// clampSpeed bounds a proposed speed to the actuator envelope and the zone
// limit.
func clampSpeed(v float64, zone string, snap *config.PolicySnapshot) float64 {
	if limit := snap.ZoneLimit(zone); v > limit {
		v = limit
	}
	return math.Max(0.1, math.Min(1.0, v))
}
