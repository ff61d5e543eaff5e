package agent

import (
	"fmt"
	"strings"

	"github.com/sentinelops/backend/internal/config"
	"github.com/sentinelops/backend/internal/core"
	"github.com/sentinelops/backend/internal/geometry"
)

// Tool names as they appear in the thought chain.
const (
	toolAssess       = "assess_environment"
	toolCheckPolicy  = "check_policy"
	toolSubmitAction = "submit_action"
	toolReplan       = "replan"
	toolGracefulStop = "graceful_stop"
)

// assessEnvironment summarizes the hazards visible in the current telemetry
// and world snapshot. Pure.
func assessEnvironment(tel core.Telemetry, world *core.World, snap *config.PolicySnapshot) string {
	var notes []string

	if tel.HumanDetected && tel.HumanConf >= snap.MinHumanConf {
		switch {
		case tel.HumanDistanceM <= snap.StopRadiusM:
			notes = append(notes, fmt.Sprintf("human at %.2fm inside stop radius", tel.HumanDistanceM))
		case tel.HumanDistanceM < snap.SlowRadiusM:
			notes = append(notes, fmt.Sprintf("human at %.2fm, slow zone", tel.HumanDistanceM))
		}
	}
	if tel.NearestObstacleM < snap.CollisionRadius {
		notes = append(notes, fmt.Sprintf("obstacle at %.2fm inside collision radius", tel.NearestObstacleM))
	}
	if world != nil {
		for _, ob := range world.Obstacles {
			d := geometry.Dist(core.Point{X: tel.X, Y: tel.Y}, core.Point{X: ob.X, Y: ob.Y})
			if d < 3.0 {
				notes = append(notes, fmt.Sprintf("mapped obstacle at (%.1f,%.1f) r=%.1f within %.1fm", ob.X, ob.Y, ob.R, d))
			}
		}
	}
	if tel.Battery > 0 && tel.Battery < snap.BatteryMinPct {
		notes = append(notes, fmt.Sprintf("battery %.0f%% below reserve", tel.Battery))
	}
	if limit := snap.ZoneLimit(tel.Zone); tel.Zone != "" {
		notes = append(notes, fmt.Sprintf("zone %q speed limit %.1f", tel.Zone, limit))
	}

	if len(notes) == 0 {
		return "no hazards detected"
	}
	return strings.Join(notes, "; ")
}
