package run

// stagnationDetector counts executed ticks that fail to make progress toward
// the goal. It never aborts the run; it only signals the operator.
type stagnationDetector struct {
	cycles  int
	eps     float64
	minDist float64

	prevDist float64
	seen     bool
	stagnant int
}

func newStagnationDetector(cycles int, eps, minDist float64) *stagnationDetector {
	return &stagnationDetector{cycles: cycles, eps: eps, minDist: minDist}
}

// Update records the goal distance after an executed tick. Returns true when
// the stagnation threshold is reached; the counter resets so the alert fires
// once per episode.
func (d *stagnationDetector) Update(dist float64) bool {
	if !d.seen {
		d.seen = true
		d.prevDist = dist
		return false
	}

	progress := d.prevDist - dist
	d.prevDist = dist

	if dist <= d.minDist {
		d.stagnant = 0
		return false
	}
	if progress > d.eps {
		d.stagnant = 0
		return false
	}

	d.stagnant++
	if d.stagnant >= d.cycles {
		d.stagnant = 0
		return true
	}
	return false
}
