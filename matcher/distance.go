package matcher

// Distance returns the wrap-around magnitude distance between two samples drawn from
// [0, maxValue): with d = |a-b| it is min(d, maxValue-d+1).
//
// The +1 makes the far side of the circle one step longer than a plain modular
// distance, so the result can reach maxValue/2+1. Existing renders depend on it.
func Distance(a, b Sample, maxValue uint64) uint32 {
	var d uint64
	if a > b {
		d = uint64(a - b)
	} else {
		d = uint64(b - a)
	}
	if wrap := maxValue - d + 1; wrap < d {
		return uint32(wrap)
	}
	return uint32(d)
}
