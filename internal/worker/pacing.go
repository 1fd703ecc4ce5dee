package worker

import "time"

// SleepDuration returns the end-of-rotation pause for a worker: the base
// interval plus slot mod population whole seconds, so workers of one pool
// wake at staggered times.
func SleepDuration(base time.Duration, slot, population int) time.Duration {
	if population < 1 {
		population = 1
	}
	offset := slot % population
	if offset < 0 {
		offset += population
	}
	return base + time.Duration(offset)*time.Second
}
