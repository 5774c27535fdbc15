package fallback

// SelectVictim picks the process to reclaim memory from. Processes that are
// not terminable, and the requester itself, are never chosen. Among the rest
// the lowest priority wins; ties go to the least recently run process and
// then to the lowest PID so the choice is deterministic.
func SelectVictim(snapshot []Process, requester PID) (Process, bool) {
	var best Process
	found := false
	for _, p := range snapshot {
		if !p.Terminable || (requester != 0 && p.PID == requester) {
			continue
		}
		if !found || lessEligible(p, best) {
			best = p
			found = true
		}
	}
	return best, found
}

// lessEligible reports whether a should be reclaimed before b.
func lessEligible(a, b Process) bool {
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	if !a.LastRun.Equal(b.LastRun) {
		return a.LastRun.Before(b.LastRun)
	}
	return a.PID < b.PID
}
