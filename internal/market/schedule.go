package market

import "time"

// UntilCandleClose returns how long to wait from now until shortly before the
// next candle-close boundary. The buffer is subtracted so the worker wakes
// slightly early and the fetch retry covers the gap. Only intervals that
// divide an hour evenly produce aligned boundaries; a cycle that overruns a
// boundary gets the delay to the one after it, so overdue cycles are skipped
// rather than queued.
func UntilCandleClose(now time.Time, tfMinutes int, buffer time.Duration) time.Duration {
	now = now.UTC()
	minute := now.Minute()
	second := now.Second()

	timesPassed := minute / tfMinutes
	nextMultiple := (timesPassed + 1) * tfMinutes

	deltaMin := nextMultiple - minute
	if deltaMin < 0 {
		deltaMin += tfMinutes
	}

	remainSec := 60 - second
	total := time.Duration(deltaMin*60+remainSec)*time.Second - buffer
	if total < 0 {
		return 0
	}
	return total
}
