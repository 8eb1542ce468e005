package channel

import "time"

// Backoff computes reconnect delays: Base doubled per attempt, capped at Max
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

// Delay returns the wait before retry number attempt, counting from zero.
// A non-positive Max disables the cap.
func (b Backoff) Delay(attempt int) time.Duration {
	delay := b.Base
	for i := 0; i < attempt; i++ {
		if b.Max > 0 && delay > b.Max/2 {
			return b.Max
		}
		delay *= 2
	}
	if b.Max > 0 && delay > b.Max {
		return b.Max
	}
	return delay
}
