package task

import "time"

// Backoff computes the retry delay for attempt (the RetryCount value
// after incrementing), per spec §4.7 step 5:
//
//	backoff_ms * 2^(retry_count-1)
//
// attempt must be >= 1; callers pass the post-increment RetryCount.
func Backoff(baseMs int64, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	ms := baseMs
	for i := 1; i < attempt; i++ {
		ms *= 2
	}
	return time.Duration(ms) * time.Millisecond
}
