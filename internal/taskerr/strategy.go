package taskerr

import "time"

// RecoveryStrategy describes how the retry policy should treat a failure
// of a given Code.
type RecoveryStrategy struct {
	Retryable         bool
	MaxRetries        int
	BackoffMs         int64
	RequiresUserInput bool
	Cleanup           func()
}

// DefaultStrategy is used for any code with no explicit entry in the
// strategy table.
var DefaultStrategy = RecoveryStrategy{
	Retryable:  true,
	MaxRetries: 3,
	BackoffMs:  int64(time.Second / time.Millisecond),
}

var strategies = map[Code]RecoveryStrategy{
	Unauthorized: {
		Retryable:         false,
		RequiresUserInput: true,
	},
	InvalidInput: {
		Retryable:         false,
		RequiresUserInput: true,
	},
	NotFound: {
		Retryable: false,
	},
	RateLimited: {
		Retryable:  true,
		MaxRetries: 5,
		BackoffMs:  2000,
	},
	ServiceUnavailable: {
		Retryable:  true,
		MaxRetries: 5,
		BackoffMs:  1000,
	},
	Internal: {
		Retryable:  true,
		MaxRetries: 3,
		BackoffMs:  1000,
	},
	Network: {
		Retryable:  true,
		MaxRetries: 4,
		BackoffMs:  500,
	},
	Validation: {
		Retryable:         false,
		RequiresUserInput: true,
	},
	TaskExecutionFailed: {
		Retryable:  true,
		MaxRetries: 3,
		BackoffMs:  1000,
	},
	TaskTimeout: {
		Retryable:  true,
		MaxRetries: 3,
		BackoffMs:  2000,
	},
	TaskCancelled: {
		Retryable: false,
	},
	TaskValidationFailed: {
		Retryable:         false,
		RequiresUserInput: true,
	},
	TaskDependencyFailed: {
		Retryable:  true,
		MaxRetries: 2,
		BackoffMs:  3000,
	},
	Configuration: {
		Retryable:         false,
		RequiresUserInput: true,
	},
	ResourceExhausted: {
		Retryable:  true,
		MaxRetries: 2,
		BackoffMs:  5000,
	},
	ConcurrentRequestsLimit: {
		Retryable:  true,
		MaxRetries: 5,
		BackoffMs:  250,
	},
	NetworkUnavailable: {
		Retryable:  true,
		MaxRetries: 5,
		BackoffMs:  1000,
	},
	ConnectionReset: {
		Retryable:  true,
		MaxRetries: 4,
		BackoffMs:  500,
	},
	Timeout: {
		Retryable:  true,
		MaxRetries: 3,
		BackoffMs:  1500,
	},
}

// StrategyFor looks up the recovery strategy for a code, falling back to
// DefaultStrategy when the code is unrecognized.
func StrategyFor(code Code) RecoveryStrategy {
	if s, ok := strategies[code]; ok {
		return s
	}
	return DefaultStrategy
}

// SetStrategy allows a host to override the default strategy for a code,
// e.g. to tune MaxRetries per deployment.
func SetStrategy(code Code, strat RecoveryStrategy) {
	strategies[code] = strat
}
