package config

import "todolist/storage"

// Policy builds the storage retry policy described by r.
func (r RetryConfig) Policy() storage.RetryPolicy {
	if r.Backoff == BackoffExponential {
		return storage.ExponentialBackoff{Initial: r.Delay, Max: r.MaxDelay, MaxAttempts: r.MaxAttempts}
	}
	return storage.ConstantBackoff{Delay: r.Delay, MaxAttempts: r.MaxAttempts}
}
