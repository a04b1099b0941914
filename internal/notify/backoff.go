package notify

import (
	"time"

	"sentinel/internal/store"
)

// maxBackoffExponent keeps the delay shift well inside time.Duration.
const maxBackoffExponent = 20

// NextAttempt decides the state of a task whose attempt at retryCount just
// failed. Once retryCount has reached maxRetries the task fails permanently
// with its count unchanged. Otherwise the count is incremented and the next
// attempt waits 2^count minutes, which gives +2m, +4m, +8m between attempts.
func NextAttempt(retryCount, maxRetries int, now time.Time, lastError string) store.DeliveryFailure {
	if retryCount >= maxRetries {
		return store.DeliveryFailure{
			Status:         store.NotificationFailed,
			RetryCount:     retryCount,
			NextEligibleAt: now,
			LastError:      lastError,
		}
	}
	next := retryCount + 1
	exponent := next
	if exponent > maxBackoffExponent {
		exponent = maxBackoffExponent
	}
	return store.DeliveryFailure{
		Status:         store.NotificationPending,
		RetryCount:     next,
		NextEligibleAt: now.Add(time.Duration(1<<exponent) * time.Minute),
		LastError:      lastError,
	}
}
