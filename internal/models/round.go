// internal/models/round.go
package models

import "time"

// RoundOutcome is what ApplyRound decided.
type RoundOutcome struct {
	Attempted int
	Succeeded int
	Failed    int
	Status    Status
}

// BackoffFunc returns the delay before the next sweep may retry, given the
// retry count already incremented for the failed round.
type BackoffFunc func(retryCount int) time.Duration

// ApplyRound folds one round of channel results into n and computes the new
// overall status. results holds one entry per attempted channel; a nil error
// is a success. The caller persists n afterwards.
func (n *Notification) ApplyRound(results map[Channel]error, now time.Time, backoff BackoffFunc) RoundOutcome {
	out := RoundOutcome{Attempted: len(results)}

	for _, c := range AllChannels {
		err, attempted := results[c]
		if !attempted {
			continue
		}
		ds := n.DeliveryStatus.For(c)
		if ds.Sent {
			continue
		}
		if err == nil {
			sentAt := now
			ds.Sent = true
			ds.SentAt = &sentAt
			ds.Error = ""
			out.Succeeded++
			continue
		}
		ds.Error = err.Error()
		out.Failed++
	}

	n.UpdatedAt = now

	if n.AllEnabledSent() {
		n.Status = StatusSent
		if n.SentAt == nil {
			sentAt := now
			n.SentAt = &sentAt
		}
		out.Status = n.Status
		return out
	}

	if out.Failed > 0 {
		if n.RetryCount < n.MaxRetries {
			n.RetryCount++
		}
		if n.RetryCount >= n.MaxRetries {
			n.Status = StatusFailed
			out.Status = n.Status
			return out
		}
	}

	// Retries remain, or nothing failed yet some enabled channel is still
	// undelivered (a sender reported neither outcome).
	n.Status = StatusPending
	if out.Failed > 0 && backoff != nil {
		n.ScheduledAt = now.Add(backoff(n.RetryCount))
	}
	out.Status = n.Status
	return out
}

// ExponentialBackoff doubles base per retry and caps at max.
func ExponentialBackoff(base, max time.Duration) BackoffFunc {
	return func(retryCount int) time.Duration {
		if base <= 0 {
			return 0
		}
		d := base
		for i := 1; i < retryCount; i++ {
			d *= 2
			if max > 0 && d >= max {
				return max
			}
		}
		if max > 0 && d > max {
			return max
		}
		return d
	}
}
