package service

import (
	"context"
	"errors"
	"time"

	"github.com/aussiebroadwan/tenantgate/internal/gateway/ledger"
	"github.com/aussiebroadwan/tenantgate/internal/gateway/metrics"
	"github.com/aussiebroadwan/tenantgate/internal/gateway/store"
	"github.com/aussiebroadwan/tenantgate/pkg/slogx"
	"github.com/cenkalti/backoff/v4"
)

// DefaultRetryBackoff is the pause before the single retry of a failed read.
const DefaultRetryBackoff = 50 * time.Millisecond

// isAnswer reports whether err is a definite answer from the store rather
// than a failure to reach it.
func isAnswer(err error) bool {
	return errors.Is(err, store.ErrNotFound) ||
		errors.Is(err, ledger.ErrNotFound) ||
		errors.Is(err, ledger.ErrExpired) ||
		errors.Is(err, context.Canceled)
}

// retryRead runs fn and, if it fails with anything other than a definite
// answer, runs it once more after wait. Only idempotent reads go through
// here.
func retryRead[T any](ctx context.Context, m *metrics.Metrics, wait time.Duration, op string, fn func() (T, error)) (T, error) {
	if wait <= 0 {
		wait = DefaultRetryBackoff
	}

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = wait
	exp.RandomizationFactor = 0
	b := backoff.WithContext(backoff.WithMaxRetries(exp, 1), ctx)

	attempt := 0
	return backoff.RetryNotifyWithData[T](func() (T, error) {
		attempt++
		v, err := fn()
		if err != nil && isAnswer(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, b, func(err error, next time.Duration) {
		m.Retry(op)
		slogx.FromContext(ctx).Warn("store read failed, retrying",
			"op", op,
			"attempt", attempt,
			"backoff", next,
			"err", err,
		)
	})
}
